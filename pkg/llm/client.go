package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultTimeout     = 120 * time.Second
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// Client is an OpenAI-compatible chat-completions Provider over HTTP.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	maxAttempts int
	baseDelay   time.Duration
}

// ClientConfig configures the HTTP provider.
type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
}

// NewClient creates an HTTP provider. A missing API key or model is a
// configuration error surfaced immediately, before any request is made.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm provider: API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm provider: model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   defaultBaseDelay,
	}, nil
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate performs one completion with retries on transient HTTP statuses.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.ResponseSchema != nil {
		body.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "response",
				"schema": req.ResponseSchema,
				"strict": true,
			},
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	content, model, usage, err := c.executeWithRetry(ctx, payload)
	if err != nil {
		return nil, err
	}

	out := &GenerateResponse{
		Content:      content,
		Model:        model,
		InputTokens:  usage[0],
		OutputTokens: usage[1],
		LatencyMS:    time.Since(start).Milliseconds(),
	}
	if req.ResponseSchema != nil {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(content), &parsed); err != nil {
			return nil, fmt.Errorf("%w: not valid JSON: %v", ErrResponseSchema, err)
		}
		out.Parsed = parsed
	}
	return out, nil
}

// executeWithRetry retries transient statuses (429, 500, 502, 503) with
// exponential backoff, honoring a server-advertised Retry-After delay.
func (c *Client) executeWithRetry(ctx context.Context, payload []byte) (string, string, [2]int, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<uint(attempt-1))
			if retryAfter := retryAfterFromErr(lastErr); retryAfter > 0 {
				delay = retryAfter
			}
			slog.Debug("Retrying LLM request", "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", "", [2]int{}, ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return "", "", [2]int{}, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
				lastErr = fmt.Errorf("%w: %v", ErrTimeout, err)
			} else {
				lastErr = &ProviderError{Message: err.Error()}
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = &ProviderError{Message: readErr.Error()}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var parsed chatResponse
			if err := json.Unmarshal(data, &parsed); err != nil {
				return "", "", [2]int{}, &ProviderError{Message: fmt.Sprintf("malformed response: %v", err)}
			}
			if len(parsed.Choices) == 0 {
				return "", "", [2]int{}, &ProviderError{Message: "response contained no choices"}
			}
			usage := [2]int{parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens}
			return parsed.Choices[0].Message.Content, parsed.Model, usage, nil
		}

		perr := &ProviderError{StatusCode: resp.StatusCode, Message: string(truncateBytes(data, 512))}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				perr.retryAfter = time.Duration(secs) * time.Second
			}
		}
		if !isRetryableStatus(resp.StatusCode) {
			return "", "", [2]int{}, perr
		}
		lastErr = perr
	}

	return "", "", [2]int{}, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}

func isClientTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func retryAfterFromErr(err error) time.Duration {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.retryAfter
	}
	return 0
}

func truncateBytes(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}
	return data[:n]
}
