// Package llm defines the LLM provider boundary: a request/response oracle
// with retries and a schema contract.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrResponseSchema is returned when the provider's output does not
	// conform to the requested response schema.
	ErrResponseSchema = errors.New("response violates schema")

	// ErrTimeout is returned when the provider did not answer in time.
	ErrTimeout = errors.New("provider timed out")
)

// ProviderError wraps a provider-side failure with its HTTP status, when known.
type ProviderError struct {
	StatusCode int
	Message    string

	retryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// GenerateRequest is one completion request. When ResponseSchema is set the
// provider is asked for JSON conforming to it and Parsed is populated on the
// response.
type GenerateRequest struct {
	Prompt         string
	ResponseSchema map[string]any
	MaxTokens      int
	Temperature    float64
}

// GenerateResponse is the provider's answer plus accounting metadata.
type GenerateResponse struct {
	Content      string
	Parsed       map[string]any
	Model        string
	InputTokens  int
	OutputTokens int
	LatencyMS    int64
}

// Provider is the request/response oracle every LLM-backed component
// depends on. Concurrent calls are independent.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}
