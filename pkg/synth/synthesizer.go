package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/southpawriter02/twinraven/pkg/llm"
	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/storage"
)

// Config tunes the synthesis stage.
type Config struct {
	// SampleLimit is how many observed executions the prompt includes.
	SampleLimit int
	// MaxTokens bounds the LLM response.
	MaxTokens int
	// MaxParallelSteps caps parallel siblings per step.
	MaxParallelSteps int
}

// DefaultConfig returns the synthesis defaults.
func DefaultConfig() Config {
	return Config{SampleLimit: 3, MaxTokens: 4000, MaxParallelSteps: 4}
}

// Synthesizer proposes composite tools from candidate chains. The LLM is an
// oracle behind a schema contract; everything checkable is checked locally.
type Synthesizer struct {
	store    storage.EventStore
	provider llm.Provider
	cfg      Config
}

// New creates a synthesizer.
func New(store storage.EventStore, provider llm.Provider, cfg Config) *Synthesizer {
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = DefaultConfig().SampleLimit
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.MaxParallelSteps <= 0 {
		cfg.MaxParallelSteps = DefaultConfig().MaxParallelSteps
	}
	return &Synthesizer{store: store, provider: provider, cfg: cfg}
}

type llmResponse struct {
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Steps       []llmStep      `json:"steps"`
}

type llmStep struct {
	Index              int               `json:"index"`
	ToolID             string            `json:"tool_id"`
	InputMapping       map[string]string `json:"input_mapping"`
	Condition          string            `json:"condition"`
	ParallelizableWith []int             `json:"parallelizable_with"`
	TimeoutMS          *int              `json:"timeout_ms"`
}

// Synthesize builds a draft composite tool (version 1) for one chain. One
// retry is permitted when the LLM response fails validation; the validator's
// errors are fed back into the second prompt.
func (s *Synthesizer) Synthesize(ctx context.Context, chain *models.CandidateChain) (*models.SynthesizedTool, error) {
	samples, err := fetchSamples(ctx, s.store, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve samples: %w", err)
	}
	hints := analyzeFlow(samples, chain.Tools)
	builder := &promptBuilder{sampleLimit: s.cfg.SampleLimit}

	var feedback []string
	var resp *llmResponse
	for attempt := 0; attempt < 2; attempt++ {
		prompt := builder.build(chain, hints, samples, feedback)
		generated, err := s.provider.Generate(ctx, llm.GenerateRequest{
			Prompt:         prompt,
			ResponseSchema: responseSchema,
			MaxTokens:      s.cfg.MaxTokens,
			Temperature:    0,
		})
		if err != nil {
			return nil, fmt.Errorf("synthesis generation failed: %w", err)
		}

		parsed, errs := s.parseAndValidate(generated, chain)
		if len(errs) == 0 {
			resp = parsed
			break
		}
		feedback = errs
		slog.Warn("Synthesis response rejected", "chain_id", chain.ID, "attempt", attempt+1, "errors", errs)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, feedback)
	}

	steps := make([]models.StepDefinition, len(resp.Steps))
	wiring := make(map[int]map[string]string)
	for i, st := range resp.Steps {
		steps[i] = models.StepDefinition{
			Index:              st.Index,
			ToolID:             st.ToolID,
			InputMapping:       st.InputMapping,
			Condition:          st.Condition,
			ParallelizableWith: st.ParallelizableWith,
			TimeoutMS:          st.TimeoutMS,
		}
		for key, source := range st.InputMapping {
			if _, _, ok := ParseWiringSource(source); ok {
				if wiring[st.Index] == nil {
					wiring[st.Index] = make(map[string]string)
				}
				wiring[st.Index][key] = source
			}
		}
	}

	reconcileParallelism(steps, wiring, s.cfg.MaxParallelSteps)

	now := time.Now().UTC()
	tool := &models.SynthesizedTool{
		Slug:           Slug(chain.Tools),
		Description:    resp.Description,
		Parameters:     resp.Parameters,
		InternalWiring: wiring,
		Steps:          steps,
		ErrorStrategy:  deriveErrorStrategy(samples, chain.Tools),
		SourceChainID:  chain.ID,
		Version:        1,
		Status:         models.StatusDraft,
		CreatedAt:      now,
	}

	slog.Info("Synthesized composite tool",
		"slug", tool.Slug, "steps", len(tool.Steps), "chain_id", chain.ID)
	return tool, nil
}

// parseAndValidate runs the structural schema check plus every semantic
// check on one LLM response. The returned strings are the feedback for the
// retry prompt.
func (s *Synthesizer) parseAndValidate(generated *llm.GenerateResponse, chain *models.CandidateChain) (*llmResponse, []string) {
	parsed := generated.Parsed
	if parsed == nil {
		if err := json.Unmarshal([]byte(generated.Content), &parsed); err != nil {
			return nil, []string{fmt.Sprintf("response is not valid JSON: %v", err)}
		}
	}

	if err := validateAgainstSchema(parsed); err != nil {
		return nil, []string{err.Error()}
	}

	raw, err := json.Marshal(parsed)
	if err != nil {
		return nil, []string{fmt.Sprintf("response re-marshal failed: %v", err)}
	}
	var resp llmResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, []string{fmt.Sprintf("response decode failed: %v", err)}
	}

	var errs []string
	if len(resp.Steps) != len(chain.Tools) {
		errs = append(errs, fmt.Sprintf("expected %d steps, got %d", len(chain.Tools), len(resp.Steps)))
		return nil, errs
	}
	for i, st := range resp.Steps {
		if st.Index != i {
			errs = append(errs, fmt.Sprintf("step %d has index %d, indices must be dense from 0", i, st.Index))
		}
		if st.ToolID != chain.Tools[i] {
			errs = append(errs, fmt.Sprintf("step %d tool_id %q does not match chain tool %q", i, st.ToolID, chain.Tools[i]))
		}
		for key, source := range st.InputMapping {
			if upstream, _, ok := ParseWiringSource(source); ok && upstream >= i {
				errs = append(errs, fmt.Sprintf("step %d input %q references step %d, wiring must point upstream", i, key, upstream))
			}
		}
		if st.Condition != "" {
			if err := ValidateCondition(st.Condition); err != nil {
				errs = append(errs, fmt.Sprintf("step %d condition rejected: %v", i, err))
			}
		}
		for _, sib := range st.ParallelizableWith {
			if sib < 0 || sib >= len(resp.Steps) || sib == i {
				errs = append(errs, fmt.Sprintf("step %d parallelizable_with index %d out of bounds", i, sib))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &resp, nil
}

var wiringSourceRe = regexp.MustCompile(`^\$\.steps\[(\d+)\]\.output\.(.+)$`)

// ParseWiringSource decodes a `$.steps[i].output.<field>` mapping source.
func ParseWiringSource(source string) (step int, field string, ok bool) {
	m := wiringSourceRe.FindStringSubmatch(source)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return n, m[2], true
}

// ParseParameterSource decodes a `$.parameters.<name>` mapping source.
func ParseParameterSource(source string) (name string, ok bool) {
	const prefix = "$.parameters."
	if len(source) > len(prefix) && source[:len(prefix)] == prefix {
		return source[len(prefix):], true
	}
	return "", false
}

// reconcileParallelism keeps a parallel edge only when neither side is a
// transitive ancestor of the other in the wiring dependency graph, then
// trims each step's siblings to the configured cap.
func reconcileParallelism(steps []models.StepDefinition, wiring map[int]map[string]string, maxParallel int) {
	ancestors := make([]map[int]bool, len(steps))
	for i := range steps {
		ancestors[i] = make(map[int]bool)
		for _, source := range wiring[i] {
			if upstream, _, ok := ParseWiringSource(source); ok && upstream < i {
				ancestors[i][upstream] = true
				for a := range ancestors[upstream] {
					ancestors[i][a] = true
				}
			}
		}
	}

	for i := range steps {
		var kept []int
		for _, sib := range steps[i].ParallelizableWith {
			if sib == i || sib < 0 || sib >= len(steps) {
				continue
			}
			if ancestors[i][sib] || ancestors[sib][i] {
				continue
			}
			kept = append(kept, sib)
			if len(kept) >= maxParallel {
				break
			}
		}
		steps[i].ParallelizableWith = kept
	}
}
