// Package validator replays synthesized tools offline against recorded
// sessions. No tool is ever executed: the projection is computed purely over
// stored data.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/storage"
	"github.com/southpawriter02/twinraven/pkg/synth"
)

// ErrInsufficientData is returned when fewer historical sessions exist than
// the replay minimum.
var ErrInsufficientData = errors.New("insufficient replay sessions")

// Config tunes offline validation.
type Config struct {
	MinReplaySessions    int
	EquivalenceThreshold float64
	MaxLatencyRegression float64
	SimilarityMethod     models.SimilarityMethod
	// ApprovalRequired stops a passing tool at testing instead of promoting.
	ApprovalRequired bool
	// Since/Until bound the session search window.
	Since time.Time
	Until time.Time
}

// DefaultConfig returns the validation defaults.
func DefaultConfig() Config {
	return Config{
		MinReplaySessions:    10,
		EquivalenceThreshold: 0.95,
		MaxLatencyRegression: 1.2,
		SimilarityMethod:     models.SimilarityCosineTFIDF,
	}
}

// Validator checks a draft or testing tool against recorded history.
type Validator struct {
	store storage.EventStore
	cfg   Config
}

// New creates a validator.
func New(store storage.EventStore, cfg Config) *Validator {
	if cfg.MinReplaySessions <= 0 {
		cfg.MinReplaySessions = DefaultConfig().MinReplaySessions
	}
	if cfg.EquivalenceThreshold <= 0 {
		cfg.EquivalenceThreshold = DefaultConfig().EquivalenceThreshold
	}
	if cfg.MaxLatencyRegression <= 0 {
		cfg.MaxLatencyRegression = DefaultConfig().MaxLatencyRegression
	}
	if cfg.SimilarityMethod == "" {
		cfg.SimilarityMethod = DefaultConfig().SimilarityMethod
	}
	return &Validator{store: store, cfg: cfg}
}

// replaySession is one selected session's reconstruction.
type replaySession struct {
	sessionID string
	events    []*models.Event
}

// Validate replays the tool and applies the resulting lifecycle transition:
// pass promotes (or parks at testing when approval is required), fail
// returns the tool to draft with the failure reasons attached to the result.
func (v *Validator) Validate(ctx context.Context, tool *models.SynthesizedTool) (*models.ValidationResult, error) {
	if tool.Status != models.StatusDraft && tool.Status != models.StatusTesting {
		return nil, fmt.Errorf("tool %s is %s, only draft or testing tools can be validated", tool.Slug, tool.Status)
	}

	sessions, err := v.selectSessions(ctx, tool)
	if err != nil {
		return nil, err
	}

	tools := make([]string, len(tool.Steps))
	for i, s := range tool.Steps {
		tools[i] = s.ToolID
	}

	var (
		similarities []float64
		parityOK     = true
		compositeSum float64
		originalSum  float64
	)
	for _, rs := range sessions {
		matched := matchChain(rs.events, tools)
		if matched == nil {
			continue
		}
		warnLowOutcomeCoverage(rs.sessionID, matched)

		similarities = append(similarities, v.scoreSession(tool, matched))

		orig, comp := sessionLatency(tool, matched)
		originalSum += orig
		compositeSum += comp

		if !errorParityHolds(tool, matched) {
			parityOK = false
		}
	}

	mean, minSim := aggregate(similarities)
	latencyRatio := 1.0
	if originalSum > 0 {
		latencyRatio = compositeSum / originalSum
	}

	result := &models.ValidationResult{
		ID:               uuid.New(),
		ToolSlug:         tool.Slug,
		ToolVersion:      tool.Version,
		SessionsReplayed: len(similarities),
		MeanSimilarity:   mean,
		MinSimilarity:    minSim,
		SimilarityMethod: v.cfg.SimilarityMethod,
		Threshold:        v.cfg.EquivalenceThreshold,
		ErrorParity:      parityOK,
		LatencyRatio:     latencyRatio,
		ValidatedAt:      time.Now().UTC(),
	}

	if mean < v.cfg.EquivalenceThreshold {
		result.FailureReasons = append(result.FailureReasons,
			fmt.Sprintf("mean similarity %.3f below threshold %.3f", mean, v.cfg.EquivalenceThreshold))
	}
	if latencyRatio > v.cfg.MaxLatencyRegression {
		result.FailureReasons = append(result.FailureReasons,
			fmt.Sprintf("latency ratio %.3f exceeds limit %.3f", latencyRatio, v.cfg.MaxLatencyRegression))
	}
	if !parityOK {
		result.FailureReasons = append(result.FailureReasons,
			"error strategy does not cover every observed failure")
	}
	result.Passed = len(result.FailureReasons) == 0

	v.applyTransition(tool, result)
	return result, nil
}

// selectSessions picks the most recent sessions containing the chain.
func (v *Validator) selectSessions(ctx context.Context, tool *models.SynthesizedTool) ([]replaySession, error) {
	ids, err := v.store.GetSessions(ctx, v.cfg.Since, v.cfg.Until, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	tools := make([]string, len(tool.Steps))
	for i, s := range tool.Steps {
		tools[i] = s.ToolID
	}

	var selected []replaySession
	for _, sid := range ids {
		events, err := v.store.GetBySession(ctx, sid, storage.OrderTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", sid, err)
		}
		if matchChain(events, tools) == nil {
			continue
		}
		selected = append(selected, replaySession{sessionID: sid, events: events})
		if len(selected) == v.cfg.MinReplaySessions {
			break
		}
	}
	if len(selected) < v.cfg.MinReplaySessions {
		return nil, fmt.Errorf("%w: found %d sessions, need %d",
			ErrInsufficientData, len(selected), v.cfg.MinReplaySessions)
	}
	return selected, nil
}

// scoreSession projects the composite over one recorded execution and
// compares the projected final output with the recorded one.
func (v *Validator) scoreSession(tool *models.SynthesizedTool, matched []*models.Event) float64 {
	recorded := ""
	if last := matched[len(matched)-1].OutputSummary; last != nil {
		recorded = *last
	}
	projected, ok := project(tool, matched)
	if !ok {
		return 0
	}

	switch v.cfg.SimilarityMethod {
	case models.SimilarityExactMatch:
		return exactMatch(projected, recorded)
	default:
		return cosineTFIDF(projected, recorded)
	}
}

// project resolves every step's inputs over recorded data: composite
// parameters, upstream recorded outputs, or literal constants. It returns
// the projected final output and whether every reference resolved.
func project(tool *models.SynthesizedTool, matched []*models.Event) (string, bool) {
	external := externalInputs(tool, matched)

	for _, step := range tool.Steps {
		for key, source := range step.InputMapping {
			if name, ok := synth.ParseParameterSource(source); ok {
				if _, present := external[name]; !present {
					slog.Debug("Projection missing external parameter",
						"slug", tool.Slug, "step", step.Index, "key", key, "parameter", name)
					return "", false
				}
				continue
			}
			if upstream, _, ok := synth.ParseWiringSource(source); ok {
				if upstream < 0 || upstream >= len(matched) || matched[upstream].OutputSummary == nil {
					return "", false
				}
				continue
			}
			// Literal constant: always resolvable.
		}
	}

	if last := matched[len(matched)-1].OutputSummary; last != nil {
		return *last, true
	}
	return "", true
}

// externalInputs recovers the composite call's inputs for one session: the
// recorded parameters at the first matched step minus keys covered by
// internal wiring.
func externalInputs(tool *models.SynthesizedTool, matched []*models.Event) map[string]any {
	out := make(map[string]any, len(matched[0].InputParams))
	wired := tool.InternalWiring[0]
	for k, val := range matched[0].InputParams {
		if _, isWired := wired[k]; isWired {
			continue
		}
		out[k] = val
	}
	return out
}

// sessionLatency returns the original serial latency and the composite's
// estimate: the same sum minus parallel savings, where each parallel group
// saves (sum - max) of its members.
func sessionLatency(tool *models.SynthesizedTool, matched []*models.Event) (original, composite float64) {
	for _, e := range matched {
		original += float64(e.LatencyMS)
	}
	composite = original
	for _, group := range parallelGroups(tool) {
		var sum, maxLat float64
		for _, idx := range group {
			if idx >= len(matched) {
				continue
			}
			lat := float64(matched[idx].LatencyMS)
			sum += lat
			if lat > maxLat {
				maxLat = lat
			}
		}
		composite -= sum - maxLat
	}
	return original, composite
}

// parallelGroups unions steps connected by parallelizable_with edges.
func parallelGroups(tool *models.SynthesizedTool) [][]int {
	parent := make([]int, len(tool.Steps))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}
	for _, step := range tool.Steps {
		for _, sib := range step.ParallelizableWith {
			if sib >= 0 && sib < len(tool.Steps) {
				union(step.Index, sib)
			}
		}
	}
	groups := make(map[int][]int)
	for i := range tool.Steps {
		root := find(i)
		groups[root] = append(groups[root], i)
	}
	var out [][]int
	for _, g := range groups {
		if len(g) > 1 {
			out = append(out, g)
		}
	}
	return out
}

// errorParityHolds checks that every failure observed in the original chain
// is covered by the strategy: a retry policy, a fallback sequence, or an
// explicit abort clause. The implicit default behavior does not count.
func errorParityHolds(tool *models.SynthesizedTool, matched []*models.Event) bool {
	for i, e := range matched {
		if e.Outcome != models.OutcomeFailure {
			continue
		}
		if _, ok := tool.ErrorStrategy.StepRetries[i]; ok {
			continue
		}
		if _, ok := tool.ErrorStrategy.StepFallbacks[i]; ok {
			continue
		}
		if containsString(tool.ErrorStrategy.AbortConditions, synth.AbortCondition(i)) {
			continue
		}
		return false
	}
	return true
}

// warnLowOutcomeCoverage surfaces sessions whose matched events are mostly
// non-terminal; failure-rate statistics degrade silently on such data.
func warnLowOutcomeCoverage(sessionID string, matched []*models.Event) {
	partial := 0
	for _, e := range matched {
		if e.Outcome == models.OutcomePartial {
			partial++
		}
	}
	if partial*2 > len(matched) {
		slog.Warn("Session has low outcome coverage, failure statistics may be unreliable",
			"session_id", sessionID, "partial", partial, "events", len(matched))
	}
}

func (v *Validator) applyTransition(tool *models.SynthesizedTool, result *models.ValidationResult) {
	// Validation begins: a draft tool enters testing.
	if tool.Status == models.StatusDraft {
		tool.Status = models.StatusTesting
	}
	switch {
	case result.Passed && !v.cfg.ApprovalRequired:
		if models.CanTransition(tool.Status, models.StatusPromoted) {
			now := time.Now().UTC()
			tool.Status = models.StatusPromoted
			tool.PromotedAt = &now
		}
	case result.Passed:
		// Stays in testing pending approval.
	default:
		tool.Status = models.StatusDraft
	}
	slog.Info("Validation finished",
		"slug", tool.Slug, "passed", result.Passed, "status", tool.Status,
		"mean_similarity", result.MeanSimilarity, "latency_ratio", result.LatencyRatio)
}

func matchChain(events []*models.Event, tools []string) []*models.Event {
	matched := make([]*models.Event, 0, len(tools))
	i := 0
	for _, e := range events {
		if i < len(tools) && e.ToolID == tools[i] {
			matched = append(matched, e)
			i++
		}
	}
	if i < len(tools) {
		return nil
	}
	return matched
}

func aggregate(vals []float64) (mean, minVal float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	minVal = vals[0]
	var sum float64
	for _, v := range vals {
		sum += v
		if v < minVal {
			minVal = v
		}
	}
	return sum / float64(len(vals)), minVal
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
