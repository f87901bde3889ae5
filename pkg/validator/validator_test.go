package validator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/storage"
	"github.com/southpawriter02/twinraven/pkg/synth"
)

var validatorBase = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type seededStep struct {
	tool    string
	inputs  map[string]any
	output  string
	latency int32
	outcome models.Outcome
}

func seedReplaySession(t *testing.T, store *storage.MemoryEventStore, session string, offset time.Duration, steps []seededStep) {
	t.Helper()
	ctx := context.Background()
	for j, step := range steps {
		out := step.output
		e := &models.Event{
			ID:            uuid.New(),
			SessionID:     session,
			ToolID:        step.tool,
			InputHash:     "0123456789abcdef",
			InputParams:   step.inputs,
			OutputSummary: &out,
			Timestamp:     validatorBase.Add(offset + time.Duration(j)*time.Second),
			LatencyMS:     step.latency,
			Outcome:       step.outcome,
		}
		require.NoError(t, store.Append(ctx, e))
	}
}

func chainSteps(doc string) []seededStep {
	return []seededStep{
		{"search", map[string]any{"query": "ravens"}, fmt.Sprintf(`{"top_hit":"%s"}`, doc), 400, models.OutcomeSuccess},
		{"read", map[string]any{"doc_id": doc}, "full text of " + doc, 350, models.OutcomeSuccess},
		{"summarize", map[string]any{"doc_id": doc}, "digest of " + doc, 250, models.OutcomeSuccess},
	}
}

func testTool() *models.SynthesizedTool {
	return &models.SynthesizedTool{
		Slug: "search-read-summarize",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		},
		InternalWiring: map[int]map[string]string{
			1: {"doc_id": "$.steps[0].output.top_hit"},
			2: {"doc_id": "$.steps[1].output.doc_id"},
		},
		Steps: []models.StepDefinition{
			{Index: 0, ToolID: "search", InputMapping: map[string]string{"query": "$.parameters.query"}},
			{Index: 1, ToolID: "read", InputMapping: map[string]string{"doc_id": "$.steps[0].output.top_hit"}},
			{Index: 2, ToolID: "summarize", InputMapping: map[string]string{"doc_id": "$.steps[1].output.doc_id"}},
		},
		ErrorStrategy: models.ErrorStrategy{DefaultBehavior: models.BehaviorAbort},
		SourceChainID: uuid.New(),
		Version:       1,
		Status:        models.StatusDraft,
		CreatedAt:     validatorBase,
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("passing replay promotes without approval", func(t *testing.T) {
		store := storage.NewMemoryEventStore()
		for i := 0; i < 3; i++ {
			seedReplaySession(t, store, fmt.Sprintf("v-s%d", i),
				time.Duration(i)*time.Minute, chainSteps(fmt.Sprintf("doc-%d", i)))
		}

		tool := testTool()
		v := New(store, Config{MinReplaySessions: 3, EquivalenceThreshold: 0.95,
			MaxLatencyRegression: 1.2, SimilarityMethod: models.SimilarityCosineTFIDF})
		result, err := v.Validate(ctx, tool)
		require.NoError(t, err)

		assert.True(t, result.Passed)
		assert.Equal(t, 3, result.SessionsReplayed)
		assert.GreaterOrEqual(t, result.MeanSimilarity, 0.95)
		assert.InDelta(t, 1.0, result.LatencyRatio, 1e-9)
		assert.True(t, result.ErrorParity)
		assert.Equal(t, models.StatusPromoted, tool.Status)
		assert.NotNil(t, tool.PromotedAt)
	})

	t.Run("approval required parks at testing", func(t *testing.T) {
		store := storage.NewMemoryEventStore()
		for i := 0; i < 3; i++ {
			seedReplaySession(t, store, fmt.Sprintf("a-s%d", i),
				time.Duration(i)*time.Minute, chainSteps("doc"))
		}

		tool := testTool()
		v := New(store, Config{MinReplaySessions: 3, EquivalenceThreshold: 0.9,
			MaxLatencyRegression: 1.2, SimilarityMethod: models.SimilarityExactMatch,
			ApprovalRequired: true})
		result, err := v.Validate(ctx, tool)
		require.NoError(t, err)
		assert.True(t, result.Passed)
		assert.Equal(t, models.StatusTesting, tool.Status)
	})

	t.Run("insufficient sessions fails and keeps draft", func(t *testing.T) {
		store := storage.NewMemoryEventStore()
		for i := 0; i < 3; i++ {
			seedReplaySession(t, store, fmt.Sprintf("i-s%d", i),
				time.Duration(i)*time.Minute, chainSteps("doc"))
		}

		tool := testTool()
		v := New(store, Config{MinReplaySessions: 10, EquivalenceThreshold: 0.95,
			MaxLatencyRegression: 1.2, SimilarityMethod: models.SimilarityCosineTFIDF})
		_, err := v.Validate(ctx, tool)
		assert.ErrorIs(t, err, ErrInsufficientData)
		assert.Equal(t, models.StatusDraft, tool.Status)
	})

	t.Run("uncovered failure breaks error parity", func(t *testing.T) {
		store := storage.NewMemoryEventStore()
		steps := chainSteps("doc")
		steps[1].outcome = models.OutcomeFailure
		for i := 0; i < 3; i++ {
			seedReplaySession(t, store, fmt.Sprintf("e-s%d", i), time.Duration(i)*time.Minute, steps)
		}

		tool := testTool()
		v := New(store, Config{MinReplaySessions: 3, EquivalenceThreshold: 0.5,
			MaxLatencyRegression: 1.2, SimilarityMethod: models.SimilarityCosineTFIDF})
		result, err := v.Validate(ctx, tool)
		require.NoError(t, err)

		assert.False(t, result.ErrorParity)
		assert.False(t, result.Passed)
		assert.Equal(t, models.StatusDraft, tool.Status)
		assert.NotEmpty(t, result.FailureReasons)
	})

	t.Run("covered failure keeps parity", func(t *testing.T) {
		store := storage.NewMemoryEventStore()
		steps := chainSteps("doc")
		steps[1].outcome = models.OutcomeFailure
		for i := 0; i < 3; i++ {
			seedReplaySession(t, store, fmt.Sprintf("c-s%d", i), time.Duration(i)*time.Minute, steps)
		}

		tool := testTool()
		tool.ErrorStrategy.StepRetries = map[int]models.RetryPolicy{
			1: {MaxAttempts: 3, Backoff: models.BackoffExponential, BaseDelayMS: 1000},
		}
		v := New(store, Config{MinReplaySessions: 3, EquivalenceThreshold: 0.5,
			MaxLatencyRegression: 1.2, SimilarityMethod: models.SimilarityCosineTFIDF})
		result, err := v.Validate(ctx, tool)
		require.NoError(t, err)
		assert.True(t, result.ErrorParity)
	})

	t.Run("explicit abort clause counts, implicit default does not", func(t *testing.T) {
		store := storage.NewMemoryEventStore()
		steps := chainSteps("doc")
		steps[2].outcome = models.OutcomeFailure
		for i := 0; i < 3; i++ {
			seedReplaySession(t, store, fmt.Sprintf("x-s%d", i), time.Duration(i)*time.Minute, steps)
		}

		tool := testTool()
		tool.ErrorStrategy.AbortConditions = []string{synth.AbortCondition(2)}
		v := New(store, Config{MinReplaySessions: 3, EquivalenceThreshold: 0.5,
			MaxLatencyRegression: 1.2, SimilarityMethod: models.SimilarityCosineTFIDF})
		result, err := v.Validate(ctx, tool)
		require.NoError(t, err)
		assert.True(t, result.ErrorParity)
	})

	t.Run("retired tool cannot be validated", func(t *testing.T) {
		tool := testTool()
		tool.Status = models.StatusRetired
		v := New(storage.NewMemoryEventStore(), Config{MinReplaySessions: 1})
		_, err := v.Validate(ctx, tool)
		assert.Error(t, err)
	})
}

func TestLatencyEstimation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryEventStore()
	for i := 0; i < 2; i++ {
		seedReplaySession(t, store, fmt.Sprintf("l-s%d", i),
			time.Duration(i)*time.Minute, []seededStep{
				{"fetch_a", map[string]any{"k": "a"}, "out-a", 400, models.OutcomeSuccess},
				{"fetch_b", map[string]any{"k": "b"}, "out-b", 600, models.OutcomeSuccess},
				{"merge", map[string]any{}, "merged", 200, models.OutcomeSuccess},
			})
	}

	tool := &models.SynthesizedTool{
		Slug:       "fetch_a-fetch_b-merge",
		Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
		Steps: []models.StepDefinition{
			{Index: 0, ToolID: "fetch_a", InputMapping: map[string]string{"k": "a"}, ParallelizableWith: []int{1}},
			{Index: 1, ToolID: "fetch_b", InputMapping: map[string]string{"k": "b"}, ParallelizableWith: []int{0}},
			{Index: 2, ToolID: "merge", InputMapping: map[string]string{}},
		},
		ErrorStrategy: models.ErrorStrategy{DefaultBehavior: models.BehaviorAbort},
		Version:       1,
		Status:        models.StatusDraft,
	}

	v := New(store, Config{MinReplaySessions: 2, EquivalenceThreshold: 0.5,
		MaxLatencyRegression: 1.0, SimilarityMethod: models.SimilarityCosineTFIDF})
	result, err := v.Validate(ctx, tool)
	require.NoError(t, err)

	// Parallel group saves min(400, 600): composite 800 vs original 1200.
	assert.InDelta(t, 800.0/1200.0, result.LatencyRatio, 1e-9)
}

func TestSimilarity(t *testing.T) {
	t.Run("exact match is binary", func(t *testing.T) {
		assert.Equal(t, 1.0, exactMatch("same", "same"))
		assert.Equal(t, 0.0, exactMatch("same", "other"))
	})

	t.Run("cosine of identical strings is one", func(t *testing.T) {
		assert.InDelta(t, 1.0, cosineTFIDF("the quick brown fox", "the quick brown fox"), 1e-9)
	})

	t.Run("cosine of disjoint strings is zero", func(t *testing.T) {
		assert.InDelta(t, 0.0, cosineTFIDF("alpha beta", "gamma delta"), 1e-9)
	})

	t.Run("cosine of overlapping strings is in between", func(t *testing.T) {
		sim := cosineTFIDF("the raven flew home", "the raven stayed home")
		assert.Greater(t, sim, 0.3)
		assert.Less(t, sim, 1.0)
	})

	t.Run("empty strings", func(t *testing.T) {
		assert.Equal(t, 1.0, cosineTFIDF("", ""))
		assert.Equal(t, 0.0, cosineTFIDF("words", ""))
	})
}
