package orchestrate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/southpawriter02/twinraven/pkg/llm"
	"github.com/southpawriter02/twinraven/pkg/miner"
	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/registry"
	"github.com/southpawriter02/twinraven/pkg/storage"
	"github.com/southpawriter02/twinraven/pkg/synth"
	"github.com/southpawriter02/twinraven/pkg/validator"
)

var pipeBase = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

const pipeResponse = `{
  "description": "Search, read, and summarize in one call.",
  "parameters": {
    "type": "object",
    "properties": {"query": {"type": "string"}},
    "required": ["query"]
  },
  "steps": [
    {"index": 0, "tool_id": "search", "input_mapping": {"query": "$.parameters.query"}},
    {"index": 1, "tool_id": "read", "input_mapping": {"doc_id": "$.steps[0].output.top_hit"}},
    {"index": 2, "tool_id": "summarize", "input_mapping": {"doc_id": "$.steps[1].output.doc"}}
  ]
}`

func seedLoopSessions(t *testing.T, store *storage.MemoryEventStore, n int, lastOutcome models.Outcome) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		session := fmt.Sprintf("loop-s%d", i)
		doc := fmt.Sprintf("doc-%d", i)
		steps := []struct {
			tool    string
			inputs  map[string]any
			output  string
			outcome models.Outcome
		}{
			{"search", map[string]any{"query": fmt.Sprintf("q%d", i)}, fmt.Sprintf(`{"top_hit":"%s"}`, doc), models.OutcomeSuccess},
			{"read", map[string]any{"doc_id": doc}, "text of " + doc, models.OutcomeSuccess},
			{"summarize", map[string]any{"doc_id": doc}, "digest of " + doc, lastOutcome},
		}
		var prev *models.Event
		for j, step := range steps {
			out := step.output
			e := &models.Event{
				ID:            uuid.New(),
				SessionID:     session,
				ToolID:        step.tool,
				InputHash:     "0123456789abcdef",
				InputParams:   step.inputs,
				OutputSummary: &out,
				Timestamp:     pipeBase.Add(time.Duration(i)*time.Minute + time.Duration(j)*time.Second),
				LatencyMS:     100,
				Outcome:       step.outcome,
			}
			if prev != nil {
				pred := prev.ID
				e.Predecessor = &pred
			}
			require.NoError(t, store.Append(ctx, e))
			if prev != nil {
				require.NoError(t, store.UpdateSuccessor(ctx, prev.ID, e.ID))
			}
			prev = e
		}
	}
}

func newLoopPipeline(t *testing.T, events *storage.MemoryEventStore, candidates storage.CandidateStore, provider llm.Provider, reg *registry.Registry) *Pipeline {
	t.Helper()
	m := miner.New(events)
	s := synth.New(events, provider, synth.Config{})
	v := validator.New(events, validator.Config{
		MinReplaySessions:    3,
		EquivalenceThreshold: 0.9,
		MaxLatencyRegression: 1.2,
		SimilarityMethod:     models.SimilarityCosineTFIDF,
	})
	pool := NewWorkerPool(2, 4)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)
	return NewPipeline(m, s, v, reg, candidates, pool, Config{
		Mining: models.MiningConfig{
			Algorithm:            models.AlgorithmPrefixSpan,
			MinSupport:           0.5,
			MinConfidence:        0.8,
			MaxChainLength:       5,
			CollapseRepeats:      true,
			MaxSampleEvents:      10,
			SubsumptionThreshold: 0.1,
			SampleRate:           1.0,
		},
		MaxFailureRate: 0.3,
	})
}

func TestPipeline_MinimalLoop(t *testing.T) {
	ctx := context.Background()
	events := storage.NewMemoryEventStore()
	candidates := storage.NewMemoryCandidateStore()
	reg := registry.New(registry.NewMemoryRecordStore(), t.TempDir())
	provider := llm.NewMockProvider(llm.MockResponse{Content: pipeResponse})

	seedLoopSessions(t, events, 3, models.OutcomeSuccess)

	report, err := newLoopPipeline(t, events, candidates, provider, reg).RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Mined)
	assert.Equal(t, 1, report.Synthesized)
	assert.Equal(t, 1, report.Promoted)
	assert.Zero(t, report.Rejected)
	assert.Zero(t, report.Failed)

	// The promoted tool is registered at version 1.
	rec, err := reg.Get(ctx, "search-read-summarize")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CurrentVersion)

	doc, err := reg.CurrentDocument(ctx, rec.Slug)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPromoted, doc.Tool.Status)
	assert.True(t, doc.Validation.Passed)

	// Consumed candidates are removed.
	left, err := candidates.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestPipeline_FailureRateGuard(t *testing.T) {
	ctx := context.Background()
	events := storage.NewMemoryEventStore()
	candidates := storage.NewMemoryCandidateStore()
	reg := registry.New(registry.NewMemoryRecordStore(), t.TempDir())
	provider := llm.NewMockProvider(llm.MockResponse{Content: pipeResponse})

	// Three of five chains end in failure: failure rate 0.6 > 0.3.
	seedLoopSessions(t, events, 3, models.OutcomeFailure)
	for i := 0; i < 2; i++ {
		session := fmt.Sprintf("ok-s%d", i)
		var prev *models.Event
		for j, tool := range []string{"search", "read", "summarize"} {
			out := "fine"
			e := &models.Event{
				ID:            uuid.New(),
				SessionID:     session,
				ToolID:        tool,
				InputHash:     "0123456789abcdef",
				InputParams:   map[string]any{"k": "v"},
				OutputSummary: &out,
				Timestamp:     pipeBase.Add(time.Duration(10+i)*time.Minute + time.Duration(j)*time.Second),
				LatencyMS:     100,
				Outcome:       models.OutcomeSuccess,
			}
			if prev != nil {
				pred := prev.ID
				e.Predecessor = &pred
			}
			require.NoError(t, events.Append(ctx, e))
			prev = e
		}
	}

	report, err := newLoopPipeline(t, events, candidates, provider, reg).RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Mined)
	assert.Equal(t, 1, report.Rejected)
	assert.Zero(t, report.Synthesized)
	assert.Empty(t, provider.Calls(), "rejected candidates never reach the LLM")

	_, err = reg.Get(ctx, "search-read-summarize")
	assert.ErrorIs(t, err, registry.ErrToolNotFound)
}

func TestWorkerPool(t *testing.T) {
	ctx := context.Background()

	t.Run("runs submitted jobs", func(t *testing.T) {
		pool := NewWorkerPool(2, 4)
		pool.Start(ctx)
		defer pool.Stop()

		done := make(chan string, 2)
		for _, id := range []string{"job-1", "job-2"} {
			id := id
			require.NoError(t, pool.Submit(Job{ID: id, Run: func(context.Context) error {
				done <- id
				return nil
			}}))
		}

		got := map[string]bool{}
		for i := 0; i < 2; i++ {
			select {
			case id := <-done:
				got[id] = true
			case <-time.After(5 * time.Second):
				t.Fatal("jobs did not run")
			}
		}
		assert.Len(t, got, 2)
	})

	t.Run("cancel stops a running job", func(t *testing.T) {
		pool := NewWorkerPool(1, 2)
		pool.Start(ctx)
		defer pool.Stop()

		started := make(chan struct{})
		stopped := make(chan struct{})
		require.NoError(t, pool.Submit(Job{ID: "long", Run: func(jobCtx context.Context) error {
			close(started)
			<-jobCtx.Done()
			close(stopped)
			return jobCtx.Err()
		}}))

		<-started
		assert.True(t, pool.Cancel("long"))
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Fatal("job did not observe cancellation")
		}
	})

	t.Run("full queue rejects instead of blocking", func(t *testing.T) {
		pool := NewWorkerPool(1, 1)
		// Not started: nothing drains the queue.
		require.NoError(t, pool.Submit(Job{ID: "a", Run: func(context.Context) error { return nil }}))
		assert.Error(t, pool.Submit(Job{ID: "b", Run: func(context.Context) error { return nil }}))
	})

	t.Run("submit wait blocks until space frees", func(t *testing.T) {
		pool := NewWorkerPool(1, 1)
		require.NoError(t, pool.Submit(Job{ID: "a", Run: func(context.Context) error { return nil }}))

		// Queue is full and the pool is not started; a bounded context is
		// the only way out.
		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		err := pool.SubmitWait(waitCtx, Job{ID: "b", Run: func(context.Context) error { return nil }})
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// Once workers drain the queue, the blocked submit goes through.
		pool.Start(ctx)
		defer pool.Stop()
		done := make(chan struct{})
		require.NoError(t, pool.SubmitWait(ctx, Job{ID: "c", Run: func(context.Context) error {
			close(done)
			return nil
		}}))
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("queued job did not run")
		}
	})
}
