package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/storage"
	testdb "github.com/southpawriter02/twinraven/test/database"
)

// skipWithoutDocker keeps the Postgres suite out of plain unit runs; CI sets
// CI_DATABASE_URL, local runs opt in with TWINRAVEN_PG_TESTS=1.
func skipWithoutDocker(t *testing.T) {
	if os.Getenv("CI_DATABASE_URL") == "" && os.Getenv("TWINRAVEN_PG_TESTS") == "" {
		t.Skip("set TWINRAVEN_PG_TESTS=1 (or CI_DATABASE_URL) to run PostgreSQL store tests")
	}
}

func pgEvent(session, tool string, ts time.Time) *models.Event {
	return &models.Event{
		ID:          uuid.New(),
		SessionID:   session,
		ToolID:      tool,
		InputHash:   "0123456789abcdef",
		InputParams: map[string]any{"q": "x", "n": float64(2)},
		Timestamp:   ts,
		LatencyMS:   25,
		Outcome:     models.OutcomeSuccess,
		Tags:        []string{"pg"},
	}
}

func TestPostgresEventStore(t *testing.T) {
	skipWithoutDocker(t)

	client := testdb.NewTestClient(t)
	store := storage.NewPostgresEventStore(client.DB())
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("append round-trips every field", func(t *testing.T) {
		e := pgEvent("pg-s1", "search", base)
		summary := "found 3 results"
		e.OutputSummary = &summary
		require.NoError(t, store.Append(ctx, e))

		got, err := store.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.SessionID, got.SessionID)
		assert.Equal(t, e.InputHash, got.InputHash)
		assert.Equal(t, e.InputParams, got.InputParams)
		assert.Equal(t, summary, *got.OutputSummary)
		assert.Equal(t, e.Tags, got.Tags)
		assert.True(t, got.Timestamp.Equal(base))
	})

	t.Run("duplicate append fails", func(t *testing.T) {
		e := pgEvent("pg-s1", "read", base.Add(time.Second))
		require.NoError(t, store.Append(ctx, e))
		assert.ErrorIs(t, store.Append(ctx, e), storage.ErrDuplicateEvent)
	})

	t.Run("batch rolls back on duplicate", func(t *testing.T) {
		dup := pgEvent("pg-s2", "a", base)
		require.NoError(t, store.Append(ctx, dup))
		fresh := pgEvent("pg-s2", "b", base.Add(time.Second))

		err := store.AppendBatch(ctx, []*models.Event{fresh, dup})
		assert.ErrorIs(t, err, storage.ErrDuplicateEvent)
		_, err = store.GetByID(ctx, fresh.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("successor backfill and chain order", func(t *testing.T) {
		first := pgEvent("pg-s3", "search", base)
		second := pgEvent("pg-s3", "read", base.Add(time.Second))
		pred := first.ID
		second.Predecessor = &pred
		require.NoError(t, store.Append(ctx, first))
		require.NoError(t, store.UpdateSuccessor(ctx, first.ID, second.ID))
		require.NoError(t, store.Append(ctx, second))

		events, err := store.GetBySession(ctx, "pg-s3", storage.OrderChain)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "search", events[0].ToolID)
		assert.Equal(t, "read", events[1].ToolID)
	})

	t.Run("sessions and counts", func(t *testing.T) {
		sessions, err := store.GetSessions(ctx, time.Time{}, time.Time{}, 2)
		require.NoError(t, err)
		assert.Contains(t, sessions, "pg-s3")

		n, err := store.Count(ctx, storage.EventFilter{SessionID: "pg-s3"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("prune deletes events before the cutoff", func(t *testing.T) {
		deleted, err := store.Prune(ctx, base.Add(500*time.Millisecond))
		require.NoError(t, err)
		assert.Greater(t, deleted, int64(0))
	})
}

func TestPostgresCandidateStore(t *testing.T) {
	skipWithoutDocker(t)

	client := testdb.NewTestClient(t)
	store := storage.NewPostgresCandidateStore(client.DB())
	ctx := context.Background()

	chain := &models.CandidateChain{
		ID:             uuid.New(),
		Tools:          []string{"search", "read"},
		Support:        0.8,
		Confidence:     0.9,
		AvgLatencyMS:   120,
		FailureRate:    0.1,
		SampleEventIDs: []uuid.UUID{uuid.New()},
		DiscoveredAt:   time.Now().UTC().Truncate(time.Microsecond),
		MiningConfig: models.MiningConfig{
			Algorithm:      models.AlgorithmPrefixSpan,
			MinSupport:     0.5,
			MinConfidence:  0.5,
			MaxChainLength: 4,
			SampleRate:     1.0,
		},
	}

	t.Run("save and round-trip", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, chain))
		got, err := store.Get(ctx, chain.ID)
		require.NoError(t, err)
		assert.Equal(t, chain.Tools, got.Tools)
		assert.Equal(t, chain.MiningConfig.MinSupport, got.MiningConfig.MinSupport)
		assert.Equal(t, chain.SampleEventIDs, got.SampleEventIDs)
	})

	t.Run("duplicate save fails", func(t *testing.T) {
		assert.ErrorIs(t, store.Save(ctx, chain), storage.ErrDuplicateCandidate)
	})

	t.Run("list and delete", func(t *testing.T) {
		chains, err := store.List(ctx, 10)
		require.NoError(t, err)
		assert.NotEmpty(t, chains)
		require.NoError(t, store.Delete(ctx, chain.ID))
		_, err = store.Get(ctx, chain.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
