package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/southpawriter02/twinraven/pkg/models"
)

func newEvent(session, tool string, ts time.Time) *models.Event {
	return &models.Event{
		ID:          uuid.New(),
		SessionID:   session,
		ToolID:      tool,
		InputHash:   "0123456789abcdef",
		InputParams: map[string]any{"q": "x"},
		Timestamp:   ts,
		LatencyMS:   10,
		Outcome:     models.OutcomeSuccess,
		Tags:        []string{"test"},
	}
}

func TestMemoryEventStore_Append(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("appends and reads back", func(t *testing.T) {
		e := newEvent("s1", "search", base)
		require.NoError(t, store.Append(ctx, e))

		got, err := store.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.ToolID, got.ToolID)
		assert.Equal(t, e.InputHash, got.InputHash)
	})

	t.Run("rejects duplicate identifiers", func(t *testing.T) {
		e := newEvent("s1", "read", base.Add(time.Second))
		require.NoError(t, store.Append(ctx, e))
		err := store.Append(ctx, e)
		assert.ErrorIs(t, err, ErrDuplicateEvent)
	})

	t.Run("batch is atomic on duplicates", func(t *testing.T) {
		dup := newEvent("s2", "a", base)
		require.NoError(t, store.Append(ctx, dup))

		fresh := newEvent("s2", "b", base.Add(time.Second))
		err := store.AppendBatch(ctx, []*models.Event{fresh, dup})
		assert.ErrorIs(t, err, ErrDuplicateEvent)

		_, err = store.GetByID(ctx, fresh.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryEventStore_UpdateSuccessor(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	first := newEvent("s1", "search", base)
	second := newEvent("s1", "read", base.Add(time.Second))
	pred := first.ID
	second.Predecessor = &pred
	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))

	t.Run("backfills the forward link", func(t *testing.T) {
		require.NoError(t, store.UpdateSuccessor(ctx, first.ID, second.ID))
		got, err := store.GetByID(ctx, first.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Successor)
		assert.Equal(t, second.ID, *got.Successor)
	})

	t.Run("unknown predecessor fails", func(t *testing.T) {
		err := store.UpdateSuccessor(ctx, uuid.New(), second.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryEventStore_Queries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, newEvent("s1", "search", base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, store.Append(ctx, newEvent("s2", "search", base.Add(10*time.Second))))
	require.NoError(t, store.Append(ctx, newEvent("s2", "read", base.Add(11*time.Second))))

	t.Run("session scan ordered by timestamp", func(t *testing.T) {
		events, err := store.GetBySession(ctx, "s1", OrderTimestamp)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.True(t, events[0].Timestamp.Before(events[1].Timestamp))
	})

	t.Run("tool scan honors window and limit", func(t *testing.T) {
		events, err := store.GetByTool(ctx, "search", base, base.Add(5*time.Second), 2)
		require.NoError(t, err)
		assert.Len(t, events, 2)
		for _, e := range events {
			assert.Equal(t, "search", e.ToolID)
		}
	})

	t.Run("distinct sessions with min event count", func(t *testing.T) {
		sessions, err := store.GetSessions(ctx, time.Time{}, time.Time{}, 2)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"s1", "s2"}, sessions)
		// Most recent activity first.
		assert.Equal(t, "s2", sessions[0])

		sessions, err = store.GetSessions(ctx, time.Time{}, time.Time{}, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"s1"}, sessions)
	})

	t.Run("count with filters", func(t *testing.T) {
		n, err := store.Count(ctx, EventFilter{ToolID: "search"})
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		n, err = store.Count(ctx, EventFilter{SessionID: "s2"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("prune deletes old events only", func(t *testing.T) {
		deleted, err := store.Prune(ctx, base.Add(5*time.Second))
		require.NoError(t, err)
		assert.EqualValues(t, 3, deleted)

		n, err := store.Count(ctx, EventFilter{})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestMemoryCandidateStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCandidateStore()

	chain := &models.CandidateChain{
		ID:           uuid.New(),
		Tools:        []string{"a", "b"},
		Support:      0.5,
		Confidence:   0.8,
		DiscoveredAt: time.Now().UTC(),
	}

	t.Run("save and get", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, chain))
		got, err := store.Get(ctx, chain.ID)
		require.NoError(t, err)
		assert.Equal(t, chain.Tools, got.Tools)
	})

	t.Run("duplicate save fails", func(t *testing.T) {
		assert.ErrorIs(t, store.Save(ctx, chain), ErrDuplicateCandidate)
	})

	t.Run("list ranks by support descending", func(t *testing.T) {
		higher := &models.CandidateChain{ID: uuid.New(), Tools: []string{"x", "y"}, Support: 0.9}
		require.NoError(t, store.Save(ctx, higher))

		chains, err := store.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, chains, 2)
		assert.Equal(t, higher.ID, chains[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, chain.ID))
		_, err := store.Get(ctx, chain.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, chain.ID), ErrNotFound)
	})
}
