package integrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/southpawriter02/twinraven/pkg/collector"
	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/storage"
)

func TestWrap(t *testing.T) {
	ctx := context.Background()

	newObs := func(t *testing.T, store *storage.MemoryEventStore) *collector.ObservationContext {
		t.Helper()
		c := collector.New(store, nil, nil, collector.DefaultConfig())
		obs, err := c.Observe(ctx, "wrap-s1")
		require.NoError(t, err)
		return obs
	}

	t.Run("forwards results and records success", func(t *testing.T) {
		store := storage.NewMemoryEventStore()
		w := NewWrapper(newObs(t, store), "wrapped")

		wrapped, err := w.Wrap("search", func(_ context.Context, inputs map[string]any) (any, error) {
			return "found " + inputs["q"].(string), nil
		})
		require.NoError(t, err)

		out, err := wrapped(ctx, map[string]any{"q": "ravens"})
		require.NoError(t, err)
		assert.Equal(t, "found ravens", out)

		events, err := store.GetBySession(ctx, "wrap-s1", storage.OrderTimestamp)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "search", events[0].ToolID)
		assert.Equal(t, models.OutcomeSuccess, events[0].Outcome)
		assert.Equal(t, []string{"wrapped"}, events[0].Tags)
	})

	t.Run("forwards the error and records failure", func(t *testing.T) {
		store := storage.NewMemoryEventStore()
		w := NewWrapper(newObs(t, store))

		boom := errors.New("upstream timeout")
		wrapped, err := w.Wrap("fetch", func(context.Context, map[string]any) (any, error) {
			return nil, boom
		})
		require.NoError(t, err)

		_, err = wrapped(ctx, map[string]any{})
		assert.ErrorIs(t, err, boom)

		events, err := store.GetBySession(ctx, "wrap-s1", storage.OrderTimestamp)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, models.OutcomeFailure, events[0].Outcome)
		assert.Contains(t, *events[0].OutputSummary, "upstream timeout")
	})

	t.Run("telemetry failure never reaches the caller", func(t *testing.T) {
		// A context closed after Observe: recording drops the event but the
		// tool result still flows.
		store := storage.NewMemoryEventStore()
		obs := newObs(t, store)
		obs.Close(ctx)
		w := NewWrapper(obs)

		wrapped, err := w.Wrap("calc", func(context.Context, map[string]any) (any, error) {
			return 42, nil
		})
		require.NoError(t, err)

		out, err := wrapped(ctx, map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, 42, out)

		events, err := store.GetBySession(ctx, "wrap-s1", storage.OrderTimestamp)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("nil tool is unsupported", func(t *testing.T) {
		w := NewWrapper(newObs(t, storage.NewMemoryEventStore()))
		_, err := w.Wrap("x", nil)
		assert.ErrorIs(t, err, ErrUnsupportedTool)
		_, err = w.Wrap("", func(context.Context, map[string]any) (any, error) { return nil, nil })
		assert.ErrorIs(t, err, ErrUnsupportedTool)
	})
}
