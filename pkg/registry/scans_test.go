package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/southpawriter02/twinraven/pkg/miner"
	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/storage"
)

func seedScanSession(t *testing.T, store *storage.MemoryEventStore, session string, tools []string, outcome models.Outcome, at time.Time) {
	t.Helper()
	ctx := context.Background()
	for j, tool := range tools {
		require.NoError(t, store.Append(ctx, &models.Event{
			ID:          uuid.New(),
			SessionID:   session,
			ToolID:      tool,
			InputHash:   "0123456789abcdef",
			InputParams: map[string]any{},
			Timestamp:   at.Add(time.Duration(j) * time.Second),
			LatencyMS:   10,
			Outcome:     outcome,
		}))
	}
}

func registerPromoted(t *testing.T, reg *Registry, support float64) *models.SynthesizedTool {
	t.Helper()
	tool := sampleTool(models.StatusPromoted)
	chain := sampleChain()
	chain.Support = support
	_, err := reg.Register(context.Background(), tool, sampleValidation(true), chain)
	require.NoError(t, err)
	return tool
}

func TestDriftScan(t *testing.T) {
	ctx := context.Background()
	recent := time.Now().UTC().Add(-time.Hour)

	t.Run("support collapse flags and auto-retires", func(t *testing.T) {
		// Synthesized at support 0.8; recent sessions put it at 0.3:
		// ratio 0.375 < 0.5.
		events := storage.NewMemoryEventStore()
		for i := 0; i < 3; i++ {
			seedScanSession(t, events, fmt.Sprintf("hit-%d", i), []string{"search", "read"},
				models.OutcomeSuccess, recent.Add(time.Duration(i)*time.Minute))
		}
		for i := 0; i < 7; i++ {
			seedScanSession(t, events, fmt.Sprintf("miss-%d", i), []string{"other", "thing"},
				models.OutcomeSuccess, recent.Add(time.Duration(i)*time.Minute))
		}

		reg := newTestRegistry(t)
		tool := registerPromoted(t, reg, 0.8)

		scanner := NewScanner(reg, miner.New(events), events, ScanConfig{
			DriftThreshold:    0.5,
			AutoRetireOnDrift: true,
			DriftWindow:       24 * time.Hour,
		})
		flagged, err := scanner.DriftScan(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{tool.Slug}, flagged)

		doc, err := reg.CurrentDocument(ctx, tool.Slug)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRetired, doc.Tool.Status)

		rec, err := reg.Get(ctx, tool.Slug)
		require.NoError(t, err)
		require.NotNil(t, rec.RetirementReason)
		assert.Equal(t, string(models.RetireDrift), *rec.RetirementReason)
	})

	t.Run("healthy support is untouched", func(t *testing.T) {
		events := storage.NewMemoryEventStore()
		for i := 0; i < 8; i++ {
			seedScanSession(t, events, fmt.Sprintf("h-%d", i), []string{"search", "read"},
				models.OutcomeSuccess, recent.Add(time.Duration(i)*time.Minute))
		}
		for i := 0; i < 2; i++ {
			seedScanSession(t, events, fmt.Sprintf("m-%d", i), []string{"other", "thing"},
				models.OutcomeSuccess, recent.Add(time.Duration(i)*time.Minute))
		}

		reg := newTestRegistry(t)
		registerPromoted(t, reg, 0.8)

		scanner := NewScanner(reg, miner.New(events), events, ScanConfig{
			DriftThreshold:    0.5,
			AutoRetireOnDrift: true,
			DriftWindow:       24 * time.Hour,
		})
		flagged, err := scanner.DriftScan(ctx)
		require.NoError(t, err)
		assert.Empty(t, flagged)
	})

	t.Run("flag without retire when auto-retire is off", func(t *testing.T) {
		events := storage.NewMemoryEventStore()
		seedScanSession(t, events, "only-miss", []string{"other", "thing"},
			models.OutcomeSuccess, recent)
		seedScanSession(t, events, "only-miss-2", []string{"other", "thing"},
			models.OutcomeSuccess, recent)

		reg := newTestRegistry(t)
		tool := registerPromoted(t, reg, 0.8)

		scanner := NewScanner(reg, miner.New(events), events, ScanConfig{
			DriftThreshold: 0.5,
			DriftWindow:    24 * time.Hour,
		})
		flagged, err := scanner.DriftScan(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{tool.Slug}, flagged)

		doc, err := reg.CurrentDocument(ctx, tool.Slug)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPromoted, doc.Tool.Status)
	})
}

func TestStalenessScan(t *testing.T) {
	ctx := context.Background()
	events := storage.NewMemoryEventStore()
	reg := newTestRegistry(t)
	tool := registerPromoted(t, reg, 0.8)

	// Backdate registration past the threshold.
	rec, err := reg.Get(ctx, tool.Slug)
	require.NoError(t, err)
	rec.RegisteredAt = time.Now().UTC().AddDate(0, 0, -60)
	require.NoError(t, reg.records.UpdateRecord(ctx, rec))

	scanner := NewScanner(reg, miner.New(events), events, ScanConfig{AutoRetireAfterDays: 30})
	retired, err := scanner.StalenessScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{tool.Slug}, retired)

	got, err := reg.Get(ctx, tool.Slug)
	require.NoError(t, err)
	require.NotNil(t, got.RetirementReason)
	assert.Equal(t, string(models.RetireUnused), *got.RetirementReason)
}

func TestFailureSpikeScan(t *testing.T) {
	ctx := context.Background()
	recent := time.Now().UTC().Add(-time.Hour)

	events := storage.NewMemoryEventStore()
	reg := newTestRegistry(t)
	tool := registerPromoted(t, reg, 0.8)

	// Recent composite invocations: 2 of 5 fail (rate 0.4 > 0.3).
	for i := 0; i < 5; i++ {
		outcome := models.OutcomeSuccess
		if i < 2 {
			outcome = models.OutcomeFailure
		}
		require.NoError(t, events.Append(ctx, &models.Event{
			ID:          uuid.New(),
			SessionID:   fmt.Sprintf("use-%d", i),
			ToolID:      tool.Slug,
			InputHash:   "0123456789abcdef",
			InputParams: map[string]any{},
			Timestamp:   recent.Add(time.Duration(i) * time.Minute),
			LatencyMS:   10,
			Outcome:     outcome,
		}))
	}

	scanner := NewScanner(reg, miner.New(events), events, ScanConfig{FailureSpikeThreshold: 0.3})
	retired, err := scanner.FailureSpikeScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{tool.Slug}, retired)

	rec, err := reg.Get(ctx, tool.Slug)
	require.NoError(t, err)
	require.NotNil(t, rec.RetirementReason)
	assert.Equal(t, string(models.RetireFailureSpike), *rec.RetirementReason)
}
