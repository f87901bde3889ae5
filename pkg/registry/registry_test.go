package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/southpawriter02/twinraven/pkg/models"
)

func sampleTool(status models.ToolStatus) *models.SynthesizedTool {
	return &models.SynthesizedTool{
		Slug:        "search-read",
		Description: "search then read",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Steps: []models.StepDefinition{
			{Index: 0, ToolID: "search", InputMapping: map[string]string{}},
			{Index: 1, ToolID: "read", InputMapping: map[string]string{}},
		},
		ErrorStrategy: models.ErrorStrategy{DefaultBehavior: models.BehaviorAbort},
		SourceChainID: uuid.New(),
		Version:       1,
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}
}

func sampleValidation(passed bool) *models.ValidationResult {
	return &models.ValidationResult{
		ID:               uuid.New(),
		ToolSlug:         "search-read",
		ToolVersion:      1,
		SessionsReplayed: 5,
		MeanSimilarity:   0.97,
		MinSimilarity:    0.9,
		SimilarityMethod: models.SimilarityCosineTFIDF,
		Threshold:        0.95,
		ErrorParity:      true,
		LatencyRatio:     1.0,
		Passed:           passed,
		ValidatedAt:      time.Now().UTC(),
	}
}

func sampleChain() *models.CandidateChain {
	return &models.CandidateChain{
		ID:           uuid.New(),
		Tools:        []string{"search", "read"},
		Support:      0.8,
		Confidence:   0.9,
		DiscoveredAt: time.Now().UTC(),
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(NewMemoryRecordStore(), t.TempDir())
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("first registration creates version 1 on disk and in the store", func(t *testing.T) {
		reg := newTestRegistry(t)
		tool := sampleTool(models.StatusPromoted)

		rec, err := reg.Register(ctx, tool, sampleValidation(true), sampleChain())
		require.NoError(t, err)
		assert.Equal(t, 1, rec.CurrentVersion)
		assert.FileExists(t, rec.DefinitionPath)
		assert.FileExists(t, filepath.Join(filepath.Dir(rec.DefinitionPath), "metadata.json"))

		doc, err := reg.GetDocument(ctx, tool.Slug, 1)
		require.NoError(t, err)
		assert.Equal(t, tool.Slug, doc.Tool.Slug)
		assert.InDelta(t, 0.8, doc.Chain.Support, 1e-9)

		versions, err := reg.VersionHistory(ctx, tool.Slug)
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Nil(t, versions[0].SupersededAt)
	})

	t.Run("re-registration bumps the version and supersedes the prior one", func(t *testing.T) {
		reg := newTestRegistry(t)
		first := sampleTool(models.StatusPromoted)
		_, err := reg.Register(ctx, first, sampleValidation(true), sampleChain())
		require.NoError(t, err)

		second := sampleTool(models.StatusPromoted)
		rec, err := reg.Register(ctx, second, sampleValidation(true), sampleChain())
		require.NoError(t, err)

		assert.Equal(t, 2, rec.CurrentVersion)
		assert.Equal(t, 2, second.Version)

		versions, err := reg.VersionHistory(ctx, second.Slug)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.NotNil(t, versions[0].SupersededAt, "v1 must be superseded")
		assert.Nil(t, versions[1].SupersededAt, "v2 is current")

		// The superseded version document remains on disk for audit.
		assert.FileExists(t, filepath.Join(filepath.Dir(rec.DefinitionPath), "v1.json"))
		assert.FileExists(t, filepath.Join(filepath.Dir(rec.DefinitionPath), "v2.json"))
	})
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("promote from testing", func(t *testing.T) {
		reg := newTestRegistry(t)
		tool := sampleTool(models.StatusTesting)
		_, err := reg.Register(ctx, tool, sampleValidation(true), sampleChain())
		require.NoError(t, err)

		require.NoError(t, reg.Promote(ctx, tool.Slug, 1))
		doc, err := reg.CurrentDocument(ctx, tool.Slug)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPromoted, doc.Tool.Status)
		assert.NotNil(t, doc.Tool.PromotedAt)
	})

	t.Run("retire a promoted tool", func(t *testing.T) {
		reg := newTestRegistry(t)
		tool := sampleTool(models.StatusPromoted)
		_, err := reg.Register(ctx, tool, sampleValidation(true), sampleChain())
		require.NoError(t, err)

		require.NoError(t, reg.Retire(ctx, tool.Slug, models.RetireManual))
		doc, err := reg.CurrentDocument(ctx, tool.Slug)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRetired, doc.Tool.Status)

		rec, err := reg.Get(ctx, tool.Slug)
		require.NoError(t, err)
		require.NotNil(t, rec.RetirementReason)
		assert.Equal(t, string(models.RetireManual), *rec.RetirementReason)
	})

	t.Run("retired is terminal", func(t *testing.T) {
		reg := newTestRegistry(t)
		tool := sampleTool(models.StatusPromoted)
		_, err := reg.Register(ctx, tool, sampleValidation(true), sampleChain())
		require.NoError(t, err)
		require.NoError(t, reg.Retire(ctx, tool.Slug, models.RetireManual))

		err = reg.Promote(ctx, tool.Slug, 1)
		var transition *TransitionError
		require.ErrorAs(t, err, &transition)
		assert.Equal(t, models.StatusRetired, transition.From)
		assert.Equal(t, models.StatusPromoted, transition.To)

		err = reg.Retire(ctx, tool.Slug, models.RetireManual)
		assert.ErrorAs(t, err, &transition)
	})

	t.Run("unknown slug", func(t *testing.T) {
		reg := newTestRegistry(t)
		_, err := reg.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrToolNotFound)
		assert.ErrorIs(t, reg.Retire(ctx, "nope", models.RetireManual), ErrToolNotFound)
	})
}

func TestRecordUsage(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	tool := sampleTool(models.StatusPromoted)
	_, err := reg.Register(ctx, tool, sampleValidation(true), sampleChain())
	require.NoError(t, err)

	require.NoError(t, reg.RecordUsage(ctx, tool.Slug))
	require.NoError(t, reg.RecordUsage(ctx, tool.Slug))

	rec, err := reg.Get(ctx, tool.Slug)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rec.InvocationCount)
	assert.NotNil(t, rec.LastUsedAt)
	assert.Equal(t, 1, rec.CurrentVersion, "usage must not touch other fields")
	assert.Nil(t, rec.RetirementReason)
}

func TestStale(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	tool := sampleTool(models.StatusPromoted)
	_, err := reg.Register(ctx, tool, sampleValidation(true), sampleChain())
	require.NoError(t, err)

	t.Run("never-used tool registered before cutoff is stale", func(t *testing.T) {
		stale, err := reg.Stale(ctx, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, tool.Slug, stale[0].Slug)
	})

	t.Run("recent usage clears staleness", func(t *testing.T) {
		require.NoError(t, reg.RecordUsage(ctx, tool.Slug))
		stale, err := reg.Stale(ctx, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, stale)
	})
}

func TestWriteAtomicity(t *testing.T) {
	reg := newTestRegistry(t)
	tool := sampleTool(models.StatusPromoted)
	_, err := reg.Register(context.Background(), tool, sampleValidation(true), sampleChain())
	require.NoError(t, err)

	// No temp leftovers after a successful write.
	entries, err := os.ReadDir(filepath.Join(reg.dir, tool.Slug))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
