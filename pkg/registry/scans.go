package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/southpawriter02/twinraven/pkg/miner"
	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/storage"
)

// ScanConfig tunes the retirement scans.
type ScanConfig struct {
	// DriftThreshold flags a tool when current/original support drops below it.
	DriftThreshold float64
	// AutoRetireOnDrift retires flagged tools instead of only logging.
	AutoRetireOnDrift bool
	// DriftWindow bounds the recent-session window for support recomputation.
	DriftWindow time.Duration
	// AutoRetireAfterDays retires tools unused for this long.
	AutoRetireAfterDays int
	// FailureSpikeThreshold retires tools whose recent failure rate exceeds it.
	FailureSpikeThreshold float64
}

// DefaultScanConfig returns the scan defaults.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		DriftThreshold:        0.5,
		AutoRetireOnDrift:     false,
		DriftWindow:           7 * 24 * time.Hour,
		AutoRetireAfterDays:   30,
		FailureSpikeThreshold: 0.3,
	}
}

// Scanner runs the drift, staleness, and failure-spike passes over promoted
// tools.
type Scanner struct {
	registry *Registry
	miner    *miner.Miner
	events   storage.EventStore
	cfg      ScanConfig
}

// NewScanner creates a scanner.
func NewScanner(registry *Registry, m *miner.Miner, events storage.EventStore, cfg ScanConfig) *Scanner {
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = DefaultScanConfig().DriftThreshold
	}
	if cfg.DriftWindow <= 0 {
		cfg.DriftWindow = DefaultScanConfig().DriftWindow
	}
	if cfg.AutoRetireAfterDays <= 0 {
		cfg.AutoRetireAfterDays = DefaultScanConfig().AutoRetireAfterDays
	}
	if cfg.FailureSpikeThreshold <= 0 {
		cfg.FailureSpikeThreshold = DefaultScanConfig().FailureSpikeThreshold
	}
	return &Scanner{registry: registry, miner: m, events: events, cfg: cfg}
}

// DriftScan recomputes each promoted tool's source chain support over recent
// sessions and flags tools whose support ratio fell under the threshold.
// Returns the slugs flagged (and retired, when auto-retire is on).
func (s *Scanner) DriftScan(ctx context.Context) ([]string, error) {
	promoted, err := s.promotedDocs(ctx)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().Add(-s.cfg.DriftWindow)
	var flagged []string
	for slug, doc := range promoted {
		original := doc.Chain.Support
		if original <= 0 {
			continue
		}
		current, err := s.miner.ChainSupport(ctx, doc.Chain.Tools, since, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("drift scan for '%s' failed: %w", slug, err)
		}
		ratio := current / original
		if ratio >= s.cfg.DriftThreshold {
			continue
		}
		flagged = append(flagged, slug)
		slog.Warn("Tool source chain drifted",
			"slug", slug, "original_support", original, "current_support", current, "ratio", ratio)
		if s.cfg.AutoRetireOnDrift {
			if err := s.registry.Retire(ctx, slug, models.RetireDrift); err != nil {
				return nil, err
			}
		}
	}
	return flagged, nil
}

// StalenessScan retires promoted tools unused past the configured age.
func (s *Scanner) StalenessScan(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.AutoRetireAfterDays)
	stale, err := s.registry.Stale(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	var retired []string
	for _, rec := range stale {
		doc, err := s.registry.GetDocument(ctx, rec.Slug, rec.CurrentVersion)
		if err != nil {
			return nil, err
		}
		if doc.Tool.Status != models.StatusPromoted {
			continue
		}
		if err := s.registry.Retire(ctx, rec.Slug, models.RetireUnused); err != nil {
			return nil, err
		}
		retired = append(retired, rec.Slug)
	}
	return retired, nil
}

// FailureSpikeScan retires promoted tools whose failure rate over the last
// seven days of their own events exceeds the threshold.
func (s *Scanner) FailureSpikeScan(ctx context.Context) ([]string, error) {
	promoted, err := s.promotedDocs(ctx)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().Add(-7 * 24 * time.Hour)
	var retired []string
	for slug := range promoted {
		total, err := s.events.Count(ctx, storage.EventFilter{ToolID: slug, Since: since})
		if err != nil {
			return nil, fmt.Errorf("failure scan for '%s' failed: %w", slug, err)
		}
		if total == 0 {
			continue
		}
		failure := models.OutcomeFailure
		failed, err := s.events.Count(ctx, storage.EventFilter{ToolID: slug, Since: since, Outcome: &failure})
		if err != nil {
			return nil, fmt.Errorf("failure scan for '%s' failed: %w", slug, err)
		}
		rate := float64(failed) / float64(total)
		if rate <= s.cfg.FailureSpikeThreshold {
			continue
		}
		slog.Warn("Tool failure spike", "slug", slug, "failure_rate", rate, "events", total)
		if err := s.registry.Retire(ctx, slug, models.RetireFailureSpike); err != nil {
			return nil, err
		}
		retired = append(retired, slug)
	}
	return retired, nil
}

func (s *Scanner) promotedDocs(ctx context.Context) (map[string]*Document, error) {
	records, err := s.registry.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Document)
	for _, rec := range records {
		doc, err := s.registry.GetDocument(ctx, rec.Slug, rec.CurrentVersion)
		if err != nil {
			return nil, err
		}
		if doc.Tool.Status == models.StatusPromoted {
			out[rec.Slug] = doc
		}
	}
	return out, nil
}
