// Package cleanup provides the data retention service.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/southpawriter02/twinraven/pkg/storage"
)

// Config tunes retention.
type Config struct {
	// EventRetention is how long telemetry events stay in the store. The
	// pruner is the only destructive path on events; mining queries carry a
	// since bound at or after the retention boundary, so broken links at
	// the boundary are tolerated by chain reconstruction.
	EventRetention time.Duration
	// CandidateTTL is how long unconsumed candidates survive.
	CandidateTTL time.Duration
	// Interval is the cycle period.
	Interval time.Duration
}

// DefaultConfig returns the retention defaults.
func DefaultConfig() Config {
	return Config{
		EventRetention: 90 * 24 * time.Hour,
		CandidateTTL:   14 * 24 * time.Hour,
		Interval:       time.Hour,
	}
}

// Service periodically enforces retention policies:
//   - prunes events past the retention boundary
//   - removes stale unconsumed candidate chains
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config     Config
	events     storage.EventStore
	candidates storage.CandidateStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg Config, events storage.EventStore, candidates storage.CandidateStore) *Service {
	def := DefaultConfig()
	if cfg.EventRetention <= 0 {
		cfg.EventRetention = def.EventRetention
	}
	if cfg.CandidateTTL <= 0 {
		cfg.CandidateTTL = def.CandidateTTL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Service{config: cfg, events: events, candidates: candidates}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"event_retention", s.config.EventRetention,
		"candidate_ttl", s.config.CandidateTTL,
		"interval", s.config.Interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.pruneEvents(ctx)
	s.pruneCandidates(ctx)
}

func (s *Service) pruneEvents(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.EventRetention)
	count, err := s.events.Prune(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: event prune failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned old events", "count", count, "cutoff", cutoff)
	}
}

func (s *Service) pruneCandidates(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.CandidateTTL)
	chains, err := s.candidates.List(ctx, 0)
	if err != nil {
		slog.Error("Retention: candidate listing failed", "error", err)
		return
	}
	pruned := 0
	for _, chain := range chains {
		if chain.DiscoveredAt.After(cutoff) {
			continue
		}
		if err := s.candidates.Delete(ctx, chain.ID); err != nil {
			slog.Error("Retention: candidate delete failed", "chain_id", chain.ID, "error", err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		slog.Info("Retention: removed stale candidates", "count", pruned)
	}
}
