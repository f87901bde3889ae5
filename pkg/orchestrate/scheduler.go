package orchestrate

import (
	"context"
	"log/slog"
	"time"

	"github.com/southpawriter02/twinraven/pkg/registry"
)

// Scheduler periodically runs the pipeline and the registry's retirement
// scans. All passes are idempotent; a failed cycle logs and waits for the
// next tick.
type Scheduler struct {
	pipeline     *Pipeline
	scanner      *registry.Scanner
	runInterval  time.Duration
	scanInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler.
func NewScheduler(pipeline *Pipeline, scanner *registry.Scanner, runInterval, scanInterval time.Duration) *Scheduler {
	if runInterval <= 0 {
		runInterval = time.Hour
	}
	if scanInterval <= 0 {
		scanInterval = 6 * time.Hour
	}
	return &Scheduler{
		pipeline:     pipeline,
		scanner:      scanner,
		runInterval:  runInterval,
		scanInterval: scanInterval,
	}
}

// Start launches the background loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Scheduler started",
		"run_interval", s.runInterval, "scan_interval", s.scanInterval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	runTicker := time.NewTicker(s.runInterval)
	defer runTicker.Stop()
	scanTicker := time.NewTicker(s.scanInterval)
	defer scanTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-runTicker.C:
			s.runPipeline(ctx)
		case <-scanTicker.C:
			s.runScans(ctx)
		}
	}
}

func (s *Scheduler) runPipeline(ctx context.Context) {
	if _, err := s.pipeline.RunOnce(ctx); err != nil {
		slog.Error("Scheduled pipeline run failed", "error", err)
	}
}

func (s *Scheduler) runScans(ctx context.Context) {
	if _, err := s.scanner.DriftScan(ctx); err != nil {
		slog.Error("Drift scan failed", "error", err)
	}
	if _, err := s.scanner.StalenessScan(ctx); err != nil {
		slog.Error("Staleness scan failed", "error", err)
	}
	if _, err := s.scanner.FailureSpikeScan(ctx); err != nil {
		slog.Error("Failure spike scan failed", "error", err)
	}
}
