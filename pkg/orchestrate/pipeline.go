// Package orchestrate drives the closed loop: mine candidates, filter,
// synthesize, validate, and register, plus the background scan schedule.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/southpawriter02/twinraven/pkg/miner"
	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/registry"
	"github.com/southpawriter02/twinraven/pkg/storage"
	"github.com/southpawriter02/twinraven/pkg/synth"
	"github.com/southpawriter02/twinraven/pkg/validator"
)

// Config tunes one pipeline run.
type Config struct {
	Mining models.MiningConfig
	// MaxFailureRate rejects candidates whose observed failure rate is too
	// high to be worth synthesizing.
	MaxFailureRate float64
	// MaxCandidates bounds how many mined candidates one run consumes.
	MaxCandidates int
}

// RunReport summarizes one pipeline pass.
type RunReport struct {
	Mined       int
	Rejected    int
	Synthesized int
	Promoted    int
	Testing     int
	Failed      int
}

func (r *RunReport) merge(delta RunReport) {
	r.Rejected += delta.Rejected
	r.Synthesized += delta.Synthesized
	r.Promoted += delta.Promoted
	r.Testing += delta.Testing
	r.Failed += delta.Failed
}

// Pipeline wires the stages together. All dependencies are explicit; no
// global state. Candidate consumption fans out to the worker pool, one job
// per candidate, so individual candidates can be cancelled mid-flight.
type Pipeline struct {
	miner      *miner.Miner
	synth      *synth.Synthesizer
	validator  *validator.Validator
	registry   *registry.Registry
	candidates storage.CandidateStore
	pool       *WorkerPool
	cfg        Config
}

// NewPipeline creates a pipeline running its candidate jobs on pool. The
// pool must be started by the caller.
func NewPipeline(m *miner.Miner, s *synth.Synthesizer, v *validator.Validator,
	r *registry.Registry, candidates storage.CandidateStore, pool *WorkerPool, cfg Config) *Pipeline {
	if cfg.MaxFailureRate <= 0 {
		cfg.MaxFailureRate = 0.3
	}
	return &Pipeline{miner: m, synth: s, validator: v, registry: r,
		candidates: candidates, pool: pool, cfg: cfg}
}

// candidateJobID names the pool job consuming one candidate; CancelCandidate
// uses the same derivation.
func candidateJobID(chainID uuid.UUID) string {
	return "candidate-" + chainID.String()
}

// CancelCandidate aborts the in-flight consumption of one candidate.
// Returns whether a running job was found.
func (p *Pipeline) CancelCandidate(chainID uuid.UUID) bool {
	return p.pool.Cancel(candidateJobID(chainID))
}

// RunOnce executes one full pass: mine, persist candidates, then consume
// each candidate as a pool job. The call returns once every submitted job
// has finished; per-candidate failures do not abort the pass.
func (p *Pipeline) RunOnce(ctx context.Context) (*RunReport, error) {
	chains, err := p.miner.Mine(ctx, p.cfg.Mining)
	if err != nil {
		return nil, fmt.Errorf("mining failed: %w", err)
	}
	if p.cfg.MaxCandidates > 0 && len(chains) > p.cfg.MaxCandidates {
		chains = chains[:p.cfg.MaxCandidates]
	}

	report := &RunReport{Mined: len(chains)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	var submitErr error
	for _, chain := range chains {
		if err := ctx.Err(); err != nil {
			submitErr = err
			break
		}
		if err := p.candidates.Save(ctx, chain); err != nil {
			if !errors.Is(err, storage.ErrDuplicateCandidate) {
				slog.Error("Failed to persist candidate", "chain_id", chain.ID, "error", err)
			}
			continue
		}

		chain := chain
		wg.Add(1)
		job := Job{
			ID: candidateJobID(chain.ID),
			Run: func(jobCtx context.Context) error {
				defer wg.Done()
				delta := p.consume(jobCtx, chain)
				mu.Lock()
				report.merge(delta)
				mu.Unlock()
				return nil
			},
		}
		if err := p.pool.SubmitWait(ctx, job); err != nil {
			wg.Done()
			submitErr = err
			slog.Warn("Candidate submission aborted", "chain_id", chain.ID, "error", err)
			break
		}
	}

	wg.Wait()
	if submitErr != nil {
		return report, submitErr
	}

	slog.Info("Pipeline run finished",
		"mined", report.Mined, "rejected", report.Rejected,
		"promoted", report.Promoted, "testing", report.Testing, "failed", report.Failed)
	return report, nil
}

// consume runs one candidate through filter, synthesis, validation, and
// registration, then discards it. Runs inside a pool job.
func (p *Pipeline) consume(ctx context.Context, chain *models.CandidateChain) RunReport {
	var delta RunReport
	defer p.discard(ctx, chain)

	if chain.FailureRate > p.cfg.MaxFailureRate {
		slog.Info("Rejected candidate, failure rate too high",
			"chain_id", chain.ID, "failure_rate", chain.FailureRate, "limit", p.cfg.MaxFailureRate)
		delta.Rejected++
		return delta
	}

	tool, err := p.synth.Synthesize(ctx, chain)
	if err != nil {
		slog.Error("Synthesis failed", "chain_id", chain.ID, "error", err)
		delta.Failed++
		return delta
	}
	delta.Synthesized++

	result, err := p.validator.Validate(ctx, tool)
	if err != nil {
		if errors.Is(err, validator.ErrInsufficientData) {
			slog.Warn("Validation skipped, not enough replay sessions",
				"slug", tool.Slug, "error", err)
		} else {
			slog.Error("Validation failed", "slug", tool.Slug, "error", err)
		}
		delta.Failed++
		return delta
	}

	switch tool.Status {
	case models.StatusPromoted, models.StatusTesting:
		if _, err := p.registry.Register(ctx, tool, result, chain); err != nil {
			slog.Error("Registration failed", "slug", tool.Slug, "error", err)
			delta.Failed++
			return delta
		}
		if tool.Status == models.StatusPromoted {
			delta.Promoted++
		} else {
			delta.Testing++
		}
	default:
		slog.Info("Tool failed validation, staying draft",
			"slug", tool.Slug, "reasons", result.FailureReasons)
		delta.Failed++
	}
	return delta
}

func (p *Pipeline) discard(ctx context.Context, chain *models.CandidateChain) {
	if err := p.candidates.Delete(ctx, chain.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("Failed to delete consumed candidate", "chain_id", chain.ID, "error", err)
	}
}
