package config

import (
	"errors"
	"fmt"

	"github.com/southpawriter02/twinraven/pkg/miner"
	"github.com/southpawriter02/twinraven/pkg/models"
)

// validate checks the merged configuration. The first failure is returned;
// startup treats any failure as fatal.
func validate(cfg *Config) error {
	if err := miner.ValidateConfig(cfg.Mining); err != nil {
		return &ValidationError{Section: "mining", Err: err}
	}

	switch cfg.Collector.BufferMode {
	case "immediate", "buffered":
	default:
		return &ValidationError{Section: "collector", Field: "buffer_mode",
			Err: fmt.Errorf("must be 'immediate' or 'buffered', got %q", cfg.Collector.BufferMode)}
	}
	if cfg.Collector.MaxOutputLength < 1 {
		return &ValidationError{Section: "collector", Field: "max_output_length",
			Err: errors.New("must be positive")}
	}

	if cfg.Validation.MinReplaySessions < 1 {
		return &ValidationError{Section: "validation", Field: "min_replay_sessions",
			Err: errors.New("must be at least 1")}
	}
	if cfg.Validation.EquivalenceThreshold <= 0 || cfg.Validation.EquivalenceThreshold > 1 {
		return &ValidationError{Section: "validation", Field: "equivalence_threshold",
			Err: errors.New("must be in (0, 1]")}
	}
	if cfg.Validation.MaxLatencyRegression <= 0 {
		return &ValidationError{Section: "validation", Field: "max_latency_regression",
			Err: errors.New("must be positive")}
	}
	switch models.SimilarityMethod(cfg.Validation.SimilarityMethod) {
	case models.SimilarityExactMatch, models.SimilarityCosineTFIDF:
	default:
		return &ValidationError{Section: "validation", Field: "similarity_method",
			Err: fmt.Errorf("unknown method %q", cfg.Validation.SimilarityMethod)}
	}

	if cfg.Registry.Dir == "" {
		return &ValidationError{Section: "registry", Field: "dir", Err: errors.New("is required")}
	}
	if cfg.Registry.DriftThreshold <= 0 || cfg.Registry.DriftThreshold > 1 {
		return &ValidationError{Section: "registry", Field: "drift_threshold",
			Err: errors.New("must be in (0, 1]")}
	}
	if cfg.Registry.FailureSpikeThreshold <= 0 || cfg.Registry.FailureSpikeThreshold > 1 {
		return &ValidationError{Section: "registry", Field: "failure_spike_threshold",
			Err: errors.New("must be in (0, 1]")}
	}

	if cfg.Orchestrator.MaxFailureRate <= 0 || cfg.Orchestrator.MaxFailureRate > 1 {
		return &ValidationError{Section: "orchestrator", Field: "max_failure_rate",
			Err: errors.New("must be in (0, 1]")}
	}
	if cfg.Orchestrator.WorkerCount < 1 {
		return &ValidationError{Section: "orchestrator", Field: "worker_count",
			Err: errors.New("must be at least 1")}
	}

	// The LLM boundary is optional until compression or synthesis is used;
	// a configured model with no key env is a misconfiguration.
	if cfg.LLM.Model != "" && cfg.LLM.APIKeyEnv == "" {
		return &ValidationError{Section: "llm", Field: "api_key_env", Err: errors.New("is required when a model is set")}
	}

	return nil
}
