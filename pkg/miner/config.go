// Package miner discovers repeated tool sequences in session histories and
// turns them into candidate chains.
package miner

import (
	"fmt"

	"github.com/southpawriter02/twinraven/pkg/models"
)

// maxSampleEventsCap bounds provenance samples per candidate.
const maxSampleEventsCap = 10

// ConfigError reports an out-of-range mining parameter. It is returned
// before any store access.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid mining config: field '%s': %s", e.Field, e.Reason)
}

// ValidateConfig checks every range constraint of a mining config.
func ValidateConfig(cfg models.MiningConfig) error {
	switch cfg.Algorithm {
	case models.AlgorithmPrefixSpan, models.AlgorithmGSP:
	default:
		return &ConfigError{Field: "algorithm", Reason: fmt.Sprintf("unknown algorithm %q", cfg.Algorithm)}
	}
	if cfg.MinSupport <= 0 || cfg.MinSupport > 1 {
		return &ConfigError{Field: "min_support", Reason: "must be in (0, 1]"}
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return &ConfigError{Field: "min_confidence", Reason: "must be in [0, 1]"}
	}
	if cfg.MaxChainLength < 2 {
		return &ConfigError{Field: "max_chain_length", Reason: "must be at least 2"}
	}
	if cfg.Algorithm == models.AlgorithmGSP && cfg.TimeWindowSeconds <= 0 {
		return &ConfigError{Field: "time_window_seconds", Reason: "must be positive for gsp"}
	}
	if cfg.SubsumptionThreshold < 0 || cfg.SubsumptionThreshold > 1 {
		return &ConfigError{Field: "subsumption_threshold", Reason: "must be in [0, 1]"}
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1 {
		return &ConfigError{Field: "sample_rate", Reason: "must be in (0, 1]"}
	}
	if cfg.MaxSampleEvents < 0 {
		return &ConfigError{Field: "max_sample_events", Reason: "cannot be negative"}
	}
	if !cfg.Until.IsZero() && !cfg.Since.IsZero() && cfg.Until.Before(cfg.Since) {
		return &ConfigError{Field: "until", Reason: "must not precede since"}
	}
	return nil
}

// effectiveSampleCap returns the configured sample count clamped to the
// provenance limit.
func effectiveSampleCap(cfg models.MiningConfig) int {
	n := cfg.MaxSampleEvents
	if n <= 0 || n > maxSampleEventsCap {
		n = maxSampleEventsCap
	}
	return n
}
