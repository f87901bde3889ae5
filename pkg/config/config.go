// Package config loads, merges, and validates the application
// configuration: built-in defaults, a user defaults file, a project
// override file, and TWINRAVEN__SECTION__KEY environment overrides.
package config

import (
	"time"

	"github.com/southpawriter02/twinraven/pkg/models"
)

// Config is the fully merged and validated application configuration.
type Config struct {
	Collector    CollectorConfig    `yaml:"collector"`
	Mining       models.MiningConfig `yaml:"mining"`
	Synthesis    SynthesisConfig    `yaml:"synthesis"`
	Validation   ValidationConfig   `yaml:"validation"`
	Registry     RegistryConfig     `yaml:"registry"`
	Retention    RetentionConfig    `yaml:"retention"`
	LLM          LLMConfig          `yaml:"llm"`
	API          APIConfig          `yaml:"api"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Masking      MaskingConfig      `yaml:"masking"`
}

// CollectorConfig mirrors the collector's tunables.
type CollectorConfig struct {
	Compression         bool          `yaml:"compression"`
	MaxOutputLength     int           `yaml:"max_output_length"`
	SummaryMaxTokens    int           `yaml:"summary_max_tokens"`
	BufferMode          string        `yaml:"buffer_mode"`
	BufferMaxEvents     int           `yaml:"buffer_max_events"`
	BufferFlushInterval time.Duration `yaml:"buffer_flush_interval"`
}

// SynthesisConfig mirrors the synthesizer's tunables.
type SynthesisConfig struct {
	SampleLimit      int `yaml:"sample_limit"`
	MaxTokens        int `yaml:"max_tokens"`
	MaxParallelSteps int `yaml:"max_parallel_steps"`
}

// ValidationConfig mirrors the validator's tunables.
type ValidationConfig struct {
	MinReplaySessions    int     `yaml:"min_replay_sessions"`
	EquivalenceThreshold float64 `yaml:"equivalence_threshold"`
	MaxLatencyRegression float64 `yaml:"max_latency_regression"`
	SimilarityMethod     string  `yaml:"similarity_method"`
	ApprovalRequired     bool    `yaml:"approval_required"`
}

// RegistryConfig holds the registry's file root and scan tunables.
type RegistryConfig struct {
	Dir                   string        `yaml:"dir"`
	DriftThreshold        float64       `yaml:"drift_threshold"`
	AutoRetireOnDrift     bool          `yaml:"auto_retire_on_drift"`
	DriftWindow           time.Duration `yaml:"drift_window"`
	AutoRetireAfterDays   int           `yaml:"auto_retire_after_days"`
	FailureSpikeThreshold float64       `yaml:"failure_spike_threshold"`
}

// RetentionConfig holds the cleanup service tunables.
type RetentionConfig struct {
	EventRetention time.Duration `yaml:"event_retention"`
	CandidateTTL   time.Duration `yaml:"candidate_ttl"`
	Interval       time.Duration `yaml:"interval"`
}

// LLMConfig configures the provider boundary. The API key is read from the
// named environment variable, never from the file itself.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// APIConfig configures the HTTP query surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// OrchestratorConfig configures the background pipeline.
type OrchestratorConfig struct {
	RunInterval    time.Duration `yaml:"run_interval"`
	ScanInterval   time.Duration `yaml:"scan_interval"`
	MaxFailureRate float64       `yaml:"max_failure_rate"`
	MaxCandidates  int           `yaml:"max_candidates"`
	WorkerCount    int           `yaml:"worker_count"`
	MiningWindow   time.Duration `yaml:"mining_window"`
}

// MaskingConfig toggles payload masking.
type MaskingConfig struct {
	Enabled bool `yaml:"enabled"`
}
