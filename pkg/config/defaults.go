package config

import (
	"time"

	"github.com/southpawriter02/twinraven/pkg/models"
)

// GetBuiltinConfig returns the built-in defaults user configuration merges
// over.
func GetBuiltinConfig() *Config {
	return &Config{
		Collector: CollectorConfig{
			Compression:         false,
			MaxOutputLength:     2000,
			SummaryMaxTokens:    500,
			BufferMode:          "immediate",
			BufferMaxEvents:     50,
			BufferFlushInterval: 5 * time.Second,
		},
		Mining: models.MiningConfig{
			Algorithm:            models.AlgorithmPrefixSpan,
			MinSupport:           0.3,
			MinConfidence:        0.6,
			MaxChainLength:       6,
			TimeWindowSeconds:    300,
			CollapseRepeats:      true,
			MaxSampleEvents:      10,
			SubsumptionThreshold: 0.1,
			SampleRate:           1.0,
		},
		Synthesis: SynthesisConfig{
			SampleLimit:      3,
			MaxTokens:        4000,
			MaxParallelSteps: 4,
		},
		Validation: ValidationConfig{
			MinReplaySessions:    10,
			EquivalenceThreshold: 0.95,
			MaxLatencyRegression: 1.2,
			SimilarityMethod:     string(models.SimilarityCosineTFIDF),
			ApprovalRequired:     false,
		},
		Registry: RegistryConfig{
			Dir:                   "generated",
			DriftThreshold:        0.5,
			AutoRetireOnDrift:     false,
			DriftWindow:           7 * 24 * time.Hour,
			AutoRetireAfterDays:   30,
			FailureSpikeThreshold: 0.3,
		},
		Retention: RetentionConfig{
			EventRetention: 90 * 24 * time.Hour,
			CandidateTTL:   14 * 24 * time.Hour,
			Interval:       time.Hour,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			APIKeyEnv:   "TWINRAVEN_LLM_API_KEY",
			Timeout:     120 * time.Second,
			MaxAttempts: 3,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Orchestrator: OrchestratorConfig{
			RunInterval:    time.Hour,
			ScanInterval:   6 * time.Hour,
			MaxFailureRate: 0.3,
			MaxCandidates:  20,
			WorkerCount:    2,
			MiningWindow:   7 * 24 * time.Hour,
		},
	}
}
