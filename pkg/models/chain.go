package models

import (
	"time"

	"github.com/google/uuid"
)

// MiningAlgorithm selects the pattern mining engine.
type MiningAlgorithm string

const (
	AlgorithmPrefixSpan MiningAlgorithm = "prefixspan"
	AlgorithmGSP        MiningAlgorithm = "gsp"
)

// MiningConfig parameterizes one mining run. A snapshot of the config is
// stored on every candidate it produced.
type MiningConfig struct {
	Algorithm            MiningAlgorithm `json:"algorithm" yaml:"algorithm"`
	MinSupport           float64         `json:"min_support" yaml:"min_support"`
	MinConfidence        float64         `json:"min_confidence" yaml:"min_confidence"`
	MaxChainLength       int             `json:"max_chain_length" yaml:"max_chain_length"`
	TimeWindowSeconds    float64         `json:"time_window_seconds" yaml:"time_window_seconds"`
	Since                time.Time       `json:"since" yaml:"since"`
	Until                time.Time       `json:"until" yaml:"until"`
	SessionIDs           []string        `json:"session_ids,omitempty" yaml:"session_ids,omitempty"`
	CollapseRepeats      bool            `json:"collapse_repeats" yaml:"collapse_repeats"`
	MaxSampleEvents      int             `json:"max_sample_events" yaml:"max_sample_events"`
	SubsumptionThreshold float64         `json:"subsumption_threshold" yaml:"subsumption_threshold"`
	SampleRate           float64         `json:"sample_rate" yaml:"sample_rate"`
}

// CandidateChain is a repeated tool sequence mined from session histories.
// Candidates are immutable after save; they are deleted by the orchestration
// layer once consumed or rejected.
type CandidateChain struct {
	ID             uuid.UUID    `json:"chain_id"`
	Tools          []string     `json:"tools"`
	Support        float64      `json:"support"`
	Confidence     float64      `json:"confidence"`
	AvgLatencyMS   float64      `json:"avg_latency_ms"`
	FailureRate    float64      `json:"failure_rate"`
	SampleEventIDs []uuid.UUID  `json:"sample_event_ids"`
	DiscoveredAt   time.Time    `json:"discovered_at"`
	MiningConfig   MiningConfig `json:"mining_config"`
}
