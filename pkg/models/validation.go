package models

import (
	"time"

	"github.com/google/uuid"
)

// SimilarityMethod selects how projected and recorded outputs are compared.
type SimilarityMethod string

const (
	SimilarityExactMatch  SimilarityMethod = "exact_match"
	SimilarityCosineTFIDF SimilarityMethod = "cosine_tfidf"
)

// ValidationResult aggregates the three offline replay checks: output
// equivalence, latency regression, and error parity.
type ValidationResult struct {
	ID               uuid.UUID        `json:"validation_id"`
	ToolSlug         string           `json:"tool_slug"`
	ToolVersion      int              `json:"tool_version"`
	SessionsReplayed int              `json:"sessions_replayed"`
	MeanSimilarity   float64          `json:"mean_similarity"`
	MinSimilarity    float64          `json:"min_similarity"`
	SimilarityMethod SimilarityMethod `json:"similarity_method"`
	Threshold        float64          `json:"threshold"`
	ErrorParity      bool             `json:"error_parity"`
	LatencyRatio     float64          `json:"latency_ratio"`
	Passed           bool             `json:"passed"`
	FailureReasons   []string         `json:"failure_reasons,omitempty"`
	ValidatedAt      time.Time        `json:"validated_at"`
}
