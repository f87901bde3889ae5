package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal result of one observed tool call.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Valid reports whether the outcome is one of the known values.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomePartial:
		return true
	}
	return false
}

// Event records a single tool invocation within a session.
//
// Events are written once and never mutated, with one documented exception:
// the successor link of the previous event in the same session is backfilled
// when the next event is recorded. Predecessor/successor form a forward
// linked list consistent with timestamp order; gaps are tolerated and
// repaired at read time by chain reconstruction.
type Event struct {
	ID            uuid.UUID      `json:"event_id"`
	SessionID     string         `json:"session_id"`
	ToolID        string         `json:"tool_id"`
	InputHash     string         `json:"input_hash"`
	InputParams   map[string]any `json:"input_params"`
	OutputSummary *string        `json:"output_summary,omitempty"`
	Predecessor   *uuid.UUID     `json:"predecessor,omitempty"`
	Successor     *uuid.UUID     `json:"successor,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	LatencyMS     int32          `json:"latency_ms"`
	Outcome       Outcome        `json:"outcome"`
	Tags          []string       `json:"tags"`
}
