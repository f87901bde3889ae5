package models

import (
	"time"

	"github.com/google/uuid"
)

// ToolStatus is the lifecycle state of a synthesized tool.
type ToolStatus string

const (
	StatusDraft    ToolStatus = "draft"
	StatusTesting  ToolStatus = "testing"
	StatusPromoted ToolStatus = "promoted"
	StatusRetired  ToolStatus = "retired"
)

// allowedTransitions encodes the lifecycle state machine. Retired is
// terminal; a reappearing chain produces a new tool or a new version.
var allowedTransitions = map[ToolStatus][]ToolStatus{
	StatusDraft:    {StatusTesting},
	StatusTesting:  {StatusDraft, StatusPromoted},
	StatusPromoted: {StatusRetired},
	StatusRetired:  {},
}

// CanTransition reports whether the lifecycle permits moving from one
// status to another.
func CanTransition(from, to ToolStatus) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// RetirementReason classifies why a tool left the promoted state.
type RetirementReason string

const (
	RetireManual       RetirementReason = "manual"
	RetireUnused       RetirementReason = "auto_unused"
	RetireDrift        RetirementReason = "drift"
	RetireFailureSpike RetirementReason = "failure_spike"
	RetireSuperseded   RetirementReason = "superseded"
)

// BackoffKind selects the retry delay curve.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy is the per-step retry configuration of an error strategy.
type RetryPolicy struct {
	MaxAttempts int         `json:"max_attempts"`
	Backoff     BackoffKind `json:"backoff"`
	BaseDelayMS int         `json:"base_delay_ms"`
}

// FailureBehavior is the default action when a step fails and no specific
// policy covers it.
type FailureBehavior string

const (
	BehaviorRetry FailureBehavior = "retry"
	BehaviorSkip  FailureBehavior = "skip"
	BehaviorAbort FailureBehavior = "abort"
)

// ErrorStrategy describes how a composite tool reacts to step failures.
type ErrorStrategy struct {
	StepRetries     map[int]RetryPolicy `json:"step_retries,omitempty"`
	StepFallbacks   map[int][]string    `json:"step_fallbacks,omitempty"`
	AbortConditions []string            `json:"abort_conditions,omitempty"`
	DefaultBehavior FailureBehavior     `json:"default_behavior"`
}

// StepDefinition is one step of a composite tool.
//
// InputMapping values are JSONPath-like sources: `$.parameters.<name>` for
// composite inputs, `$.steps[i].output.<field>` for upstream wiring, or a
// literal constant for everything else.
type StepDefinition struct {
	Index              int               `json:"index"`
	ToolID             string            `json:"tool_id"`
	InputMapping       map[string]string `json:"input_mapping"`
	Condition          string            `json:"condition,omitempty"`
	ParallelizableWith []int             `json:"parallelizable_with,omitempty"`
	TimeoutMS          *int              `json:"timeout_ms,omitempty"`
}

// SynthesizedTool is a proposed composite tool built from a candidate chain.
type SynthesizedTool struct {
	Slug           string                    `json:"slug"`
	Description    string                    `json:"description"`
	Parameters     map[string]any            `json:"parameters"`
	InternalWiring map[int]map[string]string `json:"internal_wiring"`
	Steps          []StepDefinition          `json:"steps"`
	ErrorStrategy  ErrorStrategy             `json:"error_strategy"`
	SourceChainID  uuid.UUID                 `json:"source_chain_id"`
	Version        int                       `json:"version"`
	Status         ToolStatus                `json:"status"`
	CreatedAt      time.Time                 `json:"created_at"`
	PromotedAt     *time.Time                `json:"promoted_at,omitempty"`
	RetiredAt      *time.Time                `json:"retired_at,omitempty"`
}
