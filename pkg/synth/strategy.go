package synth

import (
	"fmt"

	"github.com/southpawriter02/twinraven/pkg/models"
)

// SkipFallback marks a step whose failure the composite may skip past.
const SkipFallback = "skip"

// AbortCondition renders the abort clause recorded for a step whose failure
// always sank the whole chain.
func AbortCondition(step int) string {
	return fmt.Sprintf("step_%d_failed", step)
}

// deriveErrorStrategy inspects failure patterns across the sample sessions:
//   - a step failing only in all-failed chains gets a matching abort condition
//   - a step failing while the chain still succeeded gets a skip fallback
//   - a step failing in under half its appearances gets a bounded retry
//   - steps with no observed failures fall to the default behavior (abort)
func deriveErrorStrategy(samples []SampleExecution, tools []string) models.ErrorStrategy {
	strategy := models.ErrorStrategy{
		StepRetries:     make(map[int]models.RetryPolicy),
		StepFallbacks:   make(map[int][]string),
		DefaultBehavior: models.BehaviorAbort,
	}

	for step := range tools {
		appearances := 0
		failures := 0
		chainRecovered := false
		alwaysFatal := true

		for _, s := range samples {
			appearances++
			if s.Events[step].Outcome != models.OutcomeFailure {
				continue
			}
			failures++
			chainFailed := s.Events[len(s.Events)-1].Outcome == models.OutcomeFailure
			if chainFailed {
				continue
			}
			chainRecovered = true
			alwaysFatal = false
		}

		if failures == 0 {
			continue
		}

		if alwaysFatal {
			strategy.AbortConditions = append(strategy.AbortConditions, AbortCondition(step))
		}
		if chainRecovered {
			strategy.StepFallbacks[step] = []string{SkipFallback}
		}
		if float64(failures)/float64(appearances) < 0.5 {
			strategy.StepRetries[step] = models.RetryPolicy{
				MaxAttempts: 3,
				Backoff:     models.BackoffExponential,
				BaseDelayMS: 1000,
			}
		}
	}

	return strategy
}
