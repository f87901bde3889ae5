// Package synth turns candidate chains into synthesized composite tools via
// deterministic parameter-flow analysis and an LLM proposal step.
package synth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/southpawriter02/twinraven/pkg/canonical"
	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/storage"
)

// ParamClass classifies one input key of one step.
type ParamClass string

const (
	// ClassExternal keys come from the composite tool's own parameters.
	ClassExternal ParamClass = "external"
	// ClassWiring keys are fed from a prior step's output.
	ClassWiring ParamClass = "internal_wiring"
	// ClassConstant keys carry the same literal in every sample.
	ClassConstant ParamClass = "constant"
	// ClassAmbiguous keys could not be classified; the LLM resolves them.
	ClassAmbiguous ParamClass = "ambiguous"
)

// ParamHint is one classified input key, injected into the prompt as a
// structured hint.
type ParamHint struct {
	Step       int        `json:"step"`
	Key        string     `json:"key"`
	Class      ParamClass `json:"class"`
	SourceStep int        `json:"source_step,omitempty"`
	Constant   any        `json:"constant,omitempty"`
}

// SampleExecution is one observed occurrence of the chain in a session.
type SampleExecution struct {
	SessionID string
	Events    []*models.Event
}

// fetchSamples resolves each sample event ID to the sub-sequence of session
// events matching the chain's tool order.
func fetchSamples(ctx context.Context, store storage.EventStore, chain *models.CandidateChain) ([]SampleExecution, error) {
	var samples []SampleExecution
	seen := make(map[string]bool)
	for _, id := range chain.SampleEventIDs {
		event, err := store.GetByID(ctx, id)
		if err != nil {
			continue // pruned since mining; provenance is best-effort
		}
		if seen[event.SessionID] {
			continue
		}
		seen[event.SessionID] = true

		sessionEvents, err := store.GetBySession(ctx, event.SessionID, storage.OrderTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", event.SessionID, err)
		}
		matched := matchChain(sessionEvents, chain.Tools)
		if matched != nil {
			samples = append(samples, SampleExecution{SessionID: event.SessionID, Events: matched})
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no sample sessions could be reconstructed for chain %s", chain.ID)
	}
	return samples, nil
}

func matchChain(events []*models.Event, tools []string) []*models.Event {
	matched := make([]*models.Event, 0, len(tools))
	i := 0
	for _, e := range events {
		if i < len(tools) && e.ToolID == tools[i] {
			matched = append(matched, e)
			i++
		}
	}
	if i < len(tools) {
		return nil
	}
	return matched
}

// analyzeFlow classifies every input key of every step across the samples.
// The result reduces hallucination: the LLM only resolves what the recorded
// data cannot.
func analyzeFlow(samples []SampleExecution, tools []string) []ParamHint {
	var hints []ParamHint
	for step := range tools {
		keys := collectKeys(samples, step)
		for _, key := range keys {
			hints = append(hints, classifyKey(samples, step, key))
		}
	}
	return hints
}

func collectKeys(samples []SampleExecution, step int) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, s := range samples {
		for k := range s.Events[step].InputParams {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func classifyKey(samples []SampleExecution, step int, key string) ParamHint {
	hint := ParamHint{Step: step, Key: key}

	// Step 0 inputs are external by definition.
	if step == 0 {
		hint.Class = ClassExternal
		return hint
	}

	// Internal wiring: the value surfaces in the previous step's output in
	// every sample that carries the key.
	wired := true
	observed := 0
	for _, s := range samples {
		val, ok := s.Events[step].InputParams[key]
		if !ok {
			continue
		}
		observed++
		prev := s.Events[step-1].OutputSummary
		if prev == nil || !containsValue(*prev, val) {
			wired = false
			break
		}
	}
	if observed > 0 && wired {
		hint.Class = ClassWiring
		hint.SourceStep = step - 1
		return hint
	}

	// External: the same key appears in step 0's inputs with the same value.
	external := observed > 0
	for _, s := range samples {
		val, ok := s.Events[step].InputParams[key]
		if !ok {
			continue
		}
		rootVal, rootOk := s.Events[0].InputParams[key]
		if !rootOk || !sameValue(val, rootVal) {
			external = false
			break
		}
	}
	if external {
		hint.Class = ClassExternal
		return hint
	}

	// Constant: an identical value in every sample.
	var first any
	constant := observed > 0
	for i, s := range samples {
		val, ok := s.Events[step].InputParams[key]
		if !ok {
			constant = false
			break
		}
		if i == 0 {
			first = val
		} else if !sameValue(val, first) {
			constant = false
			break
		}
	}
	if constant {
		hint.Class = ClassConstant
		hint.Constant = first
		return hint
	}

	hint.Class = ClassAmbiguous
	return hint
}

// containsValue reports whether a recorded output summary carries the
// serialized value.
func containsValue(summary string, val any) bool {
	if s, ok := val.(string); ok {
		return s != "" && strings.Contains(summary, s)
	}
	data, err := canonical.Marshal(val)
	if err != nil {
		return false
	}
	return len(data) > 0 && strings.Contains(summary, string(data))
}

func sameValue(a, b any) bool {
	da, err1 := canonical.Marshal(a)
	db, err2 := canonical.Marshal(b)
	return err1 == nil && err2 == nil && string(da) == string(db)
}

// Slug derives the composite tool's identifier from its constituent tool
// names.
func Slug(tools []string) string {
	parts := make([]string, len(tools))
	for i, t := range tools {
		parts[i] = sanitizeSlugPart(t)
	}
	return strings.Join(parts, "-")
}

func sanitizeSlugPart(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
