package synth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/southpawriter02/twinraven/pkg/models"
)

// promptBuilder assembles the synthesis prompt: chain statistics, the
// classified parameter inventory, sample executions, and the strict output
// contract.
type promptBuilder struct {
	sampleLimit int
}

func (b *promptBuilder) build(chain *models.CandidateChain, hints []ParamHint, samples []SampleExecution, feedback []string) string {
	var sb strings.Builder

	sb.WriteString("You are designing a composite tool that collapses a repeated tool sequence into a single callable.\n\n")

	sb.WriteString("## Tool sequence\n")
	for i, t := range chain.Tools {
		fmt.Fprintf(&sb, "%d. %s\n", i, t)
	}
	fmt.Fprintf(&sb, "\nObserved statistics: support=%.3f confidence=%.3f avg_latency_ms=%.0f failure_rate=%.3f\n\n",
		chain.Support, chain.Confidence, chain.AvgLatencyMS, chain.FailureRate)

	sb.WriteString("## Parameter inventory (deterministic analysis, trust it)\n")
	for _, h := range hints {
		switch h.Class {
		case ClassWiring:
			fmt.Fprintf(&sb, "- step %d input %q: wired from step %d output\n", h.Step, h.Key, h.SourceStep)
		case ClassConstant:
			constJSON, _ := json.Marshal(h.Constant)
			fmt.Fprintf(&sb, "- step %d input %q: constant %s\n", h.Step, h.Key, constJSON)
		case ClassExternal:
			fmt.Fprintf(&sb, "- step %d input %q: external parameter\n", h.Step, h.Key)
		default:
			fmt.Fprintf(&sb, "- step %d input %q: ambiguous, decide the best source\n", h.Step, h.Key)
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Sample executions\n")
	limit := b.sampleLimit
	if limit <= 0 || limit > len(samples) {
		limit = len(samples)
	}
	for i := 0; i < limit; i++ {
		s := samples[i]
		fmt.Fprintf(&sb, "### Sample %d\n", i+1)
		for j, e := range s.Events {
			inputs, _ := json.Marshal(e.InputParams)
			out := ""
			if e.OutputSummary != nil {
				out = *e.OutputSummary
			}
			fmt.Fprintf(&sb, "step %d %s inputs=%s outcome=%s output=%s\n", j, e.ToolID, inputs, e.Outcome, out)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`## Output contract
Respond with a single JSON object, no prose, with fields:
- "description": one sentence describing what the composite does.
- "parameters": a JSON Schema (draft 2020-12) object describing the composite's external inputs.
- "steps": one entry per tool in sequence order, each with:
  - "index": zero-based position, matching the sequence above.
  - "tool_id": the underlying tool.
  - "input_mapping": map of input key to source. Sources are "$.parameters.<name>",
    "$.steps[<i>].output.<field>" for a prior step's output, or a literal constant string.
  - "condition" (optional): a guard over parameters.<name> / wiring.<step>.<field>
    comparisons combined with && || ! only. No function calls.
  - "parallelizable_with" (optional): indices of sibling steps that can run concurrently.
  - "timeout_ms" (optional): per-step timeout.
`)

	if len(feedback) > 0 {
		sb.WriteString("\n## Previous attempt was rejected, fix these errors\n")
		for _, f := range feedback {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}

	return sb.String()
}
