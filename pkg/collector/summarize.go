package collector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/southpawriter02/twinraven/pkg/canonical"
	"github.com/southpawriter02/twinraven/pkg/llm"
)

const truncationMarker = " …[truncated]"

const summarizePromptTemplate = `You are compressing tool output for a telemetry log.

Tool: %s

Summarize the following output in at most %d tokens. Preserve identifiers,
counts, error messages, and any values later steps might consume. Output the
summary only, no preamble.

Output:
%s`

// summarizeOutput serializes the output canonically and, when compression is
// enabled and the serialized form exceeds the limit, asks the provider for a
// summary. An LLM failure degrades to truncation.
func (c *Collector) summarizeOutput(ctx context.Context, toolID string, output any) *string {
	if output == nil {
		return nil
	}

	var serialized string
	if s, ok := output.(string); ok {
		serialized = s
	} else {
		data, err := canonical.Marshal(output)
		if err != nil {
			serialized = fmt.Sprintf("%v", output)
		} else {
			serialized = string(data)
		}
	}

	if !c.cfg.Compression || len(serialized) <= c.cfg.MaxOutputLength {
		if len(serialized) > c.cfg.MaxOutputLength {
			serialized = truncateOutput(serialized, c.cfg.MaxOutputLength)
		}
		return &serialized
	}

	if c.provider == nil {
		out := truncateOutput(serialized, c.cfg.MaxOutputLength)
		return &out
	}

	prompt := fmt.Sprintf(summarizePromptTemplate, toolID, c.cfg.SummaryMaxTokens, serialized)
	resp, err := c.provider.Generate(ctx, llm.GenerateRequest{
		Prompt:      prompt,
		MaxTokens:   c.cfg.SummaryMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		slog.Warn("Output summarization failed, falling back to truncation",
			"tool_id", toolID, "error", err)
		out := truncateOutput(serialized, c.cfg.MaxOutputLength)
		return &out
	}

	summary := resp.Content
	return &summary
}

func truncateOutput(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + truncationMarker
}
