// Package integrate is the thin wrapper contract between host agent
// frameworks and the collector: intercept a tool call, capture timing,
// forward the result or error untouched, emit one event.
package integrate

import (
	"context"
	"errors"
	"time"

	"github.com/southpawriter02/twinraven/pkg/collector"
	"github.com/southpawriter02/twinraven/pkg/models"
)

// ErrUnsupportedTool is returned when a tool cannot be wrapped.
var ErrUnsupportedTool = errors.New("unsupported tool")

// ToolFunc is the host framework's tool call shape.
type ToolFunc func(ctx context.Context, inputs map[string]any) (any, error)

// Wrapper instruments tool functions against one observation context. Like
// the context it wraps, it belongs to a single session.
type Wrapper struct {
	obs  *collector.ObservationContext
	tags []string
}

// NewWrapper creates a wrapper emitting events through obs. Tags are
// attached to every emitted event.
func NewWrapper(obs *collector.ObservationContext, tags ...string) *Wrapper {
	return &Wrapper{obs: obs, tags: tags}
}

// Wrap returns fn instrumented with timing and telemetry. The wrapped
// function's result and error pass through unchanged; recording failures
// never surface to the caller.
func (w *Wrapper) Wrap(toolID string, fn ToolFunc) (ToolFunc, error) {
	if toolID == "" || fn == nil {
		return nil, ErrUnsupportedTool
	}
	return func(ctx context.Context, inputs map[string]any) (any, error) {
		start := time.Now()
		output, err := fn(ctx, inputs)
		latency := int32(time.Since(start).Milliseconds())

		if err != nil {
			w.obs.Record(ctx, collector.RecordRequest{
				ToolID:    toolID,
				Inputs:    inputs,
				Output:    err.Error(),
				Outcome:   models.OutcomeFailure,
				Tags:      w.tags,
				LatencyMS: latency,
			})
			return output, err
		}
		w.obs.Record(ctx, collector.RecordRequest{
			ToolID:    toolID,
			Inputs:    inputs,
			Output:    output,
			Outcome:   models.OutcomeSuccess,
			Tags:      w.tags,
			LatencyMS: latency,
		})
		return output, nil
	}, nil
}
