package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/southpawriter02/twinraven/pkg/canonical"
	"github.com/southpawriter02/twinraven/pkg/models"
)

// RecordRequest carries the observation of one tool call.
type RecordRequest struct {
	ToolID  string
	Inputs  map[string]any
	Output  any
	Outcome models.Outcome
	Tags    []string
	// LatencyMS is the measured execution time. Zero means the caller did
	// not time the call.
	LatencyMS int32
}

// backfill is a deferred successor update, batched in buffered mode.
type backfill struct {
	pred uuid.UUID
	succ uuid.UUID
}

// ObservationContext is the private sequential owner of one session's write
// chain. It must not be shared across concurrent tasks; different sessions
// use separate contexts.
type ObservationContext struct {
	collector *Collector
	sessionID string

	previous   *models.Event
	eventCount int
	closed     bool

	buffer    []*models.Event
	backfills []backfill
	lastFlush time.Time
}

// SessionID returns the session this context writes for.
func (o *ObservationContext) SessionID() string { return o.sessionID }

// EventCount returns how many events were recorded so far.
func (o *ObservationContext) EventCount() int { return o.eventCount }

// Record observes one tool call. Telemetry failures past the open context
// are never propagated to the agent: a failed append drops the event with an
// error log and the session continues with a chain gap.
func (o *ObservationContext) Record(ctx context.Context, req RecordRequest) {
	if o.closed {
		slog.Error("Record on closed observation context", "session_id", o.sessionID, "tool_id", req.ToolID)
		return
	}
	if !req.Outcome.Valid() {
		req.Outcome = models.OutcomePartial
	}

	summary := o.collector.summarizeOutput(ctx, req.ToolID, req.Output)

	hash, err := canonical.Hash(req.Inputs)
	if err != nil {
		slog.Error("Failed to hash inputs, dropping event",
			"session_id", o.sessionID, "tool_id", req.ToolID, "error", err)
		return
	}

	inputs := req.Inputs
	if o.collector.masker != nil {
		inputs = o.collector.masker.MaskParams(inputs)
		if summary != nil {
			masked := o.collector.masker.MaskString(*summary)
			summary = &masked
		}
	}

	event := &models.Event{
		ID:            uuid.New(),
		SessionID:     o.sessionID,
		ToolID:        req.ToolID,
		InputHash:     hash,
		InputParams:   inputs,
		OutputSummary: summary,
		Timestamp:     time.Now().UTC(),
		LatencyMS:     max(req.LatencyMS, 0),
		Outcome:       req.Outcome,
		Tags:          req.Tags,
	}
	if o.previous != nil {
		pred := o.previous.ID
		event.Predecessor = &pred
	}

	if o.collector.cfg.BufferMode == BufferBatched {
		o.recordBuffered(ctx, event)
		return
	}
	o.recordImmediate(ctx, event)
}

// RecordFailure observes a failed tool call: the error text becomes the
// stored summary and the outcome is failure. Failures are telemetry, never
// fatal to the context.
func (o *ObservationContext) RecordFailure(ctx context.Context, toolID string, inputs map[string]any, callErr error, tags ...string) {
	var output any
	if callErr != nil {
		output = callErr.Error()
	}
	o.Record(ctx, RecordRequest{
		ToolID:  toolID,
		Inputs:  inputs,
		Output:  output,
		Outcome: models.OutcomeFailure,
		Tags:    tags,
	})
}

func (o *ObservationContext) recordImmediate(ctx context.Context, event *models.Event) {
	// Backfill the forward link first; a failed backfill is an acceptable
	// gap, repaired by chain reconstruction at read time.
	if o.previous != nil {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := o.collector.store.UpdateSuccessor(writeCtx, o.previous.ID, event.ID)
		cancel()
		if err != nil {
			slog.Warn("Successor backfill failed, chain will have a gap",
				"session_id", o.sessionID, "predecessor", o.previous.ID, "error", err)
		}
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err := o.collector.store.Append(writeCtx, event)
	cancel()
	if err != nil {
		slog.Error("Failed to append event, dropping",
			"session_id", o.sessionID, "tool_id", event.ToolID, "error", err)
		return
	}
	o.previous = event
	o.eventCount++
}

func (o *ObservationContext) recordBuffered(ctx context.Context, event *models.Event) {
	// Linking works in memory: events still in the buffer get their
	// successor set directly; already-flushed predecessors get a deferred
	// backfill applied at the next flush.
	if o.previous != nil {
		if buffered := o.findBuffered(o.previous.ID); buffered != nil {
			succ := event.ID
			buffered.Successor = &succ
		} else {
			o.backfills = append(o.backfills, backfill{pred: o.previous.ID, succ: event.ID})
		}
	}
	o.buffer = append(o.buffer, event)
	o.previous = event
	o.eventCount++

	if len(o.buffer) >= o.collector.cfg.BufferMaxEvents ||
		time.Since(o.lastFlush) >= o.collector.cfg.BufferFlushInterval {
		o.flush(ctx)
	}
}

func (o *ObservationContext) findBuffered(id uuid.UUID) *models.Event {
	for _, e := range o.buffer {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// flush writes the buffered batch. A failed batch is dropped with an error
// log; the session continues.
func (o *ObservationContext) flush(ctx context.Context) {
	if len(o.buffer) == 0 && len(o.backfills) == 0 {
		return
	}

	if len(o.buffer) > 0 {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := o.collector.store.AppendBatch(writeCtx, o.buffer)
		cancel()
		if err != nil {
			slog.Error("Buffered flush failed, dropping batch",
				"session_id", o.sessionID, "events", len(o.buffer), "error", err)
			o.buffer = nil
			o.backfills = nil
			o.lastFlush = time.Now()
			return
		}
	}

	for _, bf := range o.backfills {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := o.collector.store.UpdateSuccessor(writeCtx, bf.pred, bf.succ)
		cancel()
		if err != nil {
			slog.Warn("Successor backfill failed, chain will have a gap",
				"session_id", o.sessionID, "predecessor", bf.pred, "error", err)
		}
	}

	o.buffer = nil
	o.backfills = nil
	o.lastFlush = time.Now()
}

// Close flushes any buffered events and logs the session summary. Events
// already committed stay durable regardless of how the session ended.
func (o *ObservationContext) Close(ctx context.Context) {
	if o.closed {
		return
	}
	o.closed = true
	o.flush(ctx)
	slog.Info("Observation context closed",
		"session_id", o.sessionID, "events", o.eventCount)
}
