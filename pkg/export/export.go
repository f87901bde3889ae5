// Package export streams telemetry events out of the store into
// line-delimited JSON, columnar Parquet, and trace spans. Exporters never
// hold the full event set in memory.
package export

import (
	"context"
	"errors"
	"iter"

	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/storage"
)

// ErrDestinationExists is returned when an export target file is already
// present; exporters never overwrite.
var ErrDestinationExists = errors.New("export destination already exists")

// Events is the streaming source every exporter consumes. The consumer's
// pace naturally backpressures the producer.
type Events = iter.Seq2[*models.Event, error]

// FromSlice adapts an in-memory slice, mostly for tests.
func FromSlice(events []*models.Event) Events {
	return func(yield func(*models.Event, error) bool) {
		for _, e := range events {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// FromSessions streams the given sessions' events in timestamp order, one
// session at a time, so memory stays bounded by the largest session.
func FromSessions(ctx context.Context, store storage.EventStore, sessionIDs []string) Events {
	return func(yield func(*models.Event, error) bool) {
		for _, sid := range sessionIDs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			events, err := store.GetBySession(ctx, sid, storage.OrderTimestamp)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, e := range events {
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}
