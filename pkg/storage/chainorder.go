package storage

import (
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/southpawriter02/twinraven/pkg/models"
)

// OrderByChain arranges a session's events by walking successor links from
// the head (the event with no predecessor). Events unreachable from the head
// are appended at the end sorted by timestamp. A cycle breaks the walk with
// a warning and the remainder degrades to timestamp order.
func OrderByChain(events []*models.Event) []*models.Event {
	if len(events) <= 1 {
		return events
	}

	byID := make(map[uuid.UUID]*models.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}

	var head *models.Event
	for _, e := range events {
		if e.Predecessor == nil || byID[*e.Predecessor] == nil {
			if head == nil || e.Timestamp.Before(head.Timestamp) {
				head = e
			}
		}
	}
	if head == nil {
		// Every event has an in-set predecessor: the links are cyclic.
		slog.Warn("Chain reconstruction found no head, falling back to timestamp order",
			"session_id", events[0].SessionID, "events", len(events))
		return sortByTimestamp(events)
	}

	visited := make(map[uuid.UUID]bool, len(events))
	ordered := make([]*models.Event, 0, len(events))
	for cur := head; cur != nil; {
		if visited[cur.ID] {
			slog.Warn("Chain reconstruction detected a cycle, degrading to timestamp order",
				"session_id", cur.SessionID, "event_id", cur.ID)
			break
		}
		visited[cur.ID] = true
		ordered = append(ordered, cur)
		if cur.Successor == nil {
			break
		}
		cur = byID[*cur.Successor]
	}

	// Orphan tail: anything the walk did not reach, in timestamp order.
	var orphans []*models.Event
	for _, e := range events {
		if !visited[e.ID] {
			orphans = append(orphans, e)
		}
	}
	if len(orphans) > 0 {
		sortByTimestamp(orphans)
		ordered = append(ordered, orphans...)
	}
	return ordered
}

func sortByTimestamp(events []*models.Event) []*models.Event {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}
