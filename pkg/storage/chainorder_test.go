package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/southpawriter02/twinraven/pkg/models"
)

func linked(session string, base time.Time, tools ...string) []*models.Event {
	events := make([]*models.Event, len(tools))
	for i, tool := range tools {
		events[i] = newEvent(session, tool, base.Add(time.Duration(i)*time.Second))
	}
	for i := range events {
		if i > 0 {
			pred := events[i-1].ID
			events[i].Predecessor = &pred
		}
		if i < len(events)-1 {
			succ := events[i+1].ID
			events[i].Successor = &succ
		}
	}
	return events
}

func toolIDs(events []*models.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ToolID
	}
	return out
}

func TestOrderByChain(t *testing.T) {
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("walks successor links from the head", func(t *testing.T) {
		events := linked("s", base, "a", "b", "c")
		// Shuffle storage order; links must win.
		shuffled := []*models.Event{events[2], events[0], events[1]}
		ordered := OrderByChain(shuffled)
		assert.Equal(t, []string{"a", "b", "c"}, toolIDs(ordered))
	})

	t.Run("orphans append at the end in timestamp order", func(t *testing.T) {
		events := linked("s", base, "a", "b")
		orphan1 := newEvent("s", "z", base.Add(10*time.Second))
		orphan2 := newEvent("s", "y", base.Add(5*time.Second))
		// Orphans have a dangling predecessor outside the set.
		missing := uuid.New()
		orphan1.Predecessor = &missing
		orphan2.Predecessor = &missing

		ordered := OrderByChain([]*models.Event{orphan1, events[1], orphan2, events[0]})
		assert.Equal(t, []string{"a", "b", "y", "z"}, toolIDs(ordered))
	})

	t.Run("gap in links degrades to timestamp for the tail", func(t *testing.T) {
		events := linked("s", base, "a", "b", "c")
		// Break the forward link a->b: walk stops after a, rest are orphans.
		events[0].Successor = nil
		ordered := OrderByChain([]*models.Event{events[2], events[1], events[0]})
		assert.Equal(t, []string{"a", "b", "c"}, toolIDs(ordered))
	})

	t.Run("cycle breaks with timestamp fallback", func(t *testing.T) {
		events := linked("s", base, "a", "b", "c")
		// c points back to a.
		back := events[0].ID
		events[2].Successor = &back
		ordered := OrderByChain(events)
		assert.Len(t, ordered, 3)
		assert.Equal(t, []string{"a", "b", "c"}, toolIDs(ordered))
	})

	t.Run("full cycle with no head falls back to timestamp order", func(t *testing.T) {
		events := linked("s", base, "a", "b")
		// Make it fully cyclic: a's predecessor is b.
		bID := events[1].ID
		events[0].Predecessor = &bID
		ordered := OrderByChain(events)
		assert.Equal(t, []string{"a", "b"}, toolIDs(ordered))
	})
}
