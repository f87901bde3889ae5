package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/southpawriter02/twinraven/pkg/models"
)

// MemoryEventStore is an in-process EventStore used by tests and by
// components that need a store without a database.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*models.Event
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[uuid.UUID]*models.Event)}
}

// Append stores one event, rejecting duplicate identifiers.
func (s *MemoryEventStore) Append(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(event)
}

// AppendBatch stores events atomically: any duplicate fails the whole batch.
func (s *MemoryEventStore) AppendBatch(_ context.Context, events []*models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if _, ok := s.events[e.ID]; ok {
			return fmt.Errorf("event %s: %w", e.ID, ErrDuplicateEvent)
		}
	}
	for _, e := range events {
		if err := s.appendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryEventStore) appendLocked(event *models.Event) error {
	if _, ok := s.events[event.ID]; ok {
		return fmt.Errorf("event %s: %w", event.ID, ErrDuplicateEvent)
	}
	clone := *event
	s.events[event.ID] = &clone
	return nil
}

// UpdateSuccessor backfills the successor link of an existing event.
func (s *MemoryEventStore) UpdateSuccessor(_ context.Context, predID, succID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pred, ok := s.events[predID]
	if !ok {
		return fmt.Errorf("event %s: %w", predID, ErrNotFound)
	}
	succ := succID
	pred.Successor = &succ
	return nil
}

// GetByID returns one event by identifier.
func (s *MemoryEventStore) GetByID(_ context.Context, id uuid.UUID) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	clone := *e
	return &clone, nil
}

// GetBySession returns a session's events in the requested order.
func (s *MemoryEventStore) GetBySession(_ context.Context, sessionID string, order EventOrder) ([]*models.Event, error) {
	s.mu.RLock()
	var out []*models.Event
	for _, e := range s.events {
		if e.SessionID == sessionID {
			clone := *e
			out = append(out, &clone)
		}
	}
	s.mu.RUnlock()

	switch order {
	case OrderChain:
		return OrderByChain(out), nil
	default:
		sortByTimestamp(out)
		return out, nil
	}
}

// GetByTool returns events for one tool within a time window, oldest first.
func (s *MemoryEventStore) GetByTool(_ context.Context, toolID string, since, until time.Time, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	var out []*models.Event
	for _, e := range s.events {
		if e.ToolID != toolID {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && !e.Timestamp.Before(until) {
			continue
		}
		clone := *e
		out = append(out, &clone)
	}
	s.mu.RUnlock()

	sortByTimestamp(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetSessions lists distinct sessions in the window with at least
// minEventCount events, most recent activity first.
func (s *MemoryEventStore) GetSessions(_ context.Context, since, until time.Time, minEventCount int) ([]string, error) {
	s.mu.RLock()
	counts := make(map[string]int)
	latest := make(map[string]time.Time)
	for _, e := range s.events {
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && !e.Timestamp.Before(until) {
			continue
		}
		counts[e.SessionID]++
		if e.Timestamp.After(latest[e.SessionID]) {
			latest[e.SessionID] = e.Timestamp
		}
	}
	s.mu.RUnlock()

	var out []string
	for sid, n := range counts {
		if n >= minEventCount {
			out = append(out, sid)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !latest[out[i]].Equal(latest[out[j]]) {
			return latest[out[i]].After(latest[out[j]])
		}
		return out[i] < out[j]
	})
	return out, nil
}

// Count returns the number of events matching the filter.
func (s *MemoryEventStore) Count(_ context.Context, filter EventFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.events {
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if filter.ToolID != "" && e.ToolID != filter.ToolID {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !e.Timestamp.Before(filter.Until) {
			continue
		}
		if filter.Outcome != nil && e.Outcome != *filter.Outcome {
			continue
		}
		n++
	}
	return n, nil
}

// Prune deletes events older than the cutoff and returns how many went.
func (s *MemoryEventStore) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, e := range s.events {
		if e.Timestamp.Before(olderThan) {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryEventStore) Ping(_ context.Context) error { return nil }

// MemoryCandidateStore is an in-process CandidateStore.
type MemoryCandidateStore struct {
	mu     sync.RWMutex
	chains map[uuid.UUID]*models.CandidateChain
}

// NewMemoryCandidateStore creates an empty in-memory candidate store.
func NewMemoryCandidateStore() *MemoryCandidateStore {
	return &MemoryCandidateStore{chains: make(map[uuid.UUID]*models.CandidateChain)}
}

// Save persists one candidate chain, rejecting duplicate identifiers.
func (s *MemoryCandidateStore) Save(_ context.Context, chain *models.CandidateChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chains[chain.ID]; ok {
		return fmt.Errorf("chain %s: %w", chain.ID, ErrDuplicateCandidate)
	}
	clone := *chain
	s.chains[chain.ID] = &clone
	return nil
}

// Get returns one candidate chain by identifier.
func (s *MemoryCandidateStore) Get(_ context.Context, id uuid.UUID) (*models.CandidateChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[id]
	if !ok {
		return nil, fmt.Errorf("chain %s: %w", id, ErrNotFound)
	}
	clone := *c
	return &clone, nil
}

// List returns candidates ranked by support descending.
func (s *MemoryCandidateStore) List(_ context.Context, limit int) ([]*models.CandidateChain, error) {
	s.mu.RLock()
	out := make([]*models.CandidateChain, 0, len(s.chains))
	for _, c := range s.chains {
		clone := *c
		out = append(out, &clone)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Support != out[j].Support {
			return out[i].Support > out[j].Support
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes one candidate chain.
func (s *MemoryCandidateStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chains[id]; !ok {
		return fmt.Errorf("chain %s: %w", id, ErrNotFound)
	}
	delete(s.chains, id)
	return nil
}
