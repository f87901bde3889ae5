// Package storage defines the persistence contracts for telemetry events
// and mined candidate chains, with Postgres and in-memory implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/southpawriter02/twinraven/pkg/models"
)

var (
	// ErrDuplicateEvent is returned when appending an event whose ID already exists.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateCandidate is returned when saving a candidate chain whose ID already exists.
	ErrDuplicateCandidate = errors.New("duplicate candidate chain")
)

// EventOrder selects how session events are ordered on read.
type EventOrder string

const (
	// OrderTimestamp orders by recorded timestamp.
	OrderTimestamp EventOrder = "timestamp"
	// OrderChain orders by predecessor/successor links, falling back to
	// timestamp order for orphans and broken links.
	OrderChain EventOrder = "chain"
)

// EventFilter narrows Count queries. Zero values mean "no constraint".
type EventFilter struct {
	SessionID string
	ToolID    string
	Since     time.Time
	Until     time.Time
	Outcome   *models.Outcome
}

// EventStore is the append-only telemetry log.
//
// Append and AppendBatch are the only writes; UpdateSuccessor is the single
// permitted mutation, used by the collector for link backfill; Prune is the
// single destructive operation, used by the retention service.
type EventStore interface {
	Append(ctx context.Context, event *models.Event) error
	AppendBatch(ctx context.Context, events []*models.Event) error
	UpdateSuccessor(ctx context.Context, predID, succID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	GetBySession(ctx context.Context, sessionID string, order EventOrder) ([]*models.Event, error)
	GetByTool(ctx context.Context, toolID string, since, until time.Time, limit int) ([]*models.Event, error)
	GetSessions(ctx context.Context, since, until time.Time, minEventCount int) ([]string, error)
	Count(ctx context.Context, filter EventFilter) (int, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// CandidateStore persists mining outputs. Chains are immutable after save.
type CandidateStore interface {
	Save(ctx context.Context, chain *models.CandidateChain) error
	Get(ctx context.Context, id uuid.UUID) (*models.CandidateChain, error)
	List(ctx context.Context, limit int) ([]*models.CandidateChain, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
