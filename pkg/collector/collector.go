// Package collector provides the per-session write façade over the event
// store: predecessor/successor linking, optional output summarization, and
// buffered or immediate flushing.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/southpawriter02/twinraven/pkg/llm"
	"github.com/southpawriter02/twinraven/pkg/masking"
	"github.com/southpawriter02/twinraven/pkg/storage"
)

var (
	// ErrStoreUnavailable is returned when the event store cannot be reached
	// on session entry. It is the only fatal precondition surfaced to callers.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrContextClosed names the closed-context condition. Record does not
	// return it: recording on a closed context logs an error and drops the
	// event.
	ErrContextClosed = errors.New("observation context closed")
)

const (
	healthCheckTimeout = 5 * time.Second
	writeTimeout       = 5 * time.Second
)

// BufferMode selects how recorded events reach the store.
type BufferMode string

const (
	// BufferImmediate appends every event as it is recorded.
	BufferImmediate BufferMode = "immediate"
	// BufferBatched accumulates events and flushes them in batches when the
	// size or time threshold fires, or on context close.
	BufferBatched BufferMode = "buffered"
)

// Config tunes the collector's summarization and buffering behavior.
type Config struct {
	// Compression enables LLM summarization of oversized outputs.
	Compression bool
	// MaxOutputLength is the serialized output size above which
	// summarization (or truncation fallback) kicks in.
	MaxOutputLength int
	// SummaryMaxTokens bounds the summarization response.
	SummaryMaxTokens int

	BufferMode          BufferMode
	BufferMaxEvents     int
	BufferFlushInterval time.Duration
}

// DefaultConfig returns the collector defaults: immediate flush and
// compression off; setting Compression turns it on.
func DefaultConfig() Config {
	return Config{
		Compression:         false,
		MaxOutputLength:     2000,
		SummaryMaxTokens:    500,
		BufferMode:          BufferImmediate,
		BufferMaxEvents:     50,
		BufferFlushInterval: 5 * time.Second,
	}
}

// Collector opens observation contexts. One context per logical agent
// session; contexts for different sessions run concurrently and
// independently.
type Collector struct {
	store    storage.EventStore
	provider llm.Provider
	masker   *masking.Service
	cfg      Config
}

// New creates a collector. The provider may be nil when compression is
// disabled; the masker may be nil to store payloads unmasked.
func New(store storage.EventStore, provider llm.Provider, masker *masking.Service, cfg Config) *Collector {
	if cfg.MaxOutputLength <= 0 {
		cfg.MaxOutputLength = DefaultConfig().MaxOutputLength
	}
	if cfg.BufferMode == "" {
		cfg.BufferMode = BufferImmediate
	}
	if cfg.BufferMaxEvents <= 0 {
		cfg.BufferMaxEvents = DefaultConfig().BufferMaxEvents
	}
	if cfg.BufferFlushInterval <= 0 {
		cfg.BufferFlushInterval = DefaultConfig().BufferFlushInterval
	}
	return &Collector{store: store, provider: provider, masker: masker, cfg: cfg}
}

// Observe opens a scoped acquisition for one session. It verifies store
// reachability with a bounded health check; an unreachable store is the only
// failure surfaced here.
func (c *Collector) Observe(ctx context.Context, sessionID string) (*ObservationContext, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := c.store.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	slog.Debug("Observation context opened", "session_id", sessionID, "buffer_mode", c.cfg.BufferMode)
	return &ObservationContext{
		collector: c,
		sessionID: sessionID,
		lastFlush: time.Now(),
	}, nil
}
