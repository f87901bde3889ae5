package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/southpawriter02/twinraven/pkg/models"
)

const pgUniqueViolation = "23505"

// PostgresEventStore implements EventStore on the events table.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates an event store on an open database handle.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

const eventColumns = `event_id, session_id, tool_id, input_hash, input_params,
	output_summary, predecessor, successor, timestamp, latency_ms, outcome, tags`

const insertEventSQL = `INSERT INTO events (` + eventColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// Append stores one event, rejecting duplicate identifiers.
func (s *PostgresEventStore) Append(ctx context.Context, event *models.Event) error {
	args, err := eventArgs(event)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertEventSQL, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %s: %w", event.ID, ErrDuplicateEvent)
		}
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// AppendBatch stores events in one transaction; any duplicate rolls back the
// whole batch.
func (s *PostgresEventStore) AppendBatch(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, event := range events {
		args, err := eventArgs(event)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertEventSQL, args...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("event %s: %w", event.ID, ErrDuplicateEvent)
			}
			return fmt.Errorf("failed to append event batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// UpdateSuccessor backfills the successor link of an existing event. This is
// the single permitted write outside of append.
func (s *PostgresEventStore) UpdateSuccessor(ctx context.Context, predID, succID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET successor = $1 WHERE event_id = $2`, succID, predID)
	if err != nil {
		return fmt.Errorf("failed to update successor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update successor: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("event %s: %w", predID, ErrNotFound)
	}
	return nil
}

// GetByID returns one event by identifier.
func (s *PostgresEventStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE event_id = $1`, id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return event, err
}

// GetBySession returns a session's events in the requested order. Chain order
// is reconstructed in memory from one timestamp-ordered query.
func (s *PostgresEventStore) GetBySession(ctx context.Context, sessionID string, order EventOrder) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE session_id = $1 ORDER BY timestamp ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if order == OrderChain {
		return OrderByChain(events), nil
	}
	return events, nil
}

// GetByTool returns events for one tool within a time window, oldest first.
func (s *PostgresEventStore) GetByTool(ctx context.Context, toolID string, since, until time.Time, limit int) ([]*models.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE tool_id = $1`
	args := []any{toolID}
	if !since.IsZero() {
		args = append(args, since)
		q += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if !until.IsZero() {
		args = append(args, until)
		q += fmt.Sprintf(" AND timestamp < $%d", len(args))
	}
	q += " ORDER BY timestamp ASC"
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool events: %w", err)
	}
	return scanEvents(rows)
}

// GetSessions lists distinct sessions in the window with at least
// minEventCount events, most recent activity first.
func (s *PostgresEventStore) GetSessions(ctx context.Context, since, until time.Time, minEventCount int) ([]string, error) {
	q := `SELECT session_id FROM events WHERE TRUE`
	var args []any
	if !since.IsZero() {
		args = append(args, since)
		q += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if !until.IsZero() {
		args = append(args, until)
		q += fmt.Sprintf(" AND timestamp < $%d", len(args))
	}
	args = append(args, minEventCount)
	q += fmt.Sprintf(` GROUP BY session_id HAVING COUNT(*) >= $%d ORDER BY MAX(timestamp) DESC, session_id ASC`, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		out = append(out, sid)
	}
	return out, rows.Err()
}

// Count returns the number of events matching the filter.
func (s *PostgresEventStore) Count(ctx context.Context, filter EventFilter) (int, error) {
	var conds []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.SessionID != "" {
		add("session_id = $%d", filter.SessionID)
	}
	if filter.ToolID != "" {
		add("tool_id = $%d", filter.ToolID)
	}
	if !filter.Since.IsZero() {
		add("timestamp >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("timestamp < $%d", filter.Until)
	}
	if filter.Outcome != nil {
		add("outcome = $%d", string(*filter.Outcome))
	}

	q := `SELECT COUNT(*) FROM events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Prune deletes events older than the cutoff. Dangling links at the
// retention boundary are cleared by the FK's ON DELETE SET NULL; chain
// reconstruction tolerates the resulting orphans.
func (s *PostgresEventStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return n, nil
}

// Ping verifies store reachability.
func (s *PostgresEventStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func eventArgs(event *models.Event) ([]any, error) {
	params, err := json.Marshal(event.InputParams)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input params: %w", err)
	}
	tags := event.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return []any{
		event.ID, event.SessionID, event.ToolID, event.InputHash, params,
		event.OutputSummary, event.Predecessor, event.Successor,
		event.Timestamp.UTC(), event.LatencyMS, string(event.Outcome), tagsJSON,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		e          models.Event
		params     []byte
		tags       []byte
		outcome    string
		pred, succ sql.Null[uuid.UUID]
	)
	err := row.Scan(&e.ID, &e.SessionID, &e.ToolID, &e.InputHash, &params,
		&e.OutputSummary, &pred, &succ, &e.Timestamp, &e.LatencyMS, &outcome, &tags)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, &e.InputParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input params: %w", err)
	}
	if err := json.Unmarshal(tags, &e.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if pred.Valid {
		e.Predecessor = &pred.V
	}
	if succ.Valid {
		e.Successor = &succ.V
	}
	e.InputHash = strings.TrimSpace(e.InputHash)
	e.Outcome = models.Outcome(outcome)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	defer func() { _ = rows.Close() }()
	var out []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
