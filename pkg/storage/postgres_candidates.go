package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/southpawriter02/twinraven/pkg/models"
)

// PostgresCandidateStore implements CandidateStore on the candidate_chains table.
type PostgresCandidateStore struct {
	db *sql.DB
}

// NewPostgresCandidateStore creates a candidate store on an open database handle.
func NewPostgresCandidateStore(db *sql.DB) *PostgresCandidateStore {
	return &PostgresCandidateStore{db: db}
}

const chainColumns = `chain_id, tools, support, confidence, avg_latency_ms,
	failure_rate, sample_event_ids, discovered_at, mining_config`

// Save persists one candidate chain, rejecting duplicate identifiers.
func (s *PostgresCandidateStore) Save(ctx context.Context, chain *models.CandidateChain) error {
	tools, err := json.Marshal(chain.Tools)
	if err != nil {
		return fmt.Errorf("failed to marshal tools: %w", err)
	}
	samples, err := json.Marshal(chain.SampleEventIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal sample event ids: %w", err)
	}
	cfg, err := json.Marshal(chain.MiningConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal mining config: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO candidate_chains (`+chainColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		chain.ID, tools, chain.Support, chain.Confidence, chain.AvgLatencyMS,
		chain.FailureRate, samples, chain.DiscoveredAt.UTC(), cfg)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("chain %s: %w", chain.ID, ErrDuplicateCandidate)
		}
		return fmt.Errorf("failed to save candidate chain: %w", err)
	}
	return nil
}

// Get returns one candidate chain by identifier.
func (s *PostgresCandidateStore) Get(ctx context.Context, id uuid.UUID) (*models.CandidateChain, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chainColumns+` FROM candidate_chains WHERE chain_id = $1`, id)
	chain, err := scanChain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chain %s: %w", id, ErrNotFound)
	}
	return chain, err
}

// List returns candidates ranked by support descending.
func (s *PostgresCandidateStore) List(ctx context.Context, limit int) ([]*models.CandidateChain, error) {
	q := `SELECT ` + chainColumns + ` FROM candidate_chains ORDER BY support DESC, chain_id ASC`
	var args []any
	if limit > 0 {
		args = append(args, limit)
		q += " LIMIT $1"
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate chains: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.CandidateChain
	for rows.Next() {
		chain, err := scanChain(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate chain: %w", err)
		}
		out = append(out, chain)
	}
	return out, rows.Err()
}

// Delete removes one candidate chain.
func (s *PostgresCandidateStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM candidate_chains WHERE chain_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete candidate chain: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete candidate chain: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("chain %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanChain(row rowScanner) (*models.CandidateChain, error) {
	var (
		c       models.CandidateChain
		tools   []byte
		samples []byte
		cfg     []byte
	)
	err := row.Scan(&c.ID, &tools, &c.Support, &c.Confidence, &c.AvgLatencyMS,
		&c.FailureRate, &samples, &c.DiscoveredAt, &cfg)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tools, &c.Tools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tools: %w", err)
	}
	if err := json.Unmarshal(samples, &c.SampleEventIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sample event ids: %w", err)
	}
	if err := json.Unmarshal(cfg, &c.MiningConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mining config: %w", err)
	}
	c.DiscoveredAt = c.DiscoveredAt.UTC()
	return &c, nil
}
