package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/southpawriter02/twinraven/pkg/models"
)

// PostgresRecordStore implements RecordStore on the tool_records and
// tool_versions tables. Cross-process write serialization rides on the row
// locks the UPDATE statements take.
type PostgresRecordStore struct {
	db *sql.DB
}

// NewPostgresRecordStore creates a record store on an open database handle.
func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

// CreateRecord stores a new record plus its first version in one transaction.
func (s *PostgresRecordStore) CreateRecord(ctx context.Context, rec *models.ToolRecord, ver *models.ToolVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tool_records (slug, current_version, definition_path, registered_at, invocation_count)
		 VALUES ($1, $2, $3, $4, 0)`,
		rec.Slug, rec.CurrentVersion, rec.DefinitionPath, rec.RegisteredAt.UTC())
	if err != nil {
		if isUnique(err) {
			return fmt.Errorf("tool '%s': %w", rec.Slug, ErrDuplicateTool)
		}
		return fmt.Errorf("failed to create tool record: %w", err)
	}
	if err := insertVersion(ctx, tx, ver); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tool record: %w", err)
	}
	return nil
}

// GetRecord returns one record by slug.
func (s *PostgresRecordStore) GetRecord(ctx context.Context, slug string) (*models.ToolRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT slug, current_version, definition_path, registered_at, last_used_at,
		        invocation_count, retirement_reason
		 FROM tool_records WHERE slug = $1`, slug)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tool '%s': %w", slug, ErrToolNotFound)
	}
	return rec, err
}

// ListRecords returns every record, slug-sorted.
func (s *PostgresRecordStore) ListRecords(ctx context.Context) ([]*models.ToolRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, current_version, definition_path, registered_at, last_used_at,
		        invocation_count, retirement_reason
		 FROM tool_records ORDER BY slug ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.ToolRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tool record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateRecord replaces one record's mutable fields.
func (s *PostgresRecordStore) UpdateRecord(ctx context.Context, rec *models.ToolRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_records
		 SET current_version = $1, definition_path = $2, last_used_at = $3,
		     invocation_count = $4, retirement_reason = $5
		 WHERE slug = $6`,
		rec.CurrentVersion, rec.DefinitionPath, rec.LastUsedAt,
		rec.InvocationCount, rec.RetirementReason, rec.Slug)
	if err != nil {
		return fmt.Errorf("failed to update tool record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update tool record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("tool '%s': %w", rec.Slug, ErrToolNotFound)
	}
	return nil
}

// AddVersion appends one version row.
func (s *PostgresRecordStore) AddVersion(ctx context.Context, ver *models.ToolVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertVersion(ctx, tx, ver); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tool version: %w", err)
	}
	return nil
}

// SupersedeVersion stamps the supersession time on one version.
func (s *PostgresRecordStore) SupersedeVersion(ctx context.Context, slug string, version int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_versions SET superseded_at = $1 WHERE slug = $2 AND version = $3`,
		at.UTC(), slug, version)
	if err != nil {
		return fmt.Errorf("failed to supersede tool version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to supersede tool version: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("tool '%s' v%d: %w", slug, version, ErrToolNotFound)
	}
	return nil
}

// ListVersions returns a slug's versions, oldest first.
func (s *PostgresRecordStore) ListVersions(ctx context.Context, slug string) ([]*models.ToolVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, version, validation_passed, equivalence_score, created_at, superseded_at
		 FROM tool_versions WHERE slug = $1 ORDER BY version ASC`, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.ToolVersion
	for rows.Next() {
		var v models.ToolVersion
		if err := rows.Scan(&v.Slug, &v.Version, &v.ValidationPassed,
			&v.EquivalenceScore, &v.CreatedAt, &v.SupersededAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool version: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func insertVersion(ctx context.Context, tx *sql.Tx, ver *models.ToolVersion) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tool_versions (slug, version, validation_passed, equivalence_score, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ver.Slug, ver.Version, ver.ValidationPassed, ver.EquivalenceScore, ver.CreatedAt.UTC())
	if err != nil {
		if isUnique(err) {
			return fmt.Errorf("tool '%s' v%d: %w", ver.Slug, ver.Version, ErrDuplicateTool)
		}
		return fmt.Errorf("failed to insert tool version: %w", err)
	}
	return nil
}

type recScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row recScanner) (*models.ToolRecord, error) {
	var rec models.ToolRecord
	err := row.Scan(&rec.Slug, &rec.CurrentVersion, &rec.DefinitionPath,
		&rec.RegisteredAt, &rec.LastUsedAt, &rec.InvocationCount, &rec.RetirementReason)
	if err != nil {
		return nil, err
	}
	rec.RegisteredAt = rec.RegisteredAt.UTC()
	return &rec, nil
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
