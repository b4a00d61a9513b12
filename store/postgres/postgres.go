package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smallnest/stepgraph/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresRunStore implements store.RunStore using PostgreSQL
type PostgresRunStore struct {
	pool      DBPool
	tableName string
}

var _ store.RunStore = (*PostgresRunStore)(nil)

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "runs"
}

// NewPostgresRunStore creates a new Postgres run store
func NewPostgresRunStore(ctx context.Context, opts PostgresOptions) (*PostgresRunStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewPostgresRunStoreWithPool(pool, opts.TableName), nil
}

// NewPostgresRunStoreWithPool creates a store on an existing pool.
// Useful for testing with mocks
func NewPostgresRunStoreWithPool(pool DBPool, tableName string) *PostgresRunStore {
	if tableName == "" {
		tableName = "runs"
	}
	return &PostgresRunStore{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the necessary table if it doesn't exist
func (s *PostgresRunStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			current_step TEXT NOT NULL,
			version BIGINT NOT NULL,
			snapshot JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (status);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresRunStore) Close() {
	s.pool.Close()
}

// Save stores a snapshot.
//
// Version 1 inserts and relies on the primary key to reject a second
// creator. Later versions update only the row still holding the previous
// version. Either way a statement that touches no row is a version conflict,
// and no explicit transaction is needed.
func (s *PostgresRunStore) Save(ctx context.Context, snapshot *store.Snapshot) error {
	data, err := store.MarshalSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if snapshot.Version < 1 {
		return fmt.Errorf("run %s: %w", snapshot.RunID, store.ErrVersionConflict)
	}

	updatedAt := snapshot.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	var tag pgconn.CommandTag
	if snapshot.Version == 1 {
		tag, err = s.pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (run_id, status, current_step, version, snapshot, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (run_id) DO NOTHING
		`, s.tableName),
			snapshot.RunID, string(snapshot.Status), snapshot.CurrentStep,
			snapshot.Version, string(data), updatedAt,
		)
	} else {
		tag, err = s.pool.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET status = $2, current_step = $3, version = $4, snapshot = $5, updated_at = $6
			WHERE run_id = $1 AND version = $7
		`, s.tableName),
			snapshot.RunID, string(snapshot.Status), snapshot.CurrentStep,
			snapshot.Version, string(data), updatedAt, snapshot.Version-1,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", snapshot.RunID, store.ErrVersionConflict)
	}
	return nil
}

// Load retrieves the latest snapshot of a run
func (s *PostgresRunStore) Load(ctx context.Context, runID string) (*store.Snapshot, error) {
	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE run_id = $1`, s.tableName)

	var data []byte
	if err := s.pool.QueryRow(ctx, query, runID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	snap, err := store.UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// List returns all run ids
func (s *PostgresRunStore) List(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, fmt.Sprintf(`SELECT run_id FROM %s ORDER BY run_id ASC`, s.tableName))
}

// ListByStatus returns the ids of runs in the given status, sorted.
func (s *PostgresRunStore) ListByStatus(ctx context.Context, status store.Status) ([]string, error) {
	return s.queryIDs(ctx,
		fmt.Sprintf(`SELECT run_id FROM %s WHERE status = $1 ORDER BY run_id ASC`, s.tableName),
		string(status))
}

func (s *PostgresRunStore) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return ids, nil
}

// Delete removes a run
func (s *PostgresRunStore) Delete(ctx context.Context, runID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE run_id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, runID); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}
