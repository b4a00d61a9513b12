package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/smallnest/stepgraph/store"
)

// SqliteRunStore implements store.RunStore using SQLite
type SqliteRunStore struct {
	db        *sql.DB
	tableName string
}

var _ store.RunStore = (*SqliteRunStore)(nil)

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path      string
	TableName string // Default "runs"
}

// NewSqliteRunStore opens the database and creates the runs table.
//
// The pool is limited to a single connection: SQLite serializes writers
// anyway, and one connection turns lock contention into queueing instead of
// SQLITE_BUSY errors.
func NewSqliteRunStore(opts SqliteOptions) (*SqliteRunStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	tableName := opts.TableName
	if tableName == "" {
		tableName = "runs"
	}

	s := &SqliteRunStore{
		db:        db,
		tableName: tableName,
	}

	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (s *SqliteRunStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			current_step TEXT NOT NULL,
			version INTEGER NOT NULL,
			snapshot TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (status);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteRunStore) Close() error {
	return s.db.Close()
}

// Save stores a snapshot
func (s *SqliteRunStore) Save(ctx context.Context, snapshot *store.Snapshot) error {
	data, err := store.MarshalSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stored int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT version FROM %s WHERE run_id = ?`, s.tableName),
		snapshot.RunID,
	).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read version: %w", err)
	}
	if err := store.CheckVersion(stored, snapshot.Version); err != nil {
		return fmt.Errorf("run %s: %w", snapshot.RunID, err)
	}

	updatedAt := snapshot.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	if stored == 0 {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (run_id, status, current_step, version, snapshot, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, s.tableName),
			snapshot.RunID, string(snapshot.Status), snapshot.CurrentStep,
			snapshot.Version, string(data), updatedAt,
		)
	} else {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = ?, current_step = ?, version = ?, snapshot = ?, updated_at = ?
			WHERE run_id = ? AND version = ?
		`, s.tableName),
			string(snapshot.Status), snapshot.CurrentStep, snapshot.Version,
			string(data), updatedAt, snapshot.RunID, stored,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load retrieves the latest snapshot of a run
func (s *SqliteRunStore) Load(ctx context.Context, runID string) (*store.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT snapshot FROM %s WHERE run_id = ?`, s.tableName),
		runID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return store.UnmarshalSnapshot([]byte(data))
}

// Delete removes a run
func (s *SqliteRunStore) Delete(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE run_id = ?`, s.tableName), runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// List returns all run ids
func (s *SqliteRunStore) List(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, fmt.Sprintf(`SELECT run_id FROM %s ORDER BY run_id ASC`, s.tableName))
}

// ListByStatus returns the ids of runs in the given status, sorted.
func (s *SqliteRunStore) ListByStatus(ctx context.Context, status store.Status) ([]string, error) {
	return s.queryIDs(ctx,
		fmt.Sprintf(`SELECT run_id FROM %s WHERE status = ? ORDER BY run_id ASC`, s.tableName),
		string(status))
}

func (s *SqliteRunStore) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
