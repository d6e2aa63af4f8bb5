/*
Package sqlite provides SQLite-backed persistence for loan state and
version history.

PURPOSE:
  Persists two things per loan:
  - The current engine state (the full loan document as JSON), so a
    restarted server can rehydrate every loan.
  - The append-only version ledger recorded by the version manager,
    so the diff history and rollback targets survive restarts.

APPEND-ONLY ENFORCEMENT:
  loan_versions is append-only at the SQL level:
  - No UPDATE statements except the soft-delete flag
  - No DELETE statements; rollbacks append a new version row

KEY TABLES:
  loans:          Current state per loan (upserted on every save)
  loan_versions:  Immutable version ledger (snapshot + dual diff)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/loans.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - versioning/manager.go: The version ledger persisted here
  - api/server.go: The HTTP layer that drives this store
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/loan-engine/versioning"
)

// Store persists loan state and version history using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Current loan state (upserted on every recalculation)
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		state_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Version ledger (append-only; soft delete only)
	CREATE TABLE IF NOT EXISTS loan_versions (
		loan_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		snapshot_json TEXT NOT NULL,
		input_changes_json TEXT,
		output_changes_json TEXT,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		is_rollback BOOLEAN NOT NULL DEFAULT FALSE,
		rollback_of TEXT,
		message TEXT,
		seq INTEGER NOT NULL,
		PRIMARY KEY (loan_id, version_id)
	);

	CREATE INDEX IF NOT EXISTS idx_loan_versions_loan
		ON loan_versions(loan_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOAN STATE
// =============================================================================

// SaveLoan upserts the current state document for a loan.
func (s *Store) SaveLoan(ctx context.Context, loanID string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO loans (id, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, loanID, string(state), now, now)
	if err != nil {
		return fmt.Errorf("failed to save loan %s: %w", loanID, err)
	}
	return nil
}

// GetLoan returns the current state document for a loan, or sql.ErrNoRows.
func (s *Store) GetLoan(ctx context.Context, loanID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM loans WHERE id = ?`, loanID).Scan(&state)
	if err != nil {
		return nil, err
	}
	return []byte(state), nil
}

// ListLoanIDs returns every persisted loan id, oldest first.
func (s *Store) ListLoanIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM loans ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// VERSION LEDGER
// =============================================================================

// SaveVersion appends a version row. Existing rows are only touched to
// propagate the soft-delete flag.
func (s *Store) SaveVersion(ctx context.Context, loanID string, seq int, v *versioning.FinancialOpsVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveVersionLocked(ctx, loanID, seq, v)
}

func (s *Store) saveVersionLocked(ctx context.Context, loanID string, seq int, v *versioning.FinancialOpsVersion) error {
	inputJSON, _ := json.Marshal(v.InputChanges)
	outputJSON, _ := json.Marshal(v.OutputChanges)

	query := `
		INSERT INTO loan_versions
		(loan_id, version_id, timestamp, snapshot_json, input_changes_json,
		 output_changes_json, is_deleted, is_rollback, rollback_of, message, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(loan_id, version_id) DO UPDATE SET is_deleted = excluded.is_deleted
	`

	_, err := s.db.ExecContext(ctx, query,
		loanID,
		v.VersionID,
		v.Timestamp.UTC().Format(time.RFC3339Nano),
		string(v.Snapshot),
		string(inputJSON),
		string(outputJSON),
		v.IsDeleted,
		v.IsRollback,
		v.RollbackOf,
		v.Message,
		seq,
	)
	if err != nil {
		return fmt.Errorf("failed to save version %s for loan %s: %w", v.VersionID, loanID, err)
	}
	return nil
}

// SaveVersions persists the full ledger for a loan.
func (s *Store) SaveVersions(ctx context.Context, loanID string, versions []*versioning.FinancialOpsVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range versions {
		if err := s.saveVersionLocked(ctx, loanID, i, v); err != nil {
			return err
		}
	}
	return nil
}

// LoadVersions returns the version ledger for a loan in commit order.
func (s *Store) LoadVersions(ctx context.Context, loanID string) ([]*versioning.FinancialOpsVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT version_id, timestamp, snapshot_json, input_changes_json,
		       output_changes_json, is_deleted, is_rollback, rollback_of, message
		FROM loan_versions
		WHERE loan_id = ?
		ORDER BY seq
	`

	rows, err := s.db.QueryContext(ctx, query, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*versioning.FinancialOpsVersion
	for rows.Next() {
		var (
			v          versioning.FinancialOpsVersion
			ts         string
			snap       string
			inputJSON  sql.NullString
			outputJSON sql.NullString
			rollbackOf sql.NullString
			message    sql.NullString
		)
		if err := rows.Scan(&v.VersionID, &ts, &snap, &inputJSON, &outputJSON,
			&v.IsDeleted, &v.IsRollback, &rollbackOf, &message); err != nil {
			return nil, err
		}

		v.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse version timestamp: %w", err)
		}
		v.Snapshot = json.RawMessage(snap)
		if inputJSON.Valid && inputJSON.String != "" {
			if err := json.Unmarshal([]byte(inputJSON.String), &v.InputChanges); err != nil {
				return nil, fmt.Errorf("failed to decode input changes: %w", err)
			}
		}
		if outputJSON.Valid && outputJSON.String != "" {
			if err := json.Unmarshal([]byte(outputJSON.String), &v.OutputChanges); err != nil {
				return nil, fmt.Errorf("failed to decode output changes: %w", err)
			}
		}
		v.RollbackOf = rollbackOf.String
		v.Message = message.String

		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// Reset removes all data. Test helper.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"loan_versions", "loans"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
