// Package mapping manages the SQLite database that stores local↔remote
// identity links, one row per synced item per container pair.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods. Every failure is returned as a
// [*StoreError] so the engine can treat it as fatal for the affected
// container pair.
package mapping

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/syncbridge/syncbridge/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS mappings (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    local_id         TEXT NOT NULL,
    remote_id        TEXT NOT NULL,
    local_container  TEXT NOT NULL,
    remote_container TEXT NOT NULL,
    last_fingerprint TEXT NOT NULL DEFAULT '',
    last_sync_at     TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_local  ON mappings (local_id,  local_container, remote_container);
CREATE UNIQUE INDEX IF NOT EXISTS idx_remote ON mappings (remote_id, local_container, remote_container);
`

// Mapping is the persisted 1:1 bridge between a local item and a remote item
// within a container pair.
type Mapping struct {
	ID              int64
	LocalID         string
	RemoteID        string
	LocalContainer  string
	RemoteContainer string
	LastFingerprint string
	LastSyncAt      time.Time
}

// StoreError wraps any storage I/O failure. The engine aborts the affected
// container pair when it sees one, since sync progress can no longer be
// tracked safely.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("mapping store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store is the SQLite-backed mapping repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the mapping database:
// ~/.local/share/syncbridge/mappings.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "syncbridge", "mappings.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating mapping directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL. This also makes Upsert
	// atomic per key: container pairs within one run never interleave writes.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

const selectCols = `id, local_id, remote_id, local_container, remote_container, last_fingerprint, last_sync_at`

// Get returns the mapping for the given local ID within the container pair,
// or (nil, nil) if no such mapping exists.
func (s *Store) Get(ctx context.Context, localID string, pair model.ContainerPair) (*Mapping, error) {
	q := `SELECT ` + selectCols + ` FROM mappings
	      WHERE local_id = ? AND local_container = ? AND remote_container = ?`
	row := s.db.QueryRowContext(ctx, q, localID, pair.Local, pair.Remote)
	m, err := scanMapping(row)
	if err != nil {
		return nil, &StoreError{Op: "get " + localID, Err: err}
	}
	return m, nil
}

// GetByRemote returns the mapping for the given remote ID within the
// container pair, or (nil, nil) if no such mapping exists.
func (s *Store) GetByRemote(ctx context.Context, remoteID string, pair model.ContainerPair) (*Mapping, error) {
	q := `SELECT ` + selectCols + ` FROM mappings
	      WHERE remote_id = ? AND local_container = ? AND remote_container = ?`
	row := s.db.QueryRowContext(ctx, q, remoteID, pair.Local, pair.Remote)
	m, err := scanMapping(row)
	if err != nil {
		return nil, &StoreError{Op: "get by remote " + remoteID, Err: err}
	}
	return m, nil
}

// ListAll returns every mapping for the container pair. Used by the diff
// engine to walk tracked items and detect orphaned rows.
func (s *Store) ListAll(ctx context.Context, pair model.ContainerPair) ([]*Mapping, error) {
	q := `SELECT ` + selectCols + ` FROM mappings
	      WHERE local_container = ? AND remote_container = ?`
	rows, err := s.db.QueryContext(ctx, q, pair.Local, pair.Remote)
	if err != nil {
		return nil, &StoreError{Op: "list " + pair.String(), Err: err}
	}
	defer func() { _ = rows.Close() }()

	var mappings []*Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, &StoreError{Op: "list " + pair.String(), Err: err}
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list " + pair.String(), Err: err}
	}
	return mappings, nil
}

// Upsert inserts or replaces the mapping, keyed on (local_id, pair). The
// mapping's ID field is updated with the row ID after insert. The single-
// connection pool serialises concurrent upserts so they never interleave.
func (s *Store) Upsert(ctx context.Context, m *Mapping) error {
	const q = `
		INSERT INTO mappings
		    (local_id, remote_id, local_container, remote_container,
		     last_fingerprint, last_sync_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id, local_container, remote_container) DO UPDATE SET
		    remote_id        = excluded.remote_id,
		    last_fingerprint = excluded.last_fingerprint,
		    last_sync_at     = excluded.last_sync_at`

	res, err := s.db.ExecContext(ctx, q,
		m.LocalID,
		m.RemoteID,
		m.LocalContainer,
		m.RemoteContainer,
		m.LastFingerprint,
		formatTime(m.LastSyncAt),
	)
	if err != nil {
		return &StoreError{Op: "upsert " + m.LocalID, Err: err}
	}
	id, err := res.LastInsertId()
	if err == nil && id > 0 {
		m.ID = id
	}
	return nil
}

// Delete removes the mapping for the given local ID within the container
// pair. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, localID string, pair model.ContainerPair) error {
	const q = `DELETE FROM mappings
	           WHERE local_id = ? AND local_container = ? AND remote_container = ?`
	if _, err := s.db.ExecContext(ctx, q, localID, pair.Local, pair.Remote); err != nil {
		return &StoreError{Op: "delete " + localID, Err: err}
	}
	return nil
}

// IsEmpty reports whether the container pair has no mappings yet.
// Used by the first-run linker to detect an unseeded pair.
func (s *Store) IsEmpty(ctx context.Context, pair model.ContainerPair) (bool, error) {
	const q = `SELECT COUNT(*) FROM mappings
	           WHERE local_container = ? AND remote_container = ?`
	var count int
	if err := s.db.QueryRowContext(ctx, q, pair.Local, pair.Remote).Scan(&count); err != nil {
		return false, &StoreError{Op: "count " + pair.String(), Err: err}
	}
	return count == 0, nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanMapping can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanMapping(s scanner) (*Mapping, error) {
	var m Mapping
	var syncedAt string

	err := s.Scan(
		&m.ID,
		&m.LocalID,
		&m.RemoteID,
		&m.LocalContainer,
		&m.RemoteContainer,
		&m.LastFingerprint,
		&syncedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning mapping row: %w", err)
	}

	m.LastSyncAt, _ = parseTime(syncedAt)
	return &m, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
