// Package localstore is the local replica: a SQLite database of items
// organised into named containers. Deletions are soft — deleted items stay
// behind as tombstones so the diff engine can distinguish "deleted since the
// last run" from "never existed".
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/syncbridge/syncbridge/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS containers (
    name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS items (
    id          TEXT PRIMARY KEY,
    container   TEXT NOT NULL,
    title       TEXT NOT NULL,
    body        TEXT NOT NULL DEFAULT '',
    modified_at TEXT NOT NULL,
    tombstoned  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_items_container ON items (container);
`

// Store is the SQLite-backed local item repository. It satisfies the
// engine's Adapter interface.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the local item database:
// ~/.local/share/syncbridge/items.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "syncbridge", "items.db"), nil
}

// Open opens (or creates) the item database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// List returns every item in the container, tombstones included. The diff
// engine needs tombstones to recognise deletions.
func (s *Store) List(ctx context.Context, container string) ([]model.Item, error) {
	const q = `SELECT id, container, title, body, modified_at, tombstoned
	           FROM items WHERE container = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, container)
	if err != nil {
		return nil, fmt.Errorf("listing items in %q: %w", container, err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		var modified string
		var tombstoned int
		if err := rows.Scan(&it.LocalID, &it.Container, &it.Title, &it.Body, &modified, &tombstoned); err != nil {
			return nil, fmt.Errorf("scanning item row: %w", err)
		}
		it.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modified)
		it.Tombstoned = tombstoned != 0
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing items in %q: %w", container, err)
	}
	return items, nil
}

// ListContainers returns every known container name: explicitly created ones
// plus any that items reference.
func (s *Store) ListContainers(ctx context.Context) ([]string, error) {
	const q = `SELECT name FROM containers
	           UNION SELECT DISTINCT container FROM items
	           ORDER BY 1`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning container row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	return names, nil
}

// EnsureContainer registers the container if it does not exist yet.
func (s *Store) EnsureContainer(ctx context.Context, container string) error {
	const q = `INSERT INTO containers (name) VALUES (?) ON CONFLICT(name) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, container); err != nil {
		return fmt.Errorf("creating container %q: %w", container, err)
	}
	return nil
}

// Create inserts a new item and returns its generated ID.
func (s *Store) Create(ctx context.Context, container string, item model.Item) (string, error) {
	id := uuid.NewString()
	modified := item.ModifiedAt
	if modified.IsZero() {
		modified = time.Now().UTC()
	}

	const q = `INSERT INTO items (id, container, title, body, modified_at)
	           VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, id, container, item.Title, item.Body,
		modified.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("creating item %q: %w", item.Title, err)
	}
	return id, nil
}

// Update overwrites the item's content and modification time. Updating a
// missing or tombstoned item is an error.
func (s *Store) Update(ctx context.Context, id string, item model.Item) error {
	modified := item.ModifiedAt
	if modified.IsZero() {
		modified = time.Now().UTC()
	}

	const q = `UPDATE items SET title = ?, body = ?, modified_at = ?
	           WHERE id = ? AND tombstoned = 0`
	res, err := s.db.ExecContext(ctx, q, item.Title, item.Body,
		modified.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating item %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating item %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("updating item %q: no such item", id)
	}
	return nil
}

// Delete tombstones the item. The row stays behind so the next diff sees the
// deletion; the post-run [PurgeTombstones] pass removes it once it has aged
// past the retention window.
func (s *Store) Delete(ctx context.Context, id string) error {
	const q = `UPDATE items SET tombstoned = 1, modified_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("deleting item %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting item %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("deleting item %q: no such item", id)
	}
	return nil
}

// PurgeTombstones permanently removes tombstoned items last modified before
// the cutoff. Returns the number of rows removed.
func (s *Store) PurgeTombstones(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `DELETE FROM items WHERE tombstoned = 1 AND modified_at < ?`
	res, err := s.db.ExecContext(ctx, q, olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purging tombstones: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging tombstones: %w", err)
	}
	return n, nil
}

// Counts reports the number of live items per container, for status output.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	const q = `SELECT container, COUNT(*) FROM items
	           WHERE tombstoned = 0 GROUP BY container`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("counting items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var container string
		var n int
		if err := rows.Scan(&container, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[container] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting items: %w", err)
	}
	return counts, nil
}
