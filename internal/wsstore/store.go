// Package wsstore persists workspace-level state: project/relationship
// blobs, indexing state, user context snapshots, the template registry, and
// the L3 query-result cache. It is deliberately separate from
// internal/store.MetadataStore, which remains the per-project chunk/vector
// metadata store; wsstore holds the workspace-wide relational data described
// by the Relational Store contract (get/put/delete/transaction) plus the
// typed tables the workspace layer needs.
package wsstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	amerrors "github.com/ctxmesh/ctxgraph/internal/errors"
)

// Store is the SQLite-backed workspace relational store.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	config_blob TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS indexing_state (
	project_id      TEXT PRIMARY KEY,
	per_file_map    TEXT NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL DEFAULT 'uninitialized',
	last_full_scan  TIMESTAMP,
	files_indexed   INTEGER NOT NULL DEFAULT 0,
	error_count     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS relationships (
	from_id     TEXT NOT NULL,
	to_id       TEXT NOT NULL,
	type        TEXT NOT NULL,
	weight      REAL NOT NULL DEFAULT 1.0,
	description TEXT,
	metadata    TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (from_id, to_id, type)
);

CREATE TABLE IF NOT EXISTS user_context (
	user_id    TEXT PRIMARY KEY,
	blob       TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS templates (
	name       TEXT PRIMARY KEY,
	blob       TEXT NOT NULL,
	built_in   INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cached_results (
	fingerprint TEXT PRIMARY KEY,
	payload     TEXT NOT NULL,
	file_refs   TEXT NOT NULL DEFAULT '[]',
	stale       INTEGER NOT NULL DEFAULT 0,
	expiry      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cached_results_expiry ON cached_results(expiry);
`

// Open creates or opens the workspace store database at path, applying the
// schema idempotently.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeFileNotFound, fmt.Errorf("open wsstore db: %w", err))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, amerrors.Wrap(amerrors.ErrCodeCorruptIndex, fmt.Errorf("apply wsstore schema: %w", err))
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get implements the Relational Store contract's get(key).
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", amerrors.New(amerrors.ErrCodeFileNotFound, fmt.Sprintf("key not found: %s", key), nil)
	}
	if err != nil {
		return "", fmt.Errorf("get key %q: %w", key, err)
	}
	return value, nil
}

// Put implements the Relational Store contract's put(key).
func (s *Store) Put(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("put key %q: %w", key, err)
	}
	return nil
}

// Delete implements the Relational Store contract's delete(key).
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete key %q: %w", key, err)
	}
	return nil
}

// Transaction implements the Relational Store contract's transaction(fn),
// running fn inside a SQL transaction and committing iff fn returns nil.
func (s *Store) Transaction(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PruneExpiredResults deletes cached_results rows past their expiry,
// excluding rows flagged stale (those are retained for async refresh per
// the L3 cache policy).
func (s *Store) PruneExpiredResults(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM cached_results WHERE expiry < ? AND stale = 0`, now)
	if err != nil {
		return 0, fmt.Errorf("prune expired results: %w", err)
	}
	return res.RowsAffected()
}
