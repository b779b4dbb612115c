// Package store implements the Persistence Store: a single embedded SQL
// database with write-ahead journaling, accessed through a bounded worker
// pool for async callers and a direct path for synchronous callbacks.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrPersistence wraps any SQL failure surfaced to callers, per spec.md §7.
type ErrPersistence struct {
	Op  string
	Err error
}

func (e *ErrPersistence) Error() string { return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err) }
func (e *ErrPersistence) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ErrPersistence{Op: op, Err: err}
}

// Store owns the single *sql.DB connection. All blocking SQL work is
// serialized through the database/sql pool; batching across operations is
// not attempted, matching spec.md §5's "database connection is serialised
// by the store's internal mutex" note — here that serialization is the
// sql.DB driver's own connection handling plus our bounded worker pool.
type Store struct {
	db   *sql.DB
	pool *Pool
}

// Open creates or opens the embedded database at dbPath, enabling
// write-ahead journaling, and applies all pending migrations. Grounded on
// internal/timeline/service.go's sql.Open pragma string in the teacher.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("store: empty db path")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create db dir: %w", err)
		}
	}

	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, pool: NewPool(4)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle and stops the worker pool.
func (s *Store) Close() error {
	s.pool.Stop()
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return wrapErr("migrate: bootstrap", err)
	}

	var applied int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&applied); err != nil {
		return wrapErr("migrate: read version", err)
	}

	for i := applied; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return wrapErr(fmt.Sprintf("migrate: step %d", i+1), err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version(version) VALUES (?)`, i+1); err != nil {
			return wrapErr(fmt.Sprintf("migrate: record step %d", i+1), err)
		}
	}
	return nil
}

// Async runs fn on the bounded worker pool, returning its error once
// complete or ctx's error if cancelled first. Use from the cooperative
// runtime (transport adapters, the Conductor's main loop, the Scheduler).
func (s *Store) Async(ctx context.Context, fn func(*sql.DB) error) error {
	return s.pool.Submit(ctx, func() error { return fn(s.db) })
}

// Sync runs fn inline against the database handle, for use from contexts
// that are already synchronous (e.g. budget accounting invoked from an LLM
// turn hook). Per spec.md §4.1: callers already inside the async runtime
// must route through Async instead, to avoid starving cooperative workers.
func (s *Store) Sync(fn func(*sql.DB) error) error {
	return fn(s.db)
}

// DB exposes the raw handle for packages (like store's own submodules) that
// need direct query access beyond the CRUD helpers below.
func (s *Store) DB() *sql.DB { return s.db }
