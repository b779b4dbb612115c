package store

import (
	"context"
	"database/sql"
)

// GetState reads a small key/value progress marker (e.g. the scheduler's
// last-tick cursor, or the cortex maintenance pass's last-run timestamp).
// Returns ("", false, nil) if the key is unset.
func (s *Store) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	found := true
	err := s.Async(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key)
		scanErr := row.Scan(&value)
		if scanErr == sql.ErrNoRows {
			found = false
			return nil
		}
		return scanErr
	})
	if err != nil {
		return "", false, wrapErr("state: get", err)
	}
	return value, found, nil
}

// SetState upserts a key/value progress marker.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	return s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		return wrapErr("state: set", err)
	})
}
