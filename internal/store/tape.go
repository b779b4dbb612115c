package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/yologdev/yoclaw/internal/session"
)

// SaveTape serializes the ordered message sequence as one value and upserts
// it with message count and timestamp, per spec.md §4.1's tape contract.
// Invariant: at most one row per session; updates are whole-blob
// replacements.
func (s *Store) SaveTape(ctx context.Context, sessionID string, messages []session.Message) error {
	blob, err := json.Marshal(messages)
	if err != nil {
		return wrapErr("tape: marshal", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	return s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO tape (session_id, messages, message_count, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				messages = excluded.messages,
				message_count = excluded.message_count,
				updated_at = excluded.updated_at
		`, sessionID, string(blob), len(messages), now)
		return wrapErr("tape: save", err)
	})
}

// LoadTape returns the session's persisted message sequence, or an empty
// sequence if the session has never been saved.
func (s *Store) LoadTape(ctx context.Context, sessionID string) ([]session.Message, error) {
	var blob sql.NullString
	err := s.Async(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT messages FROM tape WHERE session_id = ?`, sessionID)
		scanErr := row.Scan(&blob)
		if scanErr == sql.ErrNoRows {
			return nil
		}
		return scanErr
	})
	if err != nil {
		return nil, wrapErr("tape: load", err)
	}
	if !blob.Valid {
		return []session.Message{}, nil
	}
	var messages []session.Message
	if err := json.Unmarshal([]byte(blob.String), &messages); err != nil {
		return nil, wrapErr("tape: decode", err)
	}
	return messages, nil
}

// MessageCount returns the stored message count for a session, used by the
// end-to-end test scenarios in spec.md §8.
func (s *Store) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.Async(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT message_count FROM tape WHERE session_id = ?`, sessionID)
		scanErr := row.Scan(&count)
		if scanErr == sql.ErrNoRows {
			count = 0
			return nil
		}
		return scanErr
	})
	if err != nil {
		return 0, wrapErr("tape: message_count", err)
	}
	return count, nil
}

// ClearTape deletes a session's tape row. Used after tape corruption
// recovery, not in steady state (spec.md §4.1).
func (s *Store) ClearTape(ctx context.Context, sessionID string) error {
	return s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM tape WHERE session_id = ?`, sessionID)
		return wrapErr("tape: clear", err)
	})
}

// SessionSummary is one row of the admin surface's session listing.
type SessionSummary struct {
	SessionID    string
	MessageCount int
	UpdatedAt    time.Time
}

// ListSessions returns the most recently active sessions, for the admin
// API's read-only session listing.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []SessionSummary
	err := s.Async(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT session_id, message_count, updated_at FROM tape
			ORDER BY updated_at DESC LIMIT ?
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row SessionSummary
			var updatedAt string
			if err := rows.Scan(&row.SessionID, &row.MessageCount, &updatedAt); err != nil {
				return err
			}
			row.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr("tape: list_sessions", err)
	}
	return out, nil
}
