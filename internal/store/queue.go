package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// QueueStatus enumerates the lifecycle of a queued message per spec.md §3.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusDone       QueueStatus = "done"
	StatusFailed     QueueStatus = "failed"
)

// QueuedMessage mirrors spec.md §3's queued-message record.
type QueuedMessage struct {
	ID          string
	Channel     string
	SenderID    string
	SenderName  string
	SessionID   string
	Content     string
	ReplyTo     string
	Status      QueueStatus
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Enqueue is total; it must never drop (spec.md §4.1). Returns the
// generated message id.
func (s *Store) Enqueue(ctx context.Context, msg QueuedMessage) (string, error) {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	err := s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO queue (id, channel, sender_id, sender_name, session_id, content, reply_to, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, msg.Channel, msg.SenderID, nullable(msg.SenderName), msg.SessionID, msg.Content, nullable(msg.ReplyTo), string(StatusPending), now.Format(time.RFC3339Nano))
		return wrapErr("queue: enqueue", err)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ClaimNext atomically selects the oldest pending row, flips it to
// processing, and returns it. Returns (nil, nil) if no pending row exists.
func (s *Store) ClaimNext(ctx context.Context) (*QueuedMessage, error) {
	var msg *QueuedMessage
	err := s.Async(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx, `
			SELECT id, channel, sender_id, sender_name, session_id, content, reply_to, status, error, created_at, processed_at
			FROM queue WHERE status = ? ORDER BY created_at ASC LIMIT 1
		`, string(StatusPending))

		m, scanErr := scanQueuedMessage(row)
		if scanErr == sql.ErrNoRows {
			return tx.Commit()
		}
		if scanErr != nil {
			return scanErr
		}

		if _, err := tx.ExecContext(ctx, `UPDATE queue SET status = ? WHERE id = ?`, string(StatusProcessing), m.ID); err != nil {
			return err
		}
		m.Status = StatusProcessing
		msg = m
		return tx.Commit()
	})
	if err != nil {
		return nil, wrapErr("queue: claim_next", err)
	}
	return msg, nil
}

// Complete flips a queue row to a terminal state. Calling Complete twice
// for the same id with the same outcome succeeds and leaves the status
// unchanged; the second call only rewrites error and processed_at
// (idempotent under re-delivery, per spec.md §8).
func (s *Store) Complete(ctx context.Context, id string, ok bool, errMsg string) error {
	status := StatusDone
	if !ok {
		status = StatusFailed
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	return s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE queue SET status = ?, error = ?, processed_at = ?
			WHERE id = ? AND status IN (?, ?)
		`, string(status), nullable(errMsg), now, id, string(StatusProcessing), string(status))
		return wrapErr("queue: complete", err)
	})
}

// RequeueStale resets all processing rows to pending. Called on startup as
// crash recovery, per spec.md §3.
func (s *Store) RequeueStale(ctx context.Context) (int64, error) {
	var n int64
	err := s.Async(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `UPDATE queue SET status = ? WHERE status = ?`, string(StatusPending), string(StatusProcessing))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, wrapErr("queue: requeue_stale", err)
	}
	return n, nil
}

// QueueCounts returns the number of queue rows in each status, for the
// admin API's read-only queue summary.
func (s *Store) QueueCounts(ctx context.Context) (map[QueueStatus]int, error) {
	counts := map[QueueStatus]int{}
	err := s.Async(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue GROUP BY status`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			counts[QueueStatus(status)] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr("queue: counts", err)
	}
	return counts, nil
}

func scanQueuedMessage(row *sql.Row) (*QueuedMessage, error) {
	var m QueuedMessage
	var senderName, replyTo, errStr sql.NullString
	var createdAt string
	var processedAt sql.NullString
	var status string

	if err := row.Scan(&m.ID, &m.Channel, &m.SenderID, &senderName, &m.SessionID, &m.Content, &replyTo, &status, &errStr, &createdAt, &processedAt); err != nil {
		return nil, err
	}
	m.SenderName = senderName.String
	m.ReplyTo = replyTo.String
	m.Error = errStr.String
	m.Status = QueueStatus(status)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if processedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, processedAt.String)
		if err == nil {
			m.ProcessedAt = &t
		}
	}
	return &m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
