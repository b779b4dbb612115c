package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"
)

// AuditEventType enumerates the event kinds the Security & Budget layer and
// the Conductor write, per spec.md §4.2.
type AuditEventType string

const (
	AuditToolCall       AuditEventType = "tool_call"
	AuditToolResult     AuditEventType = "tool_result"
	AuditToolDenied     AuditEventType = "tool_denied"
	AuditBudgetExceeded AuditEventType = "budget_exceeded"
	AuditInputRejected  AuditEventType = "input_rejected"
	AuditCronRun        AuditEventType = "cron_run"
)

// AuditEvent is one append-only log row.
type AuditEvent struct {
	ID         string
	SessionID  string
	EventType  AuditEventType
	ToolName   string
	Detail     string
	TokensUsed int64
	Timestamp  time.Time
}

// AppendAudit writes one event. The audit log is append-only: there is no
// update or delete path, per spec.md §4.2.
func (s *Store) AppendAudit(ctx context.Context, e AuditEvent) (string, error) {
	id := e.ID
	if id == "" {
		id = ulid.Make().String()
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	err := s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO audit (id, session_id, event_type, tool_name, detail, tokens_used, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, nullable(e.SessionID), string(e.EventType), nullable(e.ToolName), nullable(e.Detail), e.TokensUsed, ts.Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return "", wrapErr("audit: append", err)
	}
	return id, nil
}

// RecentAudit returns the most recent n events, optionally filtered to one
// session, newest first. Used by the admin surface's audit listing.
func (s *Store) RecentAudit(ctx context.Context, sessionID string, n int) ([]AuditEvent, error) {
	if n <= 0 {
		n = 50
	}
	var events []AuditEvent
	err := s.Async(ctx, func(db *sql.DB) error {
		var rows *sql.Rows
		var err error
		if sessionID != "" {
			rows, err = db.QueryContext(ctx, `
				SELECT id, COALESCE(session_id,''), event_type, COALESCE(tool_name,''), COALESCE(detail,''), tokens_used, timestamp
				FROM audit WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?
			`, sessionID, n)
		} else {
			rows, err = db.QueryContext(ctx, `
				SELECT id, COALESCE(session_id,''), event_type, COALESCE(tool_name,''), COALESCE(detail,''), tokens_used, timestamp
				FROM audit ORDER BY timestamp DESC LIMIT ?
			`, n)
		}
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e AuditEvent
			var eventType, ts string
			if err := rows.Scan(&e.ID, &e.SessionID, &eventType, &e.ToolName, &e.Detail, &e.TokensUsed, &ts); err != nil {
				return err
			}
			e.EventType = AuditEventType(eventType)
			e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
			events = append(events, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr("audit: recent", err)
	}
	return events, nil
}
