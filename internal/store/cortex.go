package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// staleMemoryTTL and staleImportanceCeiling gate the cortex stale-cleanup
// pass: rows past this age whose importance is at or below the ceiling are
// deleted, except for the decision category, which is never auto-pruned.
const (
	staleMemoryTTL         = 90 * 24 * time.Hour
	staleImportanceCeiling = 3
)

// PruneStaleMemory deletes memory rows whose last_accessed (falling back to
// created_at when never accessed) is older than 90 days and whose
// importance is at or below the ceiling, excluding category "decision".
func (s *Store) PruneStaleMemory(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleMemoryTTL).Format(time.RFC3339Nano)
	var n int64
	err := s.Async(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			DELETE FROM memory
			WHERE importance <= ?
			  AND category != 'decision'
			  AND COALESCE(last_accessed, created_at) < ?
		`, staleImportanceCeiling, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, wrapErr("cortex: prune_stale", err)
	}
	return n, nil
}

// DeduplicateMemory groups rows by exact content match, keeps the newest
// row in each group, and deletes the rest.
func (s *Store) DeduplicateMemory(ctx context.Context) (int64, error) {
	var n int64
	err := s.Async(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			DELETE FROM memory
			WHERE id NOT IN (
				SELECT id FROM (
					SELECT id, content,
					       ROW_NUMBER() OVER (PARTITION BY content ORDER BY created_at DESC) AS rn
					FROM memory
				)
				WHERE rn = 1
			)
		`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, wrapErr("cortex: deduplicate", err)
	}
	return n, nil
}

// consolidationStateKey and indexingStateKey record, per session, the
// tape message_count at which that maintenance pass last ran. A session is
// re-eligible once its message_count grows past the recorded value, which
// lets both passes run again after a burst of new activity instead of
// marking a session done forever after its first pass.
func consolidationStateKey(sessionID string) string { return "cortex:consolidated:" + sessionID }
func indexingStateKey(sessionID string) string      { return "cortex:indexed:" + sessionID }

// sessionCandidate is a tape row eligible for a cortex pass.
type sessionCandidate struct {
	SessionID    string
	MessageCount int
}

// SessionsForConsolidation returns sessions updated since `since` with at
// least minMessages messages whose message_count has grown past the last
// recorded consolidation checkpoint (or that have never been consolidated).
func (s *Store) SessionsForConsolidation(ctx context.Context, since time.Time, minMessages int) ([]string, error) {
	return s.sessionsNeedingPass(ctx, since, minMessages, consolidationStateKey)
}

// MarkSessionConsolidated records the tape's current message_count as the
// consolidation checkpoint for sessionID.
func (s *Store) MarkSessionConsolidated(ctx context.Context, sessionID string, messageCount int) error {
	return s.SetState(ctx, consolidationStateKey(sessionID), strconv.Itoa(messageCount))
}

// SessionsForIndexing returns sessions eligible for the session-summary
// indexing pass, by the same checkpoint logic as SessionsForConsolidation.
func (s *Store) SessionsForIndexing(ctx context.Context, since time.Time, minMessages int) ([]string, error) {
	return s.sessionsNeedingPass(ctx, since, minMessages, indexingStateKey)
}

// MarkSessionIndexed records the tape's current message_count as the
// indexing checkpoint for sessionID.
func (s *Store) MarkSessionIndexed(ctx context.Context, sessionID string, messageCount int) error {
	return s.SetState(ctx, indexingStateKey(sessionID), strconv.Itoa(messageCount))
}

func (s *Store) sessionsNeedingPass(ctx context.Context, since time.Time, minMessages int, stateKey func(string) string) ([]string, error) {
	var candidates []sessionCandidate
	err := s.Async(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT session_id, message_count FROM tape
			WHERE updated_at >= ? AND message_count >= ?
		`, since.UTC().Format(time.RFC3339Nano), minMessages)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c sessionCandidate
			if err := rows.Scan(&c.SessionID, &c.MessageCount); err != nil {
				return err
			}
			candidates = append(candidates, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr("cortex: sessions_needing_pass", err)
	}

	var eligible []string
	for _, c := range candidates {
		checkpoint, found, err := s.GetState(ctx, stateKey(c.SessionID))
		if err != nil {
			return nil, fmt.Errorf("cortex: read checkpoint for %q: %w", c.SessionID, err)
		}
		if !found {
			eligible = append(eligible, c.SessionID)
			continue
		}
		last, err := strconv.Atoi(checkpoint)
		if err != nil || c.MessageCount > last {
			eligible = append(eligible, c.SessionID)
		}
	}
	return eligible, nil
}
