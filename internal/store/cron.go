package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SessionMode controls which session a cron job's prompt is dispatched
// into, per spec.md §4.6.
type SessionMode string

const (
	SessionModeIsolated  SessionMode = "isolated"  // fresh cron-<jobname> session each run
	SessionModePersisted SessionMode = "persisted" // append to the job's standing cron-<jobname> tape
)

// CronJob is a persisted schedule entry. Definitions live in config at
// startup (internal/config) but are mirrored into this table so the
// Scheduler can track run history and operators can toggle jobs without a
// restart.
type CronJob struct {
	Name          string
	Schedule      string
	Prompt        string
	TargetChannel string
	SessionMode   SessionMode
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CronRunStatus enumerates a cron run's lifecycle.
type CronRunStatus string

const (
	CronRunStarted   CronRunStatus = "started"
	CronRunSucceeded CronRunStatus = "succeeded"
	CronRunFailed    CronRunStatus = "failed"
)

// CronRun records one execution of a cron job.
type CronRun struct {
	ID        string
	JobName   string
	Status    CronRunStatus
	StartedAt time.Time
	EndedAt   *time.Time
	Error     string
}

// UpsertCronJob inserts or replaces a job definition, called at startup by
// cmd/conductor's seedCronJobs to reconcile config-defined jobs into the
// table.
func (s *Store) UpsertCronJob(ctx context.Context, j CronJob) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	mode := j.SessionMode
	if mode == "" {
		mode = SessionModeIsolated
	}
	return s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO cron_jobs (name, schedule, prompt, target_channel, session_mode, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				schedule = excluded.schedule,
				prompt = excluded.prompt,
				target_channel = excluded.target_channel,
				session_mode = excluded.session_mode,
				enabled = excluded.enabled,
				updated_at = excluded.updated_at
		`, j.Name, j.Schedule, j.Prompt, nullable(j.TargetChannel), string(mode), boolToInt(j.Enabled), now, now)
		return wrapErr("cron: upsert_job", err)
	})
}

// ListCronJobs returns all enabled jobs, used by the Scheduler's tick loop
// to decide what to check against the current time.
func (s *Store) ListCronJobs(ctx context.Context) ([]CronJob, error) {
	var jobs []CronJob
	err := s.Async(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT name, schedule, prompt, COALESCE(target_channel,''), session_mode, enabled, created_at, updated_at
			FROM cron_jobs WHERE enabled = 1
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var j CronJob
			var enabled int
			var createdAt, updatedAt, mode string
			if err := rows.Scan(&j.Name, &j.Schedule, &j.Prompt, &j.TargetChannel, &mode, &enabled, &createdAt, &updatedAt); err != nil {
				return err
			}
			j.SessionMode = SessionMode(mode)
			j.Enabled = enabled != 0
			j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
			j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
			jobs = append(jobs, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr("cron: list_jobs", err)
	}
	return jobs, nil
}

// SetCronJobEnabled toggles a job without requiring a restart.
func (s *Store) SetCronJobEnabled(ctx context.Context, name string, enabled bool) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `UPDATE cron_jobs SET enabled = ?, updated_at = ? WHERE name = ?`, boolToInt(enabled), now, name)
		return wrapErr("cron: set_enabled", err)
	})
}

// StartCronRun records the start of a job execution.
func (s *Store) StartCronRun(ctx context.Context, jobName string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO cron_runs (id, job_name, status, started_at) VALUES (?, ?, ?, ?)
		`, id, jobName, string(CronRunStarted), now)
		return err
	})
	if err != nil {
		return "", wrapErr("cron: start_run", err)
	}
	return id, nil
}

// FinishCronRun records a run's terminal outcome.
func (s *Store) FinishCronRun(ctx context.Context, runID string, ok bool, errMsg string) error {
	status := CronRunSucceeded
	if !ok {
		status = CronRunFailed
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE cron_runs SET status = ?, ended_at = ?, error = ? WHERE id = ?
		`, string(status), now, nullable(errMsg), runID)
		return wrapErr("cron: finish_run", err)
	})
}

// LastRun returns the most recent run for a job, or nil if it has never
// run. The Scheduler uses this to avoid double-firing a job within the
// same tick window after a restart.
func (s *Store) LastRun(ctx context.Context, jobName string) (*CronRun, error) {
	var r CronRun
	var startedAt string
	var endedAt, errStr sql.NullString
	var status string
	err := s.Async(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `
			SELECT id, job_name, status, started_at, ended_at, error
			FROM cron_runs WHERE job_name = ? ORDER BY started_at DESC LIMIT 1
		`, jobName)
		return row.Scan(&r.ID, &r.JobName, &status, &startedAt, &endedAt, &errStr)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("cron: last_run", err)
	}
	r.Status = CronRunStatus(status)
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	r.Error = errStr.String
	if endedAt.Valid {
		t, parseErr := time.Parse(time.RFC3339Nano, endedAt.String)
		if parseErr == nil {
			r.EndedAt = &t
		}
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
