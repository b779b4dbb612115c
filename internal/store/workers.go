package store

import (
	"context"
	"database/sql"
	"time"
)

// SavedWorker is a persisted sub-agent definition (spec.md §4.5's
// direct-delegation workers), distinct from the config-defined ones in
// internal/config so operators can define workers at runtime without a
// restart.
type SavedWorker struct {
	Name         string
	SystemPrompt string
	Model        string
	CreatedAt    time.Time
}

// PutWorker upserts a saved worker definition.
func (s *Store) PutWorker(ctx context.Context, w SavedWorker) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO saved_workers (name, system_prompt, model, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				system_prompt = excluded.system_prompt,
				model = excluded.model
		`, w.Name, w.SystemPrompt, nullable(w.Model), now)
		return wrapErr("workers: put", err)
	})
}

// GetWorker looks up a saved worker by name.
func (s *Store) GetWorker(ctx context.Context, name string) (*SavedWorker, error) {
	var w SavedWorker
	var model sql.NullString
	var createdAt string
	err := s.Async(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT name, system_prompt, model, created_at FROM saved_workers WHERE name = ?`, name)
		return row.Scan(&w.Name, &w.SystemPrompt, &model, &createdAt)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("workers: get", err)
	}
	w.Model = model.String
	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &w, nil
}

// ListWorkers returns all saved worker definitions.
func (s *Store) ListWorkers(ctx context.Context) ([]SavedWorker, error) {
	var workers []SavedWorker
	err := s.Async(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT name, system_prompt, model, created_at FROM saved_workers ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var w SavedWorker
			var model sql.NullString
			var createdAt string
			if err := rows.Scan(&w.Name, &w.SystemPrompt, &model, &createdAt); err != nil {
				return err
			}
			w.Model = model.String
			w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
			workers = append(workers, w)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr("workers: list", err)
	}
	return workers, nil
}

// DeleteWorker removes a saved worker definition.
func (s *Store) DeleteWorker(ctx context.Context, name string) error {
	return s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM saved_workers WHERE name = ?`, name)
		return wrapErr("workers: delete", err)
	})
}
