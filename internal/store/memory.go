package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryCategory enumerates the category vocabulary from spec.md §3, which
// also selects the decay half-life used by Search (memory_search.go).
type MemoryCategory string

const (
	CategoryFact       MemoryCategory = "fact"
	CategoryPreference MemoryCategory = "preference"
	CategoryDecision   MemoryCategory = "decision"
	CategoryTask       MemoryCategory = "task"
	CategoryContext    MemoryCategory = "context"
	CategoryEvent      MemoryCategory = "event"
	CategoryReflection MemoryCategory = "reflection"
)

// MemoryEntry mirrors spec.md §3's memory record.
type MemoryEntry struct {
	ID           string
	Key          string
	Content      string
	Tags         string
	Source       string
	Category     MemoryCategory
	Importance   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastAccessed *time.Time
	AccessCount  int
	Embedding    []float32
}

// PutMemoryWithEmbedder computes m's embedding from its content before
// writing, when embedder is non-nil. This is the write-side counterpart to
// Search's query-side embedder argument (spec.md §3: "when the semantic
// index is enabled, an embedding row is also written"); callers that have
// no embedder configured fall straight through to PutMemory and leave the
// semantic index unpopulated.
func (s *Store) PutMemoryWithEmbedder(ctx context.Context, m MemoryEntry, embedder Embedder) (string, error) {
	if embedder != nil && len(m.Embedding) == 0 && m.Content != "" {
		vec, err := embedder.Embed(ctx, m.Content)
		if err == nil {
			m.Embedding = vec
		}
	}
	return s.PutMemory(ctx, m)
}

// PutMemory inserts a memory, or upserts by Key when Key is non-empty
// (spec.md §3: "Optional key gives upsert semantics; otherwise
// insert-only"). The FTS shadow (and vector shadow, when Embedding is set)
// are maintained by the memory_fts triggers and the embedding column
// written here directly.
func (s *Store) PutMemory(ctx context.Context, m MemoryEntry) (string, error) {
	id := m.ID
	if id == "" {
		id = ulid.Make().String()
	}
	now := time.Now().UTC()
	if m.Category == "" {
		m.Category = CategoryFact
	}
	if m.Importance == 0 {
		m.Importance = 5
	}

	var embedBlob []byte
	if len(m.Embedding) > 0 {
		embedBlob = encodeFloat32s(m.Embedding)
	}

	err := s.Async(ctx, func(db *sql.DB) error {
		if m.Key != "" {
			_, err := db.ExecContext(ctx, `
				INSERT INTO memory (id, key, content, tags, source, category, importance, created_at, updated_at, embedding)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(key) WHERE key IS NOT NULL DO UPDATE SET
					content = excluded.content,
					tags = excluded.tags,
					source = excluded.source,
					category = excluded.category,
					importance = excluded.importance,
					updated_at = excluded.updated_at,
					embedding = excluded.embedding
			`, id, m.Key, m.Content, nullable(m.Tags), nullable(m.Source), string(m.Category), m.Importance,
				now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), embedBlob)
			return err
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO memory (id, key, content, tags, source, category, importance, created_at, updated_at, embedding)
			VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, m.Content, nullable(m.Tags), nullable(m.Source), string(m.Category), m.Importance,
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), embedBlob)
		return err
	})
	if err != nil {
		return "", wrapErr("memory: put", err)
	}

	// Re-read the id actually stored (upsert path may have resolved to an
	// existing row's id rather than the freshly generated one).
	if m.Key != "" {
		var existingID string
		lookupErr := s.Async(ctx, func(db *sql.DB) error {
			return db.QueryRowContext(ctx, `SELECT id FROM memory WHERE key = ?`, m.Key).Scan(&existingID)
		})
		if lookupErr == nil && existingID != "" {
			return existingID, nil
		}
	}
	return id, nil
}

// DeleteMemory removes a memory row by id.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	return s.Async(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM memory WHERE id = ?`, id)
		return wrapErr("memory: delete", err)
	})
}
