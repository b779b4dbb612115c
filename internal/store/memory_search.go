package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Embedder produces a vector for a piece of text. The semantic extension
// (phase (ii) of Search) is only exercised when a non-nil Embedder is
// supplied; without one, search degrades to FTS-only ranking, matching
// spec.md §4.1's "if the semantic extension is enabled" language.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// halfLifeDays is the category-dependent decay table from spec.md §4.1.
// A zero value means "no decay" (category decision).
var halfLifeDays = map[MemoryCategory]float64{
	CategoryTask:       7,
	CategoryContext:    14,
	CategoryEvent:      14,
	CategoryFact:       30,
	CategoryReflection: 60,
	CategoryPreference: 90,
	CategoryDecision:   0, // infinite: no decay
}

const rrfK = 60

// SearchResult is a ranked memory with its fused, decayed score.
type SearchResult struct {
	Entry MemoryEntry
	Score float64
}

// Search implements spec.md §4.1's three-phase ranking: candidate
// gathering (FTS ∪ optional vector kNN, each over-fetched to 3×limit),
// reciprocal-rank fusion (k=60), then category-dependent temporal decay,
// truncated to limit. Returned rows have their last_accessed/access_count
// bumped in one transaction.
//
// Persistence failure during memory search is recoverable per spec.md §7:
// callers should treat a returned error as "no results, audit it" rather
// than propagating a hard failure.
func (s *Store) Search(ctx context.Context, query string, category MemoryCategory, limit int, embedder Embedder) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	fetchN := limit * 3

	ftsRanks, err := s.ftsCandidates(ctx, query, category, fetchN)
	if err != nil {
		return nil, wrapErr("memory: search fts", err)
	}

	var vecRanks map[string]int
	if embedder != nil {
		qvec, embedErr := embedder.Embed(ctx, query)
		if embedErr == nil && len(qvec) > 0 {
			vecRanks, err = s.vectorCandidates(ctx, qvec, category, fetchN)
			if err != nil {
				vecRanks = nil // degrade gracefully; FTS alone still ranks.
			}
		}
	}

	fused := fuseRRF(ftsRanks, vecRanks)
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(fused))
	for id := range fused {
		ids = append(ids, id)
	}
	entries, err := s.loadMemoriesByID(ctx, ids)
	if err != nil {
		return nil, wrapErr("memory: search load", err)
	}

	now := time.Now().UTC()
	results := make([]SearchResult, 0, len(entries))
	for _, e := range entries {
		rrf := fused[e.ID]
		decay := decayFactor(e.Category, e.CreatedAt, now)
		results = append(results, SearchResult{Entry: e, Score: rrf * decay})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	if err := s.touchAccessed(ctx, results, now); err != nil {
		return results, wrapErr("memory: search touch", err)
	}
	return results, nil
}

// ftsCandidates runs the prefix-matched, conjunction-joined FTS5 query and
// returns a map of memory id → 1-based rank.
func (s *Store) ftsCandidates(ctx context.Context, query string, category MemoryCategory, n int) (map[string]int, error) {
	matchExpr := strings.TrimSpace(ftsMatchExpr(query))
	if matchExpr == "" {
		return nil, nil
	}

	ranks := map[string]int{}
	err := s.Async(ctx, func(db *sql.DB) error {
		args := []any{matchExpr}
		categoryFilter := ""
		if category != "" {
			categoryFilter = " AND m.category = ?"
			args = append(args, string(category))
		}
		args = append(args, n)

		sqlQuery := fmt.Sprintf(`
			SELECT m.id FROM memory_fts
			JOIN memory m ON m.rowid = memory_fts.rowid
			WHERE memory_fts MATCH ?%s
			ORDER BY bm25(memory_fts)
			LIMIT ?
		`, categoryFilter)

		rows, err := db.QueryContext(ctx, sqlQuery, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rank := 1
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ranks[id] = rank
			rank++
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ranks, nil
}

// ftsMatchExpr tokenizes a query into prefix-matched terms joined by
// conjunction, per spec.md §4.1: "database migration" → "database* AND
// migration*".
func ftsMatchExpr(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = sanitizeFTSTerm(f)
		if f == "" {
			continue
		}
		terms = append(terms, f+"*")
	}
	return strings.Join(terms, " AND ")
}

func sanitizeFTSTerm(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// vectorCandidates performs Go-side cosine-similarity kNN over stored
// embeddings, grounded on the teacher's SQLiteVecStore.Search
// (internal/memory/sqlite_vec.go): scan all embedded rows, score, sort,
// truncate. Appropriate at this store's scale (sub-10K memories).
func (s *Store) vectorCandidates(ctx context.Context, qvec []float32, category MemoryCategory, n int) (map[string]int, error) {
	type scored struct {
		id    string
		score float32
	}
	var candidates []scored

	err := s.Async(ctx, func(db *sql.DB) error {
		args := []any{}
		categoryFilter := ""
		if category != "" {
			categoryFilter = " AND category = ?"
			args = append(args, string(category))
		}
		rows, err := db.QueryContext(ctx, `SELECT id, embedding FROM memory WHERE embedding IS NOT NULL`+categoryFilter, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			var blob []byte
			if err := rows.Scan(&id, &blob); err != nil {
				return err
			}
			vec := decodeFloat32s(blob)
			if len(vec) != len(qvec) {
				continue
			}
			candidates = append(candidates, scored{id: id, score: cosineSimilarity(qvec, vec)})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	ranks := make(map[string]int, len(candidates))
	for i, c := range candidates {
		ranks[c.id] = i + 1
	}
	return ranks, nil
}

// fuseRRF merges candidate rankings by reciprocal rank fusion: for each
// candidate, rrf = Σ 1/(k + rank_source), summed over sources in which the
// candidate appeared (spec.md §4.1).
func fuseRRF(sources ...map[string]int) map[string]float64 {
	fused := map[string]float64{}
	for _, src := range sources {
		for id, rank := range src {
			fused[id] += 1.0 / float64(rrfK+rank)
		}
	}
	return fused
}

// decayFactor computes 0.5^(age_days/half_life); decision (half-life 0,
// i.e. infinite) never decays.
func decayFactor(category MemoryCategory, createdAt, now time.Time) float64 {
	halfLife, ok := halfLifeDays[category]
	if !ok || halfLife <= 0 {
		return 1.0
	}
	ageDays := now.Sub(createdAt).Hours() / 24.0
	if ageDays <= 0 {
		return 1.0
	}
	return math.Pow(0.5, ageDays/halfLife)
}

func (s *Store) loadMemoriesByID(ctx context.Context, ids []string) ([]MemoryEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var entries []MemoryEntry
	err := s.Async(ctx, func(db *sql.DB) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		rows, err := db.QueryContext(ctx, fmt.Sprintf(`
			SELECT id, COALESCE(key, ''), content, COALESCE(tags, ''), COALESCE(source, ''), category,
			       importance, created_at, updated_at, last_accessed, access_count
			FROM memory WHERE id IN (%s)
		`, placeholders), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e MemoryEntry
			var createdAt, updatedAt string
			var lastAccessed sql.NullString
			var category string
			if err := rows.Scan(&e.ID, &e.Key, &e.Content, &e.Tags, &e.Source, &category, &e.Importance, &createdAt, &updatedAt, &lastAccessed, &e.AccessCount); err != nil {
				return err
			}
			e.Category = MemoryCategory(category)
			e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
			e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
			if lastAccessed.Valid {
				t, err := time.Parse(time.RFC3339Nano, lastAccessed.String)
				if err == nil {
					e.LastAccessed = &t
				}
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

// touchAccessed updates last_accessed and access_count for the returned
// rows in one transaction, per spec.md §4.1.
func (s *Store) touchAccessed(ctx context.Context, results []SearchResult, now time.Time) error {
	if len(results) == 0 {
		return nil
	}
	return s.Async(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		stmt, err := tx.PrepareContext(ctx, `UPDATE memory SET last_accessed = ?, access_count = access_count + 1 WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range results {
			if _, err := stmt.ExecContext(ctx, now.Format(time.RFC3339Nano), r.Entry.ID); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}
