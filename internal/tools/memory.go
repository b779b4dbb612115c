package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/yologdev/yoclaw/internal/store"
)

// MemoryStore is the subset of the persistence store the memory tools
// need: writing a new memory and running the fused FTS/vector/decay
// search over existing ones.
type MemoryStore interface {
	PutMemory(ctx context.Context, m store.MemoryEntry) (string, error)
	PutMemoryWithEmbedder(ctx context.Context, m store.MemoryEntry, embedder store.Embedder) (string, error)
	Search(ctx context.Context, query string, category store.MemoryCategory, limit int, embedder store.Embedder) ([]store.SearchResult, error)
}

// MemorySearchTool lets the agent query its own long-term memory, ranked
// by MemoryStore.Search's reciprocal-rank-fused, decay-weighted scoring.
type MemorySearchTool struct {
	store    MemoryStore
	embedder store.Embedder // optional; nil degrades Search to FTS-only ranking
}

func NewMemorySearchTool(st MemoryStore, embedder store.Embedder) *MemorySearchTool {
	return &MemorySearchTool{store: st, embedder: embedder}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search the agent's long-term memory. Results are ranked by relevance with temporal decay " +
		"(task memories fade faster than preferences/decisions). Returns category and importance metadata."
}

func (t *MemorySearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Search query for finding relevant memories"},
			"limit": map[string]any{"type": "integer", "description": "Maximum number of results to return (default: 10)"},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := GetString(params, "query", "")
	if query == "" {
		return "Error: query is required", nil
	}
	limit := GetInt(params, "limit", 10)

	results, err := t.store.Search(ctx, query, "", limit, t.embedder)
	if err != nil {
		return fmt.Sprintf("Error searching memory: %v", err), nil
	}
	if len(results) == 0 {
		return fmt.Sprintf("No memories found for %q.", query), nil
	}

	var b strings.Builder
	for i, r := range results {
		key := ""
		if r.Entry.Key != "" {
			key = fmt.Sprintf(" (key: %s)", r.Entry.Key)
		}
		fmt.Fprintf(&b, "%d. [%s|%s|imp:%d]%s %s\n", i+1, r.Entry.Category, r.Entry.Tags, r.Entry.Importance, key, r.Entry.Content)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// MemoryStoreTool lets the agent persist a fact, preference, decision, or
// other note to long-term memory, upserting by key when one is given.
type MemoryStoreTool struct {
	store    MemoryStore
	embedder store.Embedder // optional; nil leaves the semantic index unpopulated
}

func NewMemoryStoreTool(st MemoryStore, embedder store.Embedder) *MemoryStoreTool {
	return &MemoryStoreTool{store: st, embedder: embedder}
}

func (t *MemoryStoreTool) Name() string { return "memory_store" }

func (t *MemoryStoreTool) Description() string {
	return "Save information to long-term memory with optional category and importance. Categories: " +
		"fact, preference, decision, event, task, reflection. Importance: 1-10 (higher = more important, " +
		"less likely to be pruned). Decisions never decay; tasks decay in ~7 days; preferences persist ~90 days."
}

func (t *MemoryStoreTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{"type": "string", "description": "The information to remember"},
			"key":     map[string]any{"type": "string", "description": "Optional unique key for direct lookup and upsert (e.g. 'user_name', 'preferred_language')"},
			"tags":    map[string]any{"type": "string", "description": "Optional comma-separated tags for categorization (e.g. 'preference,user')"},
			"category": map[string]any{
				"type":        "string",
				"description": "Memory category: fact, preference, decision, event, task, reflection (default: fact)",
				"enum":        []string{"fact", "preference", "decision", "event", "task", "reflection"},
			},
			"importance": map[string]any{"type": "integer", "description": "Importance score 1-10 (default: 5). Higher = more important, less likely to be pruned."},
		},
		"required": []string{"content"},
	}
}

func (t *MemoryStoreTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	content := GetString(params, "content", "")
	if content == "" {
		return "Error: content is required", nil
	}
	category := store.MemoryCategory(GetString(params, "category", string(store.CategoryFact)))

	id, err := t.store.PutMemoryWithEmbedder(ctx, store.MemoryEntry{
		Key:        GetString(params, "key", ""),
		Content:    content,
		Tags:       GetString(params, "tags", ""),
		Category:   category,
		Importance: GetInt(params, "importance", 5),
		Source:     "agent",
	}, t.embedder)
	if err != nil {
		return fmt.Sprintf("Error storing memory: %v", err), nil
	}
	return fmt.Sprintf("Stored memory %s.", id), nil
}
