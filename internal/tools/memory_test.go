package tools

import (
	"context"
	"testing"

	"github.com/yologdev/yoclaw/internal/store"
)

type fakeMemoryStore struct {
	puts    []store.MemoryEntry
	results []store.SearchResult
}

func (f *fakeMemoryStore) PutMemory(ctx context.Context, m store.MemoryEntry) (string, error) {
	f.puts = append(f.puts, m)
	return "mem-1", nil
}

func (f *fakeMemoryStore) PutMemoryWithEmbedder(ctx context.Context, m store.MemoryEntry, embedder store.Embedder) (string, error) {
	if embedder != nil {
		vec, err := embedder.Embed(ctx, m.Content)
		if err == nil {
			m.Embedding = vec
		}
	}
	return f.PutMemory(ctx, m)
}

func (f *fakeMemoryStore) Search(ctx context.Context, query string, category store.MemoryCategory, limit int, embedder store.Embedder) ([]store.SearchResult, error) {
	return f.results, nil
}

type fakeEmbedder struct{ vec []float32 }

func (e fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vec, nil
}

func TestMemoryStoreToolPopulatesEmbeddingWhenConfigured(t *testing.T) {
	st := &fakeMemoryStore{}
	tool := NewMemoryStoreTool(st, fakeEmbedder{vec: []float32{0.5, 0.5}})

	if _, err := tool.Execute(context.Background(), map[string]any{"content": "the deploy window is Tuesdays"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.puts) != 1 {
		t.Fatalf("expected one put, got %d", len(st.puts))
	}
	if len(st.puts[0].Embedding) != 2 {
		t.Fatalf("expected the embedder's vector to be attached, got %+v", st.puts[0].Embedding)
	}
}

func TestMemoryStoreToolLeavesEmbeddingEmptyWithoutEmbedder(t *testing.T) {
	st := &fakeMemoryStore{}
	tool := NewMemoryStoreTool(st, nil)

	if _, err := tool.Execute(context.Background(), map[string]any{"content": "no embedder configured"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.puts) != 1 {
		t.Fatalf("expected one put, got %d", len(st.puts))
	}
	if len(st.puts[0].Embedding) != 0 {
		t.Fatalf("expected no embedding without a configured embedder, got %+v", st.puts[0].Embedding)
	}
}

func TestMemorySearchToolFormatsResults(t *testing.T) {
	st := &fakeMemoryStore{results: []store.SearchResult{
		{Entry: store.MemoryEntry{Content: "prefers dark mode", Category: store.CategoryPreference, Importance: 7}},
	}}
	tool := NewMemorySearchTool(st, nil)

	result, err := tool.Execute(context.Background(), map[string]any{"query": "preferences"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == "" {
		t.Fatal("expected a non-empty formatted result")
	}
}
