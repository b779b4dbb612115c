package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yologdev/yoclaw/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTapeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msgs := []session.Message{
		{Role: session.RoleUser, Content: "hello", Timestamp: time.Now()},
		{Role: session.RoleAssistant, Content: "hi there", Timestamp: time.Now()},
	}
	if err := s.SaveTape(ctx, "tg-123", msgs); err != nil {
		t.Fatalf("save tape: %v", err)
	}

	got, err := s.LoadTape(ctx, "tg-123")
	if err != nil {
		t.Fatalf("load tape: %v", err)
	}
	if len(got) != 2 || got[0].Content != "hello" || got[1].Content != "hi there" {
		t.Fatalf("unexpected tape contents: %+v", got)
	}

	count, err := s.MessageCount(ctx, "tg-123")
	if err != nil {
		t.Fatalf("message count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}

	// Whole-blob replacement: saving again with fewer messages overwrites.
	if err := s.SaveTape(ctx, "tg-123", msgs[:1]); err != nil {
		t.Fatalf("save tape again: %v", err)
	}
	got, err = s.LoadTape(ctx, "tg-123")
	if err != nil {
		t.Fatalf("load tape: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message after overwrite, got %d", len(got))
	}
}

func TestLoadTapeMissingSessionIsEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadTape(context.Background(), "tg-never-seen")
	if err != nil {
		t.Fatalf("load tape: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty tape, got %d messages", len(got))
	}
}

func TestQueueClaimAndComplete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, QueuedMessage{Channel: "telegram", SenderID: "u1", SessionID: "tg-1", Content: "hi"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := s.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != id {
		t.Fatalf("expected to claim %s, got %+v", id, claimed)
	}
	if claimed.Status != StatusProcessing {
		t.Errorf("expected processing status, got %s", claimed.Status)
	}

	// Nothing else pending.
	next, err := s.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if next != nil {
		t.Errorf("expected no further pending rows, got %+v", next)
	}

	if err := s.Complete(ctx, id, true, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Second Complete for the same id is a no-op, not an error.
	if err := s.Complete(ctx, id, true, ""); err != nil {
		t.Fatalf("second complete should be a no-op: %v", err)
	}
}

func TestRequeueStaleRecoversCrashedClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, QueuedMessage{Channel: "discord", SenderID: "u1", SessionID: "dc-1", Content: "hi"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := s.RequeueStale(ctx)
	if err != nil {
		t.Fatalf("requeue stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued row, got %d", n)
	}

	reclaimed, err := s.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim after requeue: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != id {
		t.Fatalf("expected to reclaim %s, got %+v", id, reclaimed)
	}
}

func TestMemoryPutAndUpsertByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.PutMemory(ctx, MemoryEntry{Key: "favorite_color", Content: "blue", Category: CategoryPreference})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	id2, err := s.PutMemory(ctx, MemoryEntry{Key: "favorite_color", Content: "green", Category: CategoryPreference})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected upsert to preserve id, got %s then %s", id1, id2)
	}
}

func TestMemorySearchRanksAndDecays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.PutMemory(ctx, MemoryEntry{Content: "the deployment pipeline uses kubernetes", Category: CategoryFact}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.PutMemory(ctx, MemoryEntry{Content: "unrelated note about lunch", Category: CategoryFact}); err != nil {
		t.Fatalf("put: %v", err)
	}

	results, err := s.Search(ctx, "kubernetes deployment", "", 10, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Entry.Content != "the deployment pipeline uses kubernetes" {
		t.Errorf("expected the matching memory to rank first, got %q", results[0].Entry.Content)
	}
}

func TestMemorySearchTouchesAccessBookkeeping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.PutMemory(ctx, MemoryEntry{Content: "rotate the api keys quarterly", Category: CategoryTask})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	results, err := s.Search(ctx, "rotate api keys", "", 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Entry.ID != id {
		t.Fatalf("expected single match on %s, got %+v", id, results)
	}
	if results[0].Entry.AccessCount != 0 {
		t.Errorf("expected pre-touch access count snapshot of 0, got %d", results[0].Entry.AccessCount)
	}

	entries, err := s.loadMemoriesByID(ctx, []string{id})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(entries) != 1 || entries[0].AccessCount != 1 {
		t.Fatalf("expected access_count bumped to 1 after search, got %+v", entries)
	}
}

type stubEmbedder struct {
	vec []float32
	err error
}

func (e stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vec, e.err
}

func TestPutMemoryWithEmbedderPopulatesVectorColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	embedder := stubEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	id, err := s.PutMemoryWithEmbedder(ctx, MemoryEntry{Content: "the API token rotates weekly", Category: CategoryFact}, embedder)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	ranks, err := s.vectorCandidates(ctx, []float32{0.1, 0.2, 0.3}, "", 10)
	if err != nil {
		t.Fatalf("vector candidates: %v", err)
	}
	if _, ok := ranks[id]; !ok {
		t.Fatalf("expected %s to be a vector candidate, got %+v", id, ranks)
	}
}

func TestPutMemoryWithEmbedderNilEmbedderLeavesColumnEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.PutMemoryWithEmbedder(ctx, MemoryEntry{Content: "no embedder configured", Category: CategoryFact}, nil)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	ranks, err := s.vectorCandidates(ctx, []float32{0.1, 0.2, 0.3}, "", 10)
	if err != nil {
		t.Fatalf("vector candidates: %v", err)
	}
	if _, ok := ranks[id]; ok {
		t.Fatalf("expected %s to be absent from the vector index without an embedder", id)
	}
}

func TestDecayFactorOrdering(t *testing.T) {
	now := time.Now().UTC()
	fresh := decayFactor(CategoryTask, now, now)
	old := decayFactor(CategoryTask, now.Add(-30*24*time.Hour), now)
	if !(fresh > old) {
		t.Errorf("expected fresh task memory to outrank a 30-day-old one: fresh=%f old=%f", fresh, old)
	}

	decisionOld := decayFactor(CategoryDecision, now.Add(-365*24*time.Hour), now)
	if decisionOld != 1.0 {
		t.Errorf("expected decision category to never decay, got %f", decisionOld)
	}
}

func TestAuditAppendAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AppendAudit(ctx, AuditEvent{SessionID: "tg-1", EventType: AuditToolCall, ToolName: "shell"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendAudit(ctx, AuditEvent{SessionID: "tg-1", EventType: AuditToolDenied, ToolName: "shell"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := s.RecentAudit(ctx, "tg-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != AuditToolDenied {
		t.Errorf("expected newest-first ordering, got %s", events[0].EventType)
	}
}

func TestCronJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := CronJob{Name: "daily-digest", Schedule: "0 9 * * *", Prompt: "summarize yesterday", Enabled: true}
	if err := s.UpsertCronJob(ctx, job); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	jobs, err := s.ListCronJobs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "daily-digest" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}

	runID, err := s.StartCronRun(ctx, "daily-digest")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := s.FinishCronRun(ctx, runID, true, ""); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	last, err := s.LastRun(ctx, "daily-digest")
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	if last == nil || last.Status != CronRunSucceeded {
		t.Fatalf("expected succeeded run, got %+v", last)
	}

	if err := s.SetCronJobEnabled(ctx, "daily-digest", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	jobs, err = s.ListCronJobs(ctx)
	if err != nil {
		t.Fatalf("list after disable: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected disabled job to be excluded, got %+v", jobs)
	}
}

func TestStateGetSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.GetState(ctx, "cortex.last_run")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected key to be unset")
	}

	if err := s.SetState(ctx, "cortex.last_run", "2026-08-06T00:00:00Z"); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, found, err := s.GetState(ctx, "cortex.last_run")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || value != "2026-08-06T00:00:00Z" {
		t.Fatalf("unexpected state: %q found=%v", value, found)
	}
}

func TestSavedWorkerCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutWorker(ctx, SavedWorker{Name: "researcher", SystemPrompt: "you research things", Model: "claude-sonnet"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	w, err := s.GetWorker(ctx, "researcher")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if w == nil || w.SystemPrompt != "you research things" {
		t.Fatalf("unexpected worker: %+v", w)
	}

	if err := s.DeleteWorker(ctx, "researcher"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	w, err = s.GetWorker(ctx, "researcher")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if w != nil {
		t.Fatalf("expected nil after delete, got %+v", w)
	}
}
