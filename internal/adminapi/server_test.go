package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/yologdev/yoclaw/internal/budget"
	"github.com/yologdev/yoclaw/internal/channels"
	"github.com/yologdev/yoclaw/internal/conductor"
	"github.com/yologdev/yoclaw/internal/injection"
	"github.com/yologdev/yoclaw/internal/policy"
	"github.com/yologdev/yoclaw/internal/provider"
	"github.com/yologdev/yoclaw/internal/store"
	"github.com/yologdev/yoclaw/internal/tools"
)

type noopProvider struct{}

func (noopProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{Content: "ok"}, nil
}
func (noopProvider) ChatStream(ctx context.Context, req *provider.ChatRequest, deltas chan<- string) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{Content: "ok"}, nil
}
func (noopProvider) DefaultModel() string { return "test-model" }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "admin.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bt := budget.New(1000, 10)
	pol := policy.New(nil, nil)
	det := injection.New(injection.ActionWarn, nil, 0.6, 0.3, nil, "")
	cond := conductor.New(st, pol, bt, det, 0, tools.NewRegistry(), noopProvider{}, channels.NewRegistry(), nil, conductor.Config{Model: "test-model"})

	return New(Config{Bind: "127.0.0.1", Port: 0}, st, bt, cond), st
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	s.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestHandleSessions(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	if err := st.SaveTape(ctx, "tg-1", nil); err != nil {
		t.Fatalf("save tape: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	s.handleSessions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Sessions []store.SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].SessionID != "tg-1" {
		t.Fatalf("unexpected sessions: %+v", body.Sessions)
	}
}

func TestHandleQueue(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	if _, err := st.Enqueue(ctx, store.QueuedMessage{Channel: "telegram", SenderID: "u1", SessionID: "tg-1", Content: "hi"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)
	s.handleQueue(rec, req)

	var body struct {
		Counts map[string]int `json:"counts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Counts["pending"] != 1 {
		t.Fatalf("expected 1 pending, got %+v", body.Counts)
	}
}

func TestHandleBudget(t *testing.T) {
	s, _ := newTestServer(t)
	_ = s.budget.CheckAndRecordTokens(42)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/budget", nil)
	s.handleBudget(rec, req)

	var body struct {
		Used  int64 `json:"daily_tokens_used"`
		Limit int64 `json:"daily_tokens_limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Used != 42 || body.Limit != 1000 {
		t.Fatalf("unexpected budget body: %+v", body)
	}
}

func TestHandleAudit(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	if _, err := st.AppendAudit(ctx, store.AuditEvent{SessionID: "tg-1", EventType: store.AuditToolCall, ToolName: "http"}); err != nil {
		t.Fatalf("append audit: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit?session=tg-1", nil)
	s.handleAudit(rec, req)

	var body struct {
		Events []store.AuditEvent `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].ToolName != "http" {
		t.Fatalf("unexpected audit events: %+v", body.Events)
	}
}

func TestHandleEventsSetsEventStreamHeaders(t *testing.T) {
	s, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		s.handleEvents(rec, req)
		close(done)
	}()

	<-ctx.Done()
	<-done

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream content type, got %q", ct)
	}
}
