package tools

import (
	"context"
	"testing"

	"github.com/yologdev/yoclaw/internal/policy"
	"github.com/yologdev/yoclaw/internal/store"
)

type stubTool struct {
	calls int
}

func (s *stubTool) Name() string               { return "echo" }
func (s *stubTool) Description() string        { return "echoes its input" }
func (s *stubTool) Parameters() map[string]any { return map[string]any{} }
func (s *stubTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	s.calls++
	return "ok", nil
}

type stubAuditor struct {
	events []store.AuditEvent
}

func (a *stubAuditor) AppendAudit(ctx context.Context, e store.AuditEvent) (string, error) {
	a.events = append(a.events, e)
	return "audit-id", nil
}

func TestWrapperDeniesAndAuditsWithoutCallingInner(t *testing.T) {
	inner := &stubTool{}
	p := policy.New(map[string]policy.ToolPolicy{"echo": {Enabled: false}}, nil)
	audit := &stubAuditor{}
	w := Wrap(inner, p, audit, "tg-1")

	result, err := w.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 0 {
		t.Fatalf("expected inner tool not to run, called %d times", inner.calls)
	}
	if result == "ok" {
		t.Fatal("expected denial message, not the tool's result")
	}
	if len(audit.events) != 1 || audit.events[0].EventType != store.AuditToolDenied {
		t.Fatalf("expected one tool_denied audit event, got %+v", audit.events)
	}
}

func TestWrapperAllowsAndAuditsCallAndResult(t *testing.T) {
	inner := &stubTool{}
	p := policy.New(map[string]policy.ToolPolicy{"echo": {Enabled: true}}, nil)
	audit := &stubAuditor{}
	w := Wrap(inner, p, audit, "tg-1")

	result, err := w.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected inner tool to run once, got %d", inner.calls)
	}
	if result != "ok" {
		t.Fatalf("expected the tool's result, got %q", result)
	}
	if len(audit.events) != 2 {
		t.Fatalf("expected tool_call and tool_result audit events, got %+v", audit.events)
	}
	if audit.events[0].EventType != store.AuditToolCall || audit.events[1].EventType != store.AuditToolResult {
		t.Fatalf("unexpected event ordering: %+v", audit.events)
	}
}
