package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/yologdev/yoclaw/internal/budget"
	"github.com/yologdev/yoclaw/internal/provider"
	"github.com/yologdev/yoclaw/internal/tools"
)

// scriptedProvider returns a pre-scripted sequence of responses, one per
// ChatStream call, emitting the given deltas before returning.
type scriptedProvider struct {
	calls     int
	responses []*provider.ChatResponse
	deltas    [][]string
}

func (p *scriptedProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	return p.ChatStream(ctx, req, nil)
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req *provider.ChatRequest, deltas chan<- string) (*provider.ChatResponse, error) {
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		return nil, errors.New("scriptedProvider: no more responses")
	}
	if deltas != nil {
		for _, d := range p.deltas[i] {
			deltas <- d
		}
	}
	return p.responses[i], nil
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }

type echoTool struct{ calls int }

func (e *echoTool) Name() string               { return "echo" }
func (e *echoTool) Description() string        { return "echoes input" }
func (e *echoTool) Parameters() map[string]any { return map[string]any{} }
func (e *echoTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	e.calls++
	return "echoed", nil
}

func TestRunReturnsContentWithNoToolCalls(t *testing.T) {
	registry := tools.NewRegistry()
	prov := &scriptedProvider{
		responses: []*provider.ChatResponse{
			{Content: "hello there"},
		},
		deltas: [][]string{{"hello ", "there"}},
	}
	loop := New(registry, prov, "test-model", 4, nil)

	text, messages, err := loop.Run(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello there" {
		t.Errorf("expected final text %q, got %q", "hello there", text)
	}
	if len(messages) != 2 || messages[1].Role != "assistant" || messages[1].Content != "hello there" {
		t.Errorf("expected only the final assistant turn appended when there are no tool calls, got %d: %+v", len(messages), messages)
	}
}

func TestRunExecutesToolCallAndContinues(t *testing.T) {
	registry := tools.NewRegistry()
	tool := &echoTool{}
	registry.Register(tool)

	prov := &scriptedProvider{
		responses: []*provider.ChatResponse{
			{ToolCalls: []provider.ToolCall{{ID: "1", Name: "echo", Arguments: map[string]any{}}}},
			{Content: "done"},
		},
		deltas: [][]string{nil, nil},
	}
	loop := New(registry, prov, "test-model", 4, nil)

	text, messages, err := loop.Run(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "done" {
		t.Errorf("expected final text %q, got %q", "done", text)
	}
	if tool.calls != 1 {
		t.Errorf("expected the tool to be invoked once, got %d", tool.calls)
	}
	// user + assistant(tool_calls) + tool result + final assistant = 4
	if len(messages) != 4 {
		t.Errorf("expected 4 messages in history, got %d: %+v", len(messages), messages)
	}
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&echoTool{})

	// Every response requests a tool call, so the loop never naturally
	// terminates and must hit the iteration cap.
	responses := make([]*provider.ChatResponse, 3)
	deltas := make([][]string, 3)
	for i := range responses {
		responses[i] = &provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "1", Name: "echo"}}}
	}
	prov := &scriptedProvider{responses: responses, deltas: deltas}
	loop := New(registry, prov, "test-model", 3, nil)

	text, _, err := loop.Run(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Max iterations reached. Please try a simpler request." {
		t.Errorf("expected the iteration-cap message, got %q", text)
	}
}

func TestRunStopsWhenDailyBudgetExceeded(t *testing.T) {
	registry := tools.NewRegistry()
	prov := &scriptedProvider{
		responses: []*provider.ChatResponse{{Content: "should not reach here"}},
		deltas:    [][]string{nil},
	}
	tracker := budget.New(1, 0)
	// Exhaust the daily budget before the loop ever calls the provider.
	_ = tracker.CheckAndRecordTokens(2)

	loop := New(registry, prov, "test-model", 4, tracker)
	_, _, err := loop.Run(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	if !budget.IsLimitExceeded(err) {
		t.Fatalf("expected a budget limit error, got %v", err)
	}
	if prov.calls != 0 {
		t.Errorf("expected the provider never to be called once the budget is exhausted, got %d calls", prov.calls)
	}
}
