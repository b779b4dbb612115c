// Package agent implements the core agent turn loop: a call to the LLM
// provider, tool-call dispatch through an already policy-wrapped tool
// registry, and repeat until the model stops requesting tools or the
// iteration cap is hit.
package agent

import (
	"context"
	"fmt"

	"github.com/yologdev/yoclaw/internal/budget"
	"github.com/yologdev/yoclaw/internal/provider"
	"github.com/yologdev/yoclaw/internal/tools"
)

const defaultMaxIterations = 8

// toProviderToolDefinitions converts the registry's OpenAI-function-calling
// map format into the typed provider.ToolDefinition ChatRequest expects.
func toProviderToolDefinitions(raw []map[string]any) []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(raw))
	for _, r := range raw {
		def := provider.ToolDefinition{}
		if t, ok := r["type"].(string); ok {
			def.Type = t
		}
		if fn, ok := r["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				def.Function.Name = name
			}
			if desc, ok := fn["description"].(string); ok {
				def.Function.Description = desc
			}
			if params, ok := fn["parameters"].(map[string]any); ok {
				def.Function.Parameters = params
			}
		}
		defs = append(defs, def)
	}
	return defs
}

// EventKind distinguishes the events a streaming turn emits.
type EventKind int

const (
	EventTurnStart EventKind = iota // a new LLM call has started; reset any accumulation buffer
	EventTextDelta                  // a chunk of assistant text
	EventToolCall                   // a tool is about to run
	EventDone                       // the turn loop is finished
)

// Event is delivered on the channel passed to Loop.Stream.
type Event struct {
	Kind     EventKind
	Text     string // EventTextDelta
	ToolName string // EventToolCall

	// EventDone only:
	FinalText string
	Messages  []provider.Message // full conversation including the final assistant turn, for the caller to persist
	Err       error
}

// Loop is a single-agent turn loop bound to one tool registry, one
// provider, and one model. It holds no per-session state; the caller
// (the Conductor) owns session switching and passes in the message
// history for each call.
type Loop struct {
	registry      *tools.Registry
	provider      provider.LLMProvider
	model         string
	maxIterations int
	budget        *budget.Tracker // optional; nil disables the per-iteration quota check
}

// New builds a Loop. maxIterations <= 0 defaults to 8. budgetTracker may
// be nil to skip the daily token quota check (e.g. for ephemeral
// scheduler prompts that should not be gated by the same ceiling).
func New(registry *tools.Registry, prov provider.LLMProvider, model string, maxIterations int, budgetTracker *budget.Tracker) *Loop {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &Loop{
		registry:      registry,
		provider:      prov,
		model:         model,
		maxIterations: maxIterations,
		budget:        budgetTracker,
	}
}

// Run executes the turn loop without streaming, returning only the final
// response text and the updated message history.
func (l *Loop) Run(ctx context.Context, messages []provider.Message) (string, []provider.Message, error) {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		l.Stream(ctx, messages, events)
	}()

	var final Event
	for ev := range events {
		if ev.Kind == EventDone {
			final = ev
		}
	}
	return final.FinalText, final.Messages, final.Err
}

// Stream runs the turn loop, forwarding TurnStart/TextDelta/ToolCall
// events as they occur and a single terminal Done event. The caller
// must drain events until the channel yields the Done event; Stream
// does not close the channel (the caller owns it, matching Run's use
// above where the channel is also the completion signal).
func (l *Loop) Stream(ctx context.Context, messages []provider.Message, events chan<- Event) {
	toolDefs := toProviderToolDefinitions(l.registry.Definitions())

	for i := 0; i < l.maxIterations; i++ {
		if l.budget != nil {
			if err := l.budget.CheckAndRecordTokens(0); err != nil {
				events <- Event{Kind: EventDone, Err: fmt.Errorf("token budget check failed: %w", err), Messages: messages}
				return
			}
		}

		events <- Event{Kind: EventTurnStart}

		deltas := make(chan string, 16)
		chatReq := &provider.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       l.model,
			MaxTokens:   4096,
			Temperature: 0.7,
		}

		var resp *provider.ChatResponse
		var streamErr error
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer close(deltas)
			resp, streamErr = l.provider.ChatStream(ctx, chatReq, deltas)
		}()
		for d := range deltas {
			events <- Event{Kind: EventTextDelta, Text: d}
		}
		<-done

		if streamErr != nil {
			events <- Event{Kind: EventDone, Err: fmt.Errorf("llm call failed: %w", streamErr), Messages: messages}
			return
		}

		if l.budget != nil {
			_ = l.budget.CheckAndRecordTokens(int64(resp.Usage.TotalTokens))
		}

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, provider.Message{Role: "assistant", Content: resp.Content})
			events <- Event{Kind: EventDone, FinalText: resp.Content, Messages: messages}
			return
		}

		messages = append(messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			events <- Event{Kind: EventToolCall, ToolName: tc.Name}

			result, err := l.registry.Execute(ctx, tc.Name, tc.Arguments)
			if err != nil {
				result = fmt.Sprintf("Error: %v", err)
			}

			messages = append(messages, provider.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	events <- Event{
		Kind:      EventDone,
		FinalText: "Max iterations reached. Please try a simpler request.",
		Messages:  messages,
	}
}
