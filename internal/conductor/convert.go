package conductor

import (
	"time"

	"github.com/yologdev/yoclaw/internal/provider"
	"github.com/yologdev/yoclaw/internal/session"
)

// tapeToWire converts a session's persisted tape into the provider's wire
// message format for one LLM call.
func tapeToWire(messages []session.Message) []provider.Message {
	out := make([]provider.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case session.RoleToolCall:
			out = append(out, provider.Message{
				Role: "assistant",
				ToolCalls: []provider.ToolCall{{
					ID:        m.ToolCallID,
					Name:      m.ToolName,
					Arguments: m.Arguments,
				}},
			})
		case session.RoleToolResult:
			out = append(out, provider.Message{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		default:
			out = append(out, provider.Message{
				Role:    string(m.Role),
				Content: m.Content,
			})
		}
	}
	return out
}

// wireToTape converts the provider-format messages produced by one
// agent.Loop run back into the tape's persisted format. Every message,
// including those already on the tape before the run, is stamped with
// now; earlier timestamps are not carried over.
func wireToTape(before []provider.Message, now time.Time) []session.Message {
	out := make([]session.Message, 0, len(before))
	for _, m := range before {
		switch {
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				out = append(out, session.Message{
					Role:       session.RoleToolCall,
					ToolName:   tc.Name,
					ToolCallID: tc.ID,
					Arguments:  tc.Arguments,
					Timestamp:  now,
				})
			}
		case m.Role == "tool":
			out = append(out, session.Message{
				Role:       session.RoleToolResult,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				Timestamp:  now,
			})
		default:
			out = append(out, session.Message{
				Role:      session.Role(m.Role),
				Content:   m.Content,
				Timestamp: now,
			})
		}
	}
	return out
}

func userMessage(content string, now time.Time) session.Message {
	return session.Message{Role: session.RoleUser, Content: content, Timestamp: now}
}
