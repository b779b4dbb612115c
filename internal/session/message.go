// Package session defines the agent message types persisted as a session's
// tape and the prefix rules that route a session id to a transport.
package session

import (
	"strings"
	"time"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// Message is one entry in a session's ordered conversation history.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Transport identifies the chat platform that owns a session.
type Transport string

const (
	TransportTelegram Transport = "tg"
	TransportDiscord  Transport = "dc"
	TransportSlack    Transport = "slack"
	TransportCron     Transport = "cron"
	TransportUnknown  Transport = ""
)

// TransportOf returns the transport implied by a session id's prefix, per
// spec.md §3: "tg-<chat>", "dc-<channel>", "slack-<channel>[-<thread>]",
// "cron-<jobname>".
func TransportOf(sessionID string) Transport {
	switch {
	case strings.HasPrefix(sessionID, "tg-"):
		return TransportTelegram
	case strings.HasPrefix(sessionID, "dc-"):
		return TransportDiscord
	case strings.HasPrefix(sessionID, "slack-"):
		return TransportSlack
	case strings.HasPrefix(sessionID, "cron-"):
		return TransportCron
	default:
		return TransportUnknown
	}
}

// IsGroup reports whether a session id names a group/channel conversation
// rather than a 1:1 DM. Slack channel ids conventionally start with "C",
// Discord guild channel ids have no per-user segment; callers that know
// more about a specific transport's addressing may override this.
func IsGroup(sessionID string) bool {
	t := TransportOf(sessionID)
	return t == TransportSlack || t == TransportDiscord
}

// BuildSessionID constructs a session id for a transport and chat/channel
// identifier, optionally including a thread suffix for Slack.
func BuildSessionID(transport Transport, chatOrChannel, thread string) string {
	switch transport {
	case TransportTelegram:
		return "tg-" + chatOrChannel
	case TransportDiscord:
		return "dc-" + chatOrChannel
	case TransportSlack:
		if thread != "" {
			return "slack-" + chatOrChannel + "-" + thread
		}
		return "slack-" + chatOrChannel
	case TransportCron:
		return "cron-" + chatOrChannel
	default:
		return chatOrChannel
	}
}
