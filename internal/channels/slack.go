package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/yologdev/yoclaw/internal/session"
)

// slackCharLimit is Slack's single-message character cap.
const slackCharLimit = 4000

// SlackPlaceholder identifies a posted message for later UpdateMessageContext
// calls, mirroring the (channel, timestamp) pair slack-go's API returns.
type SlackPlaceholder struct {
	ChannelID string
	Timestamp string
}

// SlackAdapter is a Socket Mode Slack adapter, grounded on the teacher's
// cmd/channelbridge/main.go slackPostMessage/slackHandleAction functions
// (PostMessageContext to post, UpdateMessageContext to edit), adapted from
// one-shot bridge HTTP handlers into the Channel interface's
// placeholder-then-edit streaming contract.
type SlackAdapter struct {
	api       *slack.Client
	client    *socketmode.Client
	botUserID string
}

// NewSlackAdapter builds a SlackAdapter from a bot token and app token
// (Socket Mode requires both).
func NewSlackAdapter(botToken, appToken string) *SlackAdapter {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	client := socketmode.New(api)
	return &SlackAdapter{api: api, client: client}
}

func (a *SlackAdapter) Name() string { return "slack" }

func (a *SlackAdapter) Start(ctx context.Context, handler func(IncomingMessage)) error {
	auth, err := a.api.AuthTestContext(ctx)
	if err == nil {
		a.botUserID = auth.UserID
	}

	go func() {
		for evt := range a.client.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(evt, handler)
			}
		}
	}()
	return a.client.RunContext(ctx)
}

func (a *SlackAdapter) Stop() error { return nil }

func (a *SlackAdapter) Send(ctx context.Context, sessionID, text string) error {
	channelID, threadID := splitSlackSession(sessionID)
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadID != "" {
		opts = append(opts, slack.MsgOptionTS(threadID))
	}
	_, _, err := a.api.PostMessageContext(ctx, channelID, opts...)
	return err
}

func (a *SlackAdapter) SendPlaceholder(ctx context.Context, sessionID, text string) (Placeholder, error) {
	channelID, threadID := splitSlackSession(sessionID)
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadID != "" {
		opts = append(opts, slack.MsgOptionTS(threadID))
	}
	ch, ts, err := a.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return nil, err
	}
	return SlackPlaceholder{ChannelID: ch, Timestamp: ts}, nil
}

func (a *SlackAdapter) EditMessage(ctx context.Context, ph Placeholder, text string) error {
	p, ok := ph.(SlackPlaceholder)
	if !ok {
		return fmt.Errorf("slack: unexpected placeholder type %T", ph)
	}
	_, _, _, err := a.api.UpdateMessageContext(ctx, p.ChannelID, p.Timestamp, slack.MsgOptionText(text, false))
	return err
}

func (a *SlackAdapter) StartTyping(ctx context.Context, sessionID string) {
	// Slack's Socket Mode has no typing-indicator API; a no-op is an
	// acceptable Channel implementation per the interface contract.
}

func (a *SlackAdapter) CharLimit() int { return slackCharLimit }

func (a *SlackAdapter) handleEventsAPI(evt socketmode.Event, handler func(IncomingMessage)) {
	payload, ok := evt.Data.(map[string]any)
	if !ok {
		return
	}
	a.client.Ack(*evt.Request)

	inner, _ := payload["event"].(map[string]any)
	if inner == nil {
		return
	}
	if t, _ := inner["type"].(string); t != "message" {
		return
	}
	senderID, _ := inner["user"].(string)
	if senderID == "" || senderID == a.botUserID {
		return
	}
	text, _ := inner["text"].(string)
	channelID, _ := inner["channel"].(string)
	threadTS, _ := inner["thread_ts"].(string)

	handler(IncomingMessage{
		SessionID: session.BuildSessionID(session.TransportSlack, channelID, threadTS),
		SenderID:  senderID,
		Content:   text,
		IsGroup:   true,
	})
}

// splitSlackSession recovers the (channel, thread) pair from a
// "slack-<channel>[-<thread>]" session id.
func splitSlackSession(sessionID string) (channel, thread string) {
	rest := strings.TrimPrefix(sessionID, "slack-")
	parts := strings.SplitN(rest, "-", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return rest, ""
}
