// Package channels implements the thin transport adapters the Conductor
// drives: Telegram, Discord, and Slack. Each adapter turns platform
// events into session ids and supports placeholder-then-edit delivery
// for streamed responses.
package channels

import "context"

// IncomingMessage is what an adapter delivers into the coalescer.
type IncomingMessage struct {
	SessionID  string
	SenderID   string
	SenderName string
	Content    string
	ReplyTo    string
	IsGroup    bool
}

// Placeholder is the handle an adapter returns from SendPlaceholder,
// opaque to the Conductor, passed back into EditMessage.
type Placeholder any

// Channel is the interface every transport adapter implements, grounded
// on the teacher's own Channel interface (Name/Start/Stop/Send) and
// extended with the placeholder/edit/typing operations this spec's
// streaming delivery needs.
type Channel interface {
	// Name identifies the adapter (its session id prefix minus the dash,
	// e.g. "tg", "dc", "slack").
	Name() string
	// Start begins listening for inbound messages, delivering them to
	// the given handler until ctx is cancelled.
	Start(ctx context.Context, handler func(IncomingMessage)) error
	// Stop shuts the adapter down.
	Stop() error
	// Send delivers a one-shot message with no further edits expected.
	Send(ctx context.Context, sessionID, text string) error
	// SendPlaceholder posts an initial message to be edited as the
	// response streams in.
	SendPlaceholder(ctx context.Context, sessionID, text string) (Placeholder, error)
	// EditMessage replaces a placeholder's content.
	EditMessage(ctx context.Context, ph Placeholder, text string) error
	// StartTyping signals that a response is being composed, where the
	// platform supports it; a no-op is an acceptable implementation.
	StartTyping(ctx context.Context, sessionID string)
	// CharLimit returns the platform's single-message character limit,
	// used to split or truncate the final edit.
	CharLimit() int
}

// Registry maps adapter name (the session id prefix) to its Channel.
type Registry struct {
	byName map[string]Channel
}

// NewRegistry builds an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Channel)}
}

// Register adds an adapter under its own Name().
func (r *Registry) Register(ch Channel) {
	r.byName[ch.Name()] = ch
}

// Get looks up an adapter by name.
func (r *Registry) Get(name string) (Channel, bool) {
	ch, ok := r.byName[name]
	return ch, ok
}
