// Package conductor implements the central serializer: it owns the one
// mutable agent turn loop, swaps per-session conversation state in and
// out of it, coordinates with the crash-safe inbound queue, enforces
// security and budget on every tool invocation, and streams partial
// responses back through the debouncing coalescer.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yologdev/yoclaw/internal/agent"
	"github.com/yologdev/yoclaw/internal/budget"
	"github.com/yologdev/yoclaw/internal/channels"
	"github.com/yologdev/yoclaw/internal/coalescer"
	"github.com/yologdev/yoclaw/internal/injection"
	"github.com/yologdev/yoclaw/internal/policy"
	"github.com/yologdev/yoclaw/internal/provider"
	"github.com/yologdev/yoclaw/internal/session"
	"github.com/yologdev/yoclaw/internal/store"
	"github.com/yologdev/yoclaw/internal/tools"
)

// maxGroupCatchupMessages caps the synthetic catch-up prefix injected
// ahead of the first assistant turn in a group session (spec.md §4.5).
const maxGroupCatchupMessages = 20

// Config holds the operational knobs the Conductor's ingress loop reads.
// New copies it once; the Conductor has no method for changing these
// values afterwards (only the coalesce window, via SetCoalesceWindow).
type Config struct {
	StreamDebounceMs  int
	Model             string
	MaxIterations     int
	CannedRejectReply string
	CannedErrorReply  string
	CannedBudgetReply string
}

func (c Config) streamDebounce() time.Duration {
	ms := c.StreamDebounceMs
	if ms <= 0 {
		ms = 300
	}
	return time.Duration(ms) * time.Millisecond
}

func (c Config) rejectReply() string {
	if c.CannedRejectReply != "" {
		return c.CannedRejectReply
	}
	return "Sorry, I can't process that message."
}

func (c Config) errorReply() string {
	if c.CannedErrorReply != "" {
		return c.CannedErrorReply
	}
	return "Something went wrong processing your message. Please try again."
}

func (c Config) budgetReply() string {
	if c.CannedBudgetReply != "" {
		return c.CannedBudgetReply
	}
	return "You've hit your usage limit for now. Please try again later."
}

// Conductor is the single writer of the agent's in-memory conversation
// state. Its main loop claims queued messages one at a time; all work
// within ProcessQueued happens under the same logical serialization even
// though individual persistence calls are async, because nothing else
// calls into the agent loop concurrently.
type Conductor struct {
	store     *store.Store
	policy    *policy.Policy
	budget    *budget.Tracker
	detector  *injection.Detector
	coalescer *coalescer.Coalescer
	registry  *tools.Registry
	provider  provider.LLMProvider
	loop      *agent.Loop
	adapters  *channels.Registry
	cfg       Config

	// workerRoutes maps a transport prefix ("tg", "dc", "slack") to the
	// name of a saved worker that owns it exclusively (spec.md §4.5's
	// direct worker delegation). Structural config, set once at startup.
	workerRoutes map[string]string

	currentSessionID   string
	currentMessages    []session.Message
	groupCatchupPrefix string

	events chan ProcessedEvent
}

// New builds a Conductor, including its own coalescer wired to enqueue
// fired buffers directly. registry must already contain the
// policy-wrapped tool set (internal/tools.Wrap applied per tool); the
// Conductor itself never constructs tool wrappers.
func New(st *store.Store, pol *policy.Policy, bt *budget.Tracker, det *injection.Detector, coalesceWindowMs int64, registry *tools.Registry, prov provider.LLMProvider, adapters *channels.Registry, workerRoutes map[string]string, cfg Config) *Conductor {
	c := &Conductor{
		store:        st,
		policy:       pol,
		budget:       bt,
		detector:     det,
		registry:     registry,
		provider:     prov,
		loop:         agent.New(registry, prov, cfg.Model, cfg.MaxIterations, bt),
		adapters:     adapters,
		workerRoutes: workerRoutes,
		cfg:          cfg,
		events:       make(chan ProcessedEvent, 16),
	}
	c.coalescer = coalescer.New(coalesceWindowMs, func(sessionID, text string) {
		c.Enqueue(context.Background(), sessionID, text)
	})
	return c
}

// SetCoalesceWindow hot-reloads the debounce window (spec.md §6: channel
// debounce is operational config, swappable without a restart).
func (c *Conductor) SetCoalesceWindow(ms int64) {
	c.coalescer.SetWindow(ms)
}

// OnIncoming is wired to every transport adapter's Start handler; it
// feeds arrivals into the coalescer rather than enqueuing directly, so a
// burst of fragmented messages on one session becomes one prompt.
func (c *Conductor) OnIncoming(msg channels.IncomingMessage) {
	c.coalescer.Add(msg.SessionID, msg.Content)
}

// Run performs startup crash recovery (requeuing any row left in
// "processing") and then drives the claim/process loop until ctx is
// cancelled.
func (c *Conductor) Run(ctx context.Context) error {
	n, err := c.store.RequeueStale(ctx)
	if err != nil {
		return fmt.Errorf("conductor: requeue stale on startup: %w", err)
	}
	if n > 0 {
		slog.Info("requeued stale messages on startup", "count", n)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				msg, err := c.store.ClaimNext(ctx)
				if err != nil {
					slog.Error("claim_next failed", "error", err)
					break
				}
				if msg == nil {
					break
				}
				c.ProcessQueued(ctx, msg)
			}
		}
	}
}

// Enqueue is the coalescer's emit target: the Conductor's ingress path
// step 2, "enqueue with status pending" (spec.md §4.5).
func (c *Conductor) Enqueue(ctx context.Context, sessionID, content string) {
	channel, senderID := session.TransportOf(sessionID), ""
	_, err := c.store.Enqueue(ctx, store.QueuedMessage{
		Channel:   string(channel),
		SenderID:  senderID,
		SessionID: sessionID,
		Content:   content,
	})
	if err != nil {
		slog.Error("enqueue failed", "session_id", sessionID, "error", err)
	}
}

// ProcessQueued runs the full ingress pipeline for one claimed queue row:
// pre-checks, session switching, agent invocation with streamed placeholder
// edits, and tape persistence.
func (c *Conductor) ProcessQueued(ctx context.Context, msg *store.QueuedMessage) {
	reject, eventType, reason, warning := c.precheck(ctx, msg)
	if reject {
		reply := c.cfg.rejectReply()
		if eventType == store.AuditBudgetExceeded {
			reply = c.cfg.budgetReply()
		}
		c.replyAndComplete(ctx, msg, reply, true)
		_, _ = c.store.AppendAudit(ctx, store.AuditEvent{
			SessionID: msg.SessionID,
			EventType: eventType,
			Detail:    reason,
		})
		c.publish(msg.SessionID, msg.ID, true, "rejected: "+reason)
		return
	}

	if worker, routed := c.workerRoutes[string(session.TransportOf(msg.SessionID))]; routed {
		if err := c.dispatchDirectWorker(ctx, worker, incomingQueued{SessionID: msg.SessionID, Content: msg.Content}); err != nil {
			c.fail(ctx, msg, err)
			return
		}
		_ = c.store.Complete(ctx, msg.ID, true, "")
		c.publish(msg.SessionID, msg.ID, true, "")
		return
	}

	if err := c.switchSession(ctx, msg.SessionID); err != nil {
		// Persistence failure during tape save is fatal for the session
		// (spec.md §4.5): drop the in-memory session id so the next
		// message reloads from the last known good tape.
		c.currentSessionID = ""
		c.fail(ctx, msg, fmt.Errorf("session switch failed: %w", err))
		return
	}

	if session.IsGroup(msg.SessionID) {
		c.groupCatchupPrefix = c.popCatchupPrefix()
	}

	adapterName := string(session.TransportOf(msg.SessionID))
	adapter, hasAdapter := c.adapters.Get(adapterName)

	var ph channels.Placeholder
	if hasAdapter {
		var err error
		ph, err = adapter.SendPlaceholder(ctx, msg.SessionID, "…")
		if err != nil {
			slog.Warn("send placeholder failed", "session_id", msg.SessionID, "error", err)
		}
	}

	prefix := c.groupCatchupPrefix
	c.groupCatchupPrefix = ""
	content := msg.Content
	if warning != "" {
		content = warning + "\n\n" + content
	}
	if prefix != "" {
		content = prefix + "\n\n" + content
	}

	now := time.Now().UTC()
	c.currentMessages = append(c.currentMessages, userMessage(content, now))

	finalText, updated, err := c.runStreamed(ctx, adapter, ph)
	if err != nil {
		c.groupCatchupPrefix = ""
		if budget.IsLimitExceeded(err) {
			c.budgetFail(ctx, msg, hasAdapter, adapter, ph, err)
			return
		}
		c.fail(ctx, msg, err)
		return
	}

	c.currentMessages = wireToTape(updated, time.Now().UTC())

	if hasAdapter && ph != nil {
		c.finalizeEdit(ctx, adapter, msg.SessionID, ph, finalText)
	}

	if err := c.store.SaveTape(ctx, msg.SessionID, c.currentMessages); err != nil {
		c.currentSessionID = ""
		slog.Error("tape save failed", "session_id", msg.SessionID, "error", err)
	}

	_ = c.store.Complete(ctx, msg.ID, true, "")
	c.publish(msg.SessionID, msg.ID, true, "")
}

// runStreamed invokes the agent loop, forwarding TextDelta events to the
// placeholder via a debounced edit and resetting the accumulation
// buffer on every TurnStart (spec.md §4.5 step 7).
func (c *Conductor) runStreamed(ctx context.Context, adapter channels.Channel, ph channels.Placeholder) (string, []provider.Message, error) {
	events := make(chan agent.Event, 32)
	go func() {
		defer close(events)
		c.loop.Stream(ctx, tapeToWire(c.currentMessages), events)
	}()

	var buf string
	var lastEdit time.Time
	debounce := c.cfg.streamDebounce()
	limit := 0
	if adapter != nil {
		limit = adapter.CharLimit()
	}

	for ev := range events {
		switch ev.Kind {
		case agent.EventTurnStart:
			buf = ""
		case agent.EventTextDelta:
			buf += ev.Text
			if adapter != nil && ph != nil && time.Since(lastEdit) >= debounce {
				_ = adapter.EditMessage(ctx, ph, channels.TruncateAtLimit(buf, limit))
				lastEdit = time.Now()
			}
		case agent.EventToolCall:
			// nothing to stream; the placeholder keeps showing the last
			// accumulated text until the next turn starts.
		case agent.EventDone:
			return ev.FinalText, ev.Messages, ev.Err
		}
	}
	return buf, nil, errors.New("conductor: agent loop closed its event stream without a Done event")
}

func (c *Conductor) finalizeEdit(ctx context.Context, adapter channels.Channel, sessionID string, ph channels.Placeholder, finalText string) {
	limit := adapter.CharLimit()
	chunks := channels.SplitAtLimit(finalText, limit)
	if len(chunks) == 0 {
		_ = adapter.EditMessage(ctx, ph, "")
		return
	}
	_ = adapter.EditMessage(ctx, ph, chunks[0])
	for _, extra := range chunks[1:] {
		_ = adapter.Send(ctx, sessionID, extra)
	}
}

// popCatchupPrefix builds a synthetic summary of the trailing unanswered
// user turns at the tail of the freshly-loaded tape (spec.md §4.5: group
// sessions often accumulate several messages between bot replies) and
// removes those turns from currentMessages so the combined content isn't
// duplicated once the new user turn is appended. A tape that already ends
// in a non-user message (the bot replied last) yields an empty prefix.
func (c *Conductor) popCatchupPrefix() string {
	n := len(c.currentMessages)
	start := n
	for start > 0 && c.currentMessages[start-1].Role == session.RoleUser && n-start < maxGroupCatchupMessages {
		start--
	}
	if start == n {
		return ""
	}

	trailing := c.currentMessages[start:n]
	lines := make([]string, 0, len(trailing))
	for _, m := range trailing {
		lines = append(lines, m.Content)
	}
	c.currentMessages = c.currentMessages[:start]
	return strings.Join(lines, "\n")
}

// switchSession saves the currently-loaded session's tape (if different
// from target) and loads target's tape into memory, per spec.md §4.5
// step 5.
func (c *Conductor) switchSession(ctx context.Context, target string) error {
	if c.currentSessionID == target {
		return nil
	}
	if c.currentSessionID != "" {
		if err := c.store.SaveTape(ctx, c.currentSessionID, c.currentMessages); err != nil {
			return fmt.Errorf("save outgoing session %q: %w", c.currentSessionID, err)
		}
	}
	messages, err := c.store.LoadTape(ctx, target)
	if err != nil {
		return fmt.Errorf("load incoming session %q: %w", target, err)
	}
	c.currentSessionID = target
	c.currentMessages = messages
	c.registry.SetSessionID(target)
	return nil
}

// precheck runs injection L1+L2 and the budget turn check. L3 is left to
// the caller to consult asynchronously when FullAnalysis flags a
// borderline score; for the synchronous ingress path a borderline score
// is treated as a warning, not a rejection (spec.md §4.4). warning is
// only ever populated alongside reject == false, for the caller to fold
// into the outgoing message's content.
func (c *Conductor) precheck(ctx context.Context, msg *store.QueuedMessage) (reject bool, eventType store.AuditEventType, reason string, warning string) {
	result, _ := c.detector.Evaluate(msg.Content)
	if !result.Pass {
		return true, store.AuditInputRejected, result.Reason, ""
	}

	if err := c.budget.CheckTurn(msg.SessionID); err != nil {
		return true, store.AuditBudgetExceeded, err.Error(), ""
	}

	return false, "", "", result.Warning
}

func (c *Conductor) replyAndComplete(ctx context.Context, msg *store.QueuedMessage, text string, ok bool) {
	adapterName := string(session.TransportOf(msg.SessionID))
	if adapter, found := c.adapters.Get(adapterName); found {
		if err := adapter.Send(ctx, msg.SessionID, text); err != nil {
			slog.Warn("send rejection reply failed", "session_id", msg.SessionID, "error", err)
		}
	}
	_ = c.store.Complete(ctx, msg.ID, ok, "")
}

// budgetFail finishes a turn that was cut short by the daily token
// ceiling mid-loop (spec.md §8 scenario 4): unlike fail, it completes the
// queue row successfully (the user did get a reply, just a canned one)
// and audits the rejection as a budget event rather than a generic
// failure.
func (c *Conductor) budgetFail(ctx context.Context, msg *store.QueuedMessage, hasAdapter bool, adapter channels.Channel, ph channels.Placeholder, err error) {
	slog.Warn("turn stopped by budget ceiling", "session_id", msg.SessionID, "error", err)
	reply := c.cfg.budgetReply()
	if hasAdapter {
		if ph != nil {
			_ = adapter.EditMessage(ctx, ph, reply)
		} else {
			_ = adapter.Send(ctx, msg.SessionID, reply)
		}
	}
	_, _ = c.store.AppendAudit(ctx, store.AuditEvent{
		SessionID: msg.SessionID,
		EventType: store.AuditBudgetExceeded,
		Detail:    err.Error(),
	})
	_ = c.store.Complete(ctx, msg.ID, true, "")
	c.publish(msg.SessionID, msg.ID, true, "budget exceeded")
}

func (c *Conductor) fail(ctx context.Context, msg *store.QueuedMessage, err error) {
	slog.Error("agent turn failed", "session_id", msg.SessionID, "error", err)
	adapterName := string(session.TransportOf(msg.SessionID))
	if adapter, found := c.adapters.Get(adapterName); found {
		_ = adapter.Send(ctx, msg.SessionID, c.cfg.errorReply())
	}
	_ = c.store.Complete(ctx, msg.ID, false, err.Error())
	c.publish(msg.SessionID, msg.ID, false, err.Error())
}
