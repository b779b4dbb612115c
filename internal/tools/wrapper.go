package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/yologdev/yoclaw/internal/policy"
	"github.com/yologdev/yoclaw/internal/store"
)

// Auditor is the subset of the persistence store the Wrapper needs,
// narrowed to one method so tests can stub it without a real database.
type Auditor interface {
	AppendAudit(ctx context.Context, e store.AuditEvent) (string, error)
}

// Wrapper decorates a Tool with policy enforcement and audit logging, per
// the contract every tool call must pass through: policy check, audit the
// call, execute, audit the result.
type Wrapper struct {
	inner     Tool
	policy    *policy.Policy
	audit     Auditor
	sessionID string
}

// Wrap returns a Tool that enforces policy and writes audit events around
// a call to inner. sessionID identifies the conversation the call
// belongs to, for audit correlation.
func Wrap(inner Tool, p *policy.Policy, audit Auditor, sessionID string) *Wrapper {
	return &Wrapper{inner: inner, policy: p, audit: audit, sessionID: sessionID}
}

// SetSessionID updates which session this wrapper attributes audit events
// to. Called by Registry.SetSessionID, never directly.
func (w *Wrapper) SetSessionID(sessionID string) {
	w.sessionID = sessionID
}

func (w *Wrapper) Name() string               { return w.inner.Name() }
func (w *Wrapper) Description() string        { return w.inner.Description() }
func (w *Wrapper) Parameters() map[string]any { return w.inner.Parameters() }

// Execute evaluates policy, audits the decision, and only calls through to
// the wrapped tool when allowed. A policy denial is returned as a
// tool-visible error string rather than a Go error, matching the agent
// loop's convention of feeding denial reasons back to the model as tool
// output instead of aborting the turn.
func (w *Wrapper) Execute(ctx context.Context, params map[string]any) (string, error) {
	decision := w.policy.Evaluate(policy.Context{
		SessionID: w.sessionID,
		ToolName:  w.inner.Name(),
		Arguments: params,
	})

	if !decision.Allow {
		w.auditEvent(ctx, store.AuditToolDenied, fmt.Sprintf("tool=%s reason=%s", w.inner.Name(), decision.Reason), 0)
		return fmt.Sprintf("Policy denied: %s", decision.Reason), nil
	}

	w.auditEvent(ctx, store.AuditToolCall, fmt.Sprintf("tool=%s args=%s", w.inner.Name(), redactArgs(params)), 0)

	start := time.Now()
	result, err := w.inner.Execute(ctx, params)
	duration := time.Since(start)

	detail := fmt.Sprintf("tool=%s duration_ms=%d result_len=%d", w.inner.Name(), duration.Milliseconds(), len(result))
	if err != nil {
		detail += fmt.Sprintf(" error=%v", err)
	}
	w.auditEvent(ctx, store.AuditToolResult, detail, 0)

	return result, err
}

// maxAuditArgsLen caps how much of a tool call's arguments is written to
// the audit log, per spec.md §4.2 step 5: the log gets a truncated
// redaction of inputs, not a verbatim copy that could carry a full file
// body or an API key through in the clear.
const maxAuditArgsLen = 200

func redactArgs(args map[string]any) string {
	s := fmt.Sprintf("%v", args)
	if len(s) > maxAuditArgsLen {
		return s[:maxAuditArgsLen] + "...(truncated)"
	}
	return s
}

func (w *Wrapper) auditEvent(ctx context.Context, eventType store.AuditEventType, detail string, tokens int64) {
	if w.audit == nil {
		return
	}
	_, _ = w.audit.AppendAudit(ctx, store.AuditEvent{
		SessionID:  w.sessionID,
		EventType:  eventType,
		ToolName:   w.inner.Name(),
		Detail:     detail,
		TokensUsed: tokens,
	})
}
