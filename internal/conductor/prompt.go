package conductor

import (
	"context"
	"fmt"
	"time"

	"github.com/yologdev/yoclaw/internal/agent"
	"github.com/yologdev/yoclaw/internal/provider"
	"github.com/yologdev/yoclaw/internal/session"
)

// persistentPromptMaxIterations is the hard cap on turns for a persistent
// prompt (spec.md §4.7), distinct from the main agent loop's configured
// MaxIterations: scheduler and worker dispatch must not be able to run an
// unbounded number of turns against a session's tape.
const persistentPromptMaxIterations = 5

// Provider exposes the underlying LLM provider for callers outside this
// package that need a raw completion without going through the agent loop
// (the scheduler's cortex maintenance passes, which have no tools to call).
func (c *Conductor) Provider() provider.LLMProvider {
	return c.provider
}

// newSubLoop builds a fresh agent.Loop for ephemeral/persistent prompt
// execution. model falls back to the Conductor's configured default when
// empty, matching how a saved worker with no model override behaves.
func (c *Conductor) newSubLoop(model string, maxIterations int) *agent.Loop {
	if model == "" {
		model = c.cfg.Model
	}
	return agent.New(c.registry, c.provider, model, maxIterations, c.budget)
}

// RunEphemeral runs a freshly constructed agent loop once with no carry-over
// tape and discards it afterwards (spec.md GLOSSARY: "Ephemeral agent").
// Used by direct-worker delegation and by cron jobs configured with
// session_mode "isolated" (or any mode other than "persisted").
func (c *Conductor) RunEphemeral(ctx context.Context, systemPrompt, userInput, model string) (string, error) {
	loop := c.newSubLoop(model, c.cfg.MaxIterations)

	var messages []provider.Message
	if systemPrompt != "" {
		messages = append(messages, provider.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, provider.Message{Role: "user", Content: userInput})

	finalText, _, err := loop.Run(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("conductor: ephemeral prompt: %w", err)
	}
	return finalText, nil
}

// RunPersistent loads the tape of sessionID, appends userInput as a user
// turn, runs the agent loop up to persistentPromptMaxIterations, and saves
// the updated tape back. Used by cron jobs configured with session_mode
// "persisted" and by anything else that wants a bounded turn against a
// durable conversation without taking over the Conductor's live session.
//
// This deliberately does not touch c.currentSessionID/c.currentMessages:
// those track the session actively being served through ProcessQueued, and
// a persistent prompt against a different session id must not clobber it.
func (c *Conductor) RunPersistent(ctx context.Context, sessionID, userInput, model string) (string, error) {
	tape, err := c.store.LoadTape(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("conductor: persistent prompt: load tape %q: %w", sessionID, err)
	}

	now := time.Now().UTC()
	tape = append(tape, userMessage(userInput, now))

	loop := c.newSubLoop(model, persistentPromptMaxIterations)
	finalText, updated, err := loop.Run(ctx, tapeToWire(tape))
	if err != nil {
		return "", fmt.Errorf("conductor: persistent prompt: %w", err)
	}

	tape = wireToTape(updated, time.Now().UTC())
	if err := c.store.SaveTape(ctx, sessionID, tape); err != nil {
		return "", fmt.Errorf("conductor: persistent prompt: save tape %q: %w", sessionID, err)
	}
	return finalText, nil
}

// dispatchDirectWorker implements spec.md §4.5's direct worker delegation:
// bypass the main agent entirely, run the named worker as a fresh ephemeral
// sub-agent against the raw message content, persist the exchange as a
// user/assistant pair on the target session's tape, and reply through the
// adapter. Direct workers never go through the policy-wrapped tool registry
// under the worker's own name, since that would mis-attribute audit events
// to a tool call that never happened.
func (c *Conductor) dispatchDirectWorker(ctx context.Context, workerName string, msg incomingQueued) error {
	worker, err := c.store.GetWorker(ctx, workerName)
	if err != nil {
		return fmt.Errorf("dispatch worker %q: lookup: %w", workerName, err)
	}
	if worker == nil {
		return fmt.Errorf("dispatch worker %q: not found", workerName)
	}

	reply, err := c.RunEphemeral(ctx, worker.SystemPrompt, msg.Content, worker.Model)
	if err != nil {
		return fmt.Errorf("dispatch worker %q: %w", workerName, err)
	}

	now := time.Now().UTC()
	tape, err := c.store.LoadTape(ctx, msg.SessionID)
	if err != nil {
		return fmt.Errorf("dispatch worker %q: load tape: %w", workerName, err)
	}
	tape = append(tape, userMessage(msg.Content, now))
	tape = append(tape, session.Message{Role: session.RoleAssistant, Content: reply, Timestamp: time.Now().UTC()})
	if err := c.store.SaveTape(ctx, msg.SessionID, tape); err != nil {
		return fmt.Errorf("dispatch worker %q: save tape: %w", workerName, err)
	}

	adapterName := string(session.TransportOf(msg.SessionID))
	if adapter, found := c.adapters.Get(adapterName); found {
		if err := adapter.Send(ctx, msg.SessionID, reply); err != nil {
			return fmt.Errorf("dispatch worker %q: send reply: %w", workerName, err)
		}
	}
	return nil
}

// incomingQueued is the minimal shape dispatchDirectWorker needs from a
// claimed queue row; ProcessQueued builds it from the row's SessionID and
// Content fields.
type incomingQueued struct {
	SessionID string
	Content   string
}
