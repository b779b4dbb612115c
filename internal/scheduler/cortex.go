package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/yologdev/yoclaw/internal/provider"
	"github.com/yologdev/yoclaw/internal/session"
	"github.com/yologdev/yoclaw/internal/store"
)

// runCortex executes the four memory maintenance passes in order: stale
// cleanup, deduplication, consolidation, session indexing. Each pass is
// independent and best-effort; a failure in one doesn't block the rest.
func (s *Scheduler) runCortex(ctx context.Context, now time.Time) {
	pruned, err := s.store.PruneStaleMemory(ctx)
	if err != nil {
		slog.Warn("cortex: prune stale failed", "error", err)
	} else if pruned > 0 {
		slog.Info("cortex: pruned stale memory", "rows", pruned)
	}

	deduped, err := s.store.DeduplicateMemory(ctx)
	if err != nil {
		slog.Warn("cortex: deduplicate failed", "error", err)
	} else if deduped > 0 {
		slog.Info("cortex: deduplicated memory", "rows", deduped)
	}

	s.consolidate(ctx, now)
	s.indexSessions(ctx, now)
}

// consolidate finds sessions with enough new activity since their last
// checkpoint and asks the model to distill durable facts out of the
// transcript, storing each as a "fact" memory row.
func (s *Scheduler) consolidate(ctx context.Context, now time.Time) {
	window := now.Add(-time.Duration(s.cfg.Cortex.IntervalHours) * 2 * time.Hour)
	sessions, err := s.store.SessionsForConsolidation(ctx, window, s.cfg.Cortex.MinMessages)
	if err != nil {
		slog.Warn("cortex: list sessions for consolidation failed", "error", err)
		return
	}

	for _, sessionID := range sessions {
		tape, err := s.store.LoadTape(ctx, sessionID)
		if err != nil {
			slog.Warn("cortex: load tape for consolidation failed", "session", sessionID, "error", err)
			continue
		}
		if len(tape) == 0 {
			continue
		}

		resp, err := s.chat(ctx, consolidationPrompt, renderTranscript(tape))
		if err != nil {
			slog.Warn("cortex: consolidation LLM call failed", "session", sessionID, "error", err)
			continue
		}

		facts := parseFacts(resp.Content)
		for _, fact := range facts {
			_, err := s.store.PutMemoryWithEmbedder(ctx, store.MemoryEntry{
				Content:    fact,
				Category:   store.CategoryFact,
				Importance: 6,
				Source:     "cortex:consolidation:" + sessionID,
			}, s.embedder)
			if err != nil {
				slog.Warn("cortex: store consolidated fact failed", "session", sessionID, "error", err)
			}
		}

		if err := s.store.MarkSessionConsolidated(ctx, sessionID, len(tape)); err != nil {
			slog.Warn("cortex: mark consolidated failed", "session", sessionID, "error", err)
			continue
		}
		slog.Info("cortex: consolidated session", "session", sessionID, "facts", len(facts))
	}
}

// indexSessions produces a short reflection memory per eligible session,
// upserted by key so re-indexing after more activity replaces rather than
// duplicates the prior summary.
func (s *Scheduler) indexSessions(ctx context.Context, now time.Time) {
	window := now.Add(-time.Duration(s.cfg.Cortex.IntervalHours) * 2 * time.Hour)
	sessions, err := s.store.SessionsForIndexing(ctx, window, 2)
	if err != nil {
		slog.Warn("cortex: list sessions for indexing failed", "error", err)
		return
	}

	for _, sessionID := range sessions {
		tape, err := s.store.LoadTape(ctx, sessionID)
		if err != nil {
			slog.Warn("cortex: load tape for indexing failed", "session", sessionID, "error", err)
			continue
		}
		if len(tape) == 0 {
			continue
		}

		resp, err := s.chat(ctx, indexingPrompt, renderTranscript(tape))
		if err != nil {
			slog.Warn("cortex: indexing LLM call failed", "session", sessionID, "error", err)
			continue
		}

		summary := strings.TrimSpace(resp.Content)
		if summary != "" {
			_, err := s.store.PutMemoryWithEmbedder(ctx, store.MemoryEntry{
				Key:        "session-summary:" + sessionID,
				Content:    summary,
				Category:   store.CategoryReflection,
				Importance: 4,
				Source:     "cortex:indexing:" + sessionID,
			}, s.embedder)
			if err != nil {
				slog.Warn("cortex: store session summary failed", "session", sessionID, "error", err)
				continue
			}
		}

		if err := s.store.MarkSessionIndexed(ctx, sessionID, len(tape)); err != nil {
			slog.Warn("cortex: mark indexed failed", "session", sessionID, "error", err)
		}
	}
}

func (s *Scheduler) chat(ctx context.Context, systemPrompt, transcript string) (*provider.ChatResponse, error) {
	return s.conductor.Provider().Chat(ctx, &provider.ChatRequest{
		Model: s.cfg.cortexModel(),
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcript},
		},
		MaxTokens: 1000,
	})
}

func renderTranscript(tape []session.Message) string {
	var sb strings.Builder
	for _, m := range tape {
		sb.WriteString(m.Timestamp.Format("2006-01-02 15:04"))
		sb.WriteString(" ")
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// parseFacts extracts one fact per "- " prefixed line from the model's
// response, skipping blank lines and anything else it produced.
func parseFacts(text string) []string {
	var facts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		fact := strings.TrimSpace(strings.TrimPrefix(line, "- "))
		if fact != "" {
			facts = append(facts, fact)
		}
	}
	return facts
}

const consolidationPrompt = `You distill durable facts out of a conversation transcript.

Output one fact per line, each starting with "- ". A fact is something worth
remembering beyond this conversation: a stated preference, a decision, a
commitment, a concrete detail about the user or their project.

Rules:
1. Skip pleasantries, small talk, and anything already obvious from context.
2. Write each fact as a standalone third-person sentence ("The user prefers...").
3. Merge duplicates; do not repeat the same fact in different words.
4. If nothing in the transcript is worth remembering, output nothing.`

const indexingPrompt = `You summarize a conversation transcript in 1-2 sentences for future
reference. Name the topic and outcome, not a turn-by-turn recap. Output only
the summary, no preamble.`
