package adminapi

import (
	"net/http"
	"strconv"
)

// handleStatus is an unauthenticated health check, matching the teacher's
// own /api/v1/status shape.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
	})
}

// handleSessions lists the most recently active sessions. Accepts an
// optional ?limit= query param.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	sessions, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"sessions": sessions})
}

// handleQueue reports the count of queued messages in each lifecycle state.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.QueueCounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"counts": counts})
}

// handleBudget reports today's token usage against the configured ceiling.
func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"daily_tokens_used":  s.budget.DailyTokensUsed(),
		"daily_tokens_limit": s.budget.DailyTokenLimit(),
	})
}

// handleAudit returns the most recent audit events, optionally filtered to
// one session via ?session=.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	limit := queryInt(r, "limit", 50)
	events, err := s.store.RecentAudit(r.Context(), sessionID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"events": events})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
