// Package adminapi implements the read-only admin surface: a small
// net/http server over sessions/queue/budget/audit plus a server-sent-events
// stream of message-processed events, per spec.md §6. It sits outside the
// Conductor's critical path entirely — every handler reads from the store or
// from an already-published event, never blocking a live agent turn.
package adminapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/yologdev/yoclaw/internal/budget"
	"github.com/yologdev/yoclaw/internal/conductor"
	"github.com/yologdev/yoclaw/internal/store"
)

// Server wraps the dependencies the admin endpoints read from. None of them
// are owned by Server; it outlives nothing and shuts down independently of
// the Conductor's own lifecycle.
type Server struct {
	store     *store.Store
	budget    *budget.Tracker
	conductor *conductor.Conductor

	httpServer *http.Server
}

// Config configures the admin HTTP listener.
type Config struct {
	Bind string
	Port int
}

// New builds the admin mux and wraps it in an *http.Server, matching the
// teacher's gateway construction: a plain ServeMux, CORS wide open since
// this surface carries no write endpoints and no secrets beyond what the
// audit log already has.
func New(cfg Config, st *store.Store, tracker *budget.Tracker, cond *conductor.Conductor) *Server {
	s := &Server{store: st, budget: tracker, conductor: cond}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/queue", s.handleQueue)
	mux.HandleFunc("/api/v1/budget", s.handleBudget)
	mux.HandleFunc("/api/v1/audit", s.handleAudit)
	mux.HandleFunc("/api/v1/events", s.handleEvents)

	addr := cfg.Bind
	if addr == "" {
		addr = "127.0.0.1"
	}
	s.httpServer = &http.Server{
		Addr:              addrWithPort(addr, cfg.Port),
		Handler:           withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run starts the listener and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin api listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func addrWithPort(bind string, port int) string {
	if port <= 0 {
		port = 8787
	}
	return bind + ":" + strconv.Itoa(port)
}
