package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexcodex/testforge/framework"
)

// SessionStore is the read side of an audit store.
type SessionStore interface {
	Sessions(ctx context.Context) ([]string, error)
	Query(ctx context.Context, query framework.AuditQuery) ([]framework.AuditEvent, error)
}

// APIServer exposes repair history and metrics over HTTP while a loop runs.
type APIServer struct {
	Store    SessionStore
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// SessionResponse describes one session's audit trail.
type SessionResponse struct {
	SessionID string                 `json:"session_id"`
	Events    []framework.AuditEvent `json:"events"`
	Result    *framework.LoopResult  `json:"result,omitempty"`
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := s.newHTTPServer(addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger().Info("status API listening", "addr", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *APIServer) newHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the route table.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	if s.Store != nil {
		mux.HandleFunc("GET /api/sessions", s.handleSessions)
		mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	}
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *APIServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Store.Sessions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []string{}
	}
	writeJSON(w, map[string]interface{}{"sessions": sessions})
}

func (s *APIServer) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.Store.Query(r.Context(), framework.AuditQuery{SessionID: id})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	resp := SessionResponse{SessionID: id, Events: events}
	for _, event := range events {
		if event.Result != nil {
			resp.Result = event.Result
		}
	}
	writeJSON(w, resp)
}

func (s *APIServer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
