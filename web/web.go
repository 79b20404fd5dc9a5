// Package web serves the local read-only status API: current per-target
// availability, backoff counters, and recent transition history. It is
// meant to be bound to localhost and carries no authentication.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/restockd/restockd/engine"
	"github.com/restockd/restockd/history"
)

// StatusSource provides the live engine state.
type StatusSource interface {
	Snapshot() engine.Snapshot
}

// HistorySource provides recent transition entries, newest first.
type HistorySource interface {
	Recent(ctx context.Context, n int) ([]history.Entry, error)
}

// Server is the status HTTP server.
type Server struct {
	addr   string
	logger *slog.Logger
	srv    *http.Server
}

// New builds the router and server. hist may be nil when history is
// disabled; the endpoint then returns an empty list.
func New(addr string, status StatusSource, hist HistorySource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, status.Snapshot())
	})

	r.Get("/v1/history", func(w http.ResponseWriter, req *http.Request) {
		entries := []history.Entry{}
		if hist != nil {
			n := queryInt(req, "n", 20)
			got, err := hist.Recent(req.Context(), n)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if got != nil {
				entries = got
			}
		}
		writeJSON(w, http.StatusOK, entries)
	})

	return &Server{
		addr:   addr,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web: status server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return def
	}
	return n
}
