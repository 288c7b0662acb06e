// Package health provides the liveness and readiness endpoints.
//
// Docker and Kubernetes use these endpoints to monitor the daemon. /healthz
// returns 200 OK as soon as the server is up; /readyz returns 200 OK only
// once the synthesis pipeline is loaded and 503 before that or after a
// failed load.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Probe reports pipeline readiness. err is the last load failure, if any.
type Probe interface {
	Ready() bool
	LastError() error
}

// Server is a lightweight HTTP server that exposes /healthz and /readyz.
type Server struct {
	port   int
	probe  Probe
	server *http.Server
}

// New creates a new health check server.
func New(port int, probe Probe) *Server {
	return &Server{port: port, probe: probe}
}

// Handler returns the health routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.probe.Ready() {
			body := map[string]string{"status": "not_ready"}
			if err := s.probe.LastError(); err != nil {
				body["error"] = err.Error()
			}
			writeStatus(w, http.StatusServiceUnavailable, body)
			return
		}
		writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// ListenAndServe starts the health check HTTP server.
// It blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("health server listening", "port", s.port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func writeStatus(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
