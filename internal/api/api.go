// Package api provides HTTP handlers and the main API server logic for the
// step-timer service.
//
// It exposes RESTful endpoints for starting, pausing, resuming and
// completing step timers, reading snapshots and workflow status, and
// triggering the expiry sweep.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tenderdesk/steptimer/internal/engine"
	"github.com/tenderdesk/steptimer/internal/registry"
	"github.com/tenderdesk/steptimer/internal/workflow"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests.
const DefaultShutdownTimeout = 10 * time.Second

// Server wires the timer engine and workflow assembler to HTTP endpoints.
type Server struct {
	engine    *engine.Engine
	assembler *workflow.Assembler
	registry  *registry.Registry
	addr      string
}

// NewServer creates an API server. An empty addr falls back to DefaultAddr.
func NewServer(eng *engine.Engine, asm *workflow.Assembler, reg *registry.Registry, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{engine: eng, assembler: asm, registry: reg, addr: addr}
}

// Handler returns the routed HTTP handler. Exposed separately so tests can
// exercise routes without a listening socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /timers/{entityType}/{entityID}/{stepKey}/start", s.startHandler)
	mux.HandleFunc("POST /timers/{entityType}/{entityID}/{stepKey}/pause", s.pauseHandler)
	mux.HandleFunc("POST /timers/{entityType}/{entityID}/{stepKey}/resume", s.resumeHandler)
	mux.HandleFunc("POST /timers/{entityType}/{entityID}/{stepKey}/complete", s.completeHandler)
	mux.HandleFunc("GET /timers/{entityType}/{entityID}/{stepKey}", s.snapshotHandler)
	mux.HandleFunc("GET /workflows/{entityType}/{entityID}", s.statusHandler)
	mux.HandleFunc("GET /workflows/{entityType}/{entityID}/current", s.currentStepHandler)
	mux.HandleFunc("POST /sweep/{entityType}", s.sweepHandler)
	mux.HandleFunc("GET /health", s.healthHandler)

	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
