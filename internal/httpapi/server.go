// Package httpapi exposes the host's two spec-mandated routes
// (POST /api/chat, GET /api/server-status) plus the ambient /healthz
// and /metrics routes, grounded on the reference host's ServeMux +
// graceful-shutdown idiom.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/moc/internal/loop"
	"github.com/haasonsaas/moc/internal/mcpservice"
	"github.com/haasonsaas/moc/internal/observability"
)

// Server wraps the HTTP surface over one mcpservice.Service and the LLM
// providers the tool invocation loop dials.
type Server struct {
	mcp       *mcpservice.Service
	providers map[string]loop.LLMProvider
	defaults  LoopDefaults
	log       *slog.Logger
	startTime time.Time
	tracer    *observability.Tracer

	httpServer *http.Server
	listener   net.Listener
}

// WithTracer installs tracer to wrap every request in a span before it's
// handled. A nil tracer (the default) leaves requests untraced.
func (s *Server) WithTracer(tracer *observability.Tracer) *Server {
	s.tracer = tracer
	return s
}

// LoopDefaults carries the per-request fallback values sourced from
// internal/config's LoopConfig.
type LoopDefaults struct {
	Provider      string
	Model         string
	MaxIterations int
	MaxTokens     int
	System        string
}

// New constructs a Server. providers maps a provider name (as configured
// in LoopDefaults.Provider) to its adapter;
// at least the default provider must be present.
func New(mcp *mcpservice.Service, providers map[string]loop.LLMProvider, defaults LoopDefaults, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{mcp: mcp, providers: providers, defaults: defaults, log: logger, startTime: time.Now()}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/server-status", s.handleServerStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.tracer != nil {
		return s.tracer.Middleware(mux)
	}
	return mux
}

// ListenAndServe binds addr and serves until the returned server is shut
// down. It returns once the listener is established (or fails to bind),
// mirroring the reference host's startHTTPServer/stopHTTPServer split: an
// immediate bind failure is distinguished from a background serve error.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()
	s.log.Info("http server listening", "addr", addr)
	return nil
}

// Shutdown gracefully stops the HTTP server, then the MCP Service's
// subprocess connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}
	s.mcp.Shutdown(ctx)
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	statuses := s.mcp.Status()
	running := 0
	for _, st := range statuses {
		if st.IsRunning {
			running++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"uptimeSeconds": int(time.Since(s.startTime).Seconds()),
		"serversTotal":  len(statuses),
		"serversUp":     running,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
