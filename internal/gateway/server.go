// Package gateway exposes the conductor over HTTP: session CRUD, the SSE turn
// stream, and the research scenario endpoint.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/graph"
	"github.com/haasonsaas/conductor/internal/graph/research"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/sessions"
)

// ResearchFactory builds a research runner bound to a per-request observer so
// graph lifecycle events can stream to the caller.
type ResearchFactory func(graph.Observer) *research.Runner

// Server hosts the HTTP API over the turn loop and the research runner.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	loop     *agent.TurnLoop
	director *agent.Director
	store    sessions.Store
	records  sessions.RecordStore
	research ResearchFactory
	metrics  *observability.Metrics
	tape     agent.EventSink

	httpServer *http.Server
	listener   net.Listener
}

// ServerOptions carries the collaborators the server routes to.
type ServerOptions struct {
	Config   *config.Config
	Logger   *slog.Logger
	Loop     *agent.TurnLoop
	Director *agent.Director
	Store    sessions.Store
	Records  sessions.RecordStore
	Research ResearchFactory
	Metrics  *observability.Metrics

	// Tape, when set, receives a copy of every turn stream event, e.g. an
	// agent.TapeSink recording to a JSONL file.
	Tape agent.EventSink
}

// NewServer creates the gateway server.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   opts.Config,
		logger:   logger,
		loop:     opts.Loop,
		director: opts.Director,
		store:    opts.Store,
		records:  opts.Records,
		research: opts.Research,
		metrics:  opts.Metrics,
		tape:     opts.Tape,
	}
}

// Start begins serving. It returns once the listener is bound; serving
// continues on a background goroutine until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.HTTPPort)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /v1/sessions/{id}/messages", s.handleListMessages)
	mux.HandleFunc("GET /v1/sessions/{id}/tool-calls", s.handleListToolCalls)

	mux.HandleFunc("POST /v1/sessions/{id}/stream", s.handleTurnStream)
	mux.HandleFunc("POST /v1/scenarios/research", s.handleResearchStream)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", addr)
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil
	s.listener = nil
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
