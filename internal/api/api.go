// Package api implements the HTTP API server for perfrev.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aezell/perfrev/internal/agent"
	"github.com/aezell/perfrev/internal/analysis"
	"github.com/aezell/perfrev/internal/tools"
)

// ModelFactory opens the model used by a websocket review session.
type ModelFactory func(ctx context.Context) (agent.Model, error)

// Options wires the server to the review components.
type Options struct {
	Engine *analysis.Engine
	// Tools backs websocket reviews. Nil disables them.
	Tools  agent.Dispatcher
	Model  ModelFactory
	System string
	Agent  agent.Options
	Logger *slog.Logger
}

// Server is the perfrev HTTP API server.
type Server struct {
	addr   string
	mux    *http.ServeMux
	server *http.Server
	opts   Options
	log    *slog.Logger
}

// New creates a new API server.
func New(addr string, opts Options) (*Server, error) {
	if opts.Engine == nil {
		engine, err := analysis.New(analysis.Options{})
		if err != nil {
			return nil, err
		}
		opts.Engine = engine
	}
	if opts.Tools == nil {
		opts.Tools = tools.NewDefaultRegistry(tools.Deps{Engine: opts.Engine})
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	s := &Server{addr: addr, opts: opts, log: log}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("POST /api/complexity", s.handleComplexity)
	s.mux.HandleFunc("POST /api/parse", s.handleParse)
	s.mux.HandleFunc("POST /api/commit-message", s.handleCommitMessage)
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.log.Info("perfrev API server listening", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Error("json encode", "err", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes a JSON request body into v.
func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
