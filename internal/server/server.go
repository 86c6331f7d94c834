// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/jeranaias/answer-server/internal/answer"
	"github.com/jeranaias/answer-server/internal/config"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// AnswerPrefix is the mount point of the answer router.
	AnswerPrefix = "/answer"

	// Version is the server version.
	Version = "1.0.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP listener with its middleware pipeline and routing table.
type Server struct {
	cfg     *config.Config
	logger  *log.Logger
	cors    *CORSPolicy
	router  chi.Router
	handler http.Handler
	server  *http.Server

	mu sync.Mutex
}

// NewServer creates a Server from cfg. A nil cfg uses config.Default().
func NewServer(cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: log.Default(),
		cors:   NewCORSPolicy(cfg.CORS),
		router: chi.NewRouter(),
	}

	s.setupRoutes()
	s.buildHandler()
	return s
}

// WithLogger sets the logger used for startup, request and panic lines.
func (s *Server) WithLogger(logger *log.Logger) *Server {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()

	s.buildHandler()
	return s
}

// Config returns the configuration the server was built with.
func (s *Server) Config() *config.Config {
	return s.cfg
}

// Handler returns the full pipeline: stages followed by route dispatch.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures the routing table.
func (s *Server) setupRoutes() {
	// Must be set before Mount so the sub-router inherits them.
	s.router.NotFound(s.handleNotFound)
	s.router.MethodNotAllowed(s.handleMethodNotAllowed)

	s.router.Mount(AnswerPrefix, answer.NewRouter())
}

// handleNotFound answers requests that match no route.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.fail(w, r, http.StatusNotFound, "not_found", fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
}

// handleMethodNotAllowed answers a known path requested with the wrong method.
func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.fail(w, r, http.StatusMethodNotAllowed, "method_not_allowed", fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
}

// ============================================================================
// PIPELINE
// ============================================================================

// Stage is one named step of the request pipeline.
type Stage struct {
	Name       string
	Middleware func(http.Handler) http.Handler
}

// Pipeline returns the ordered stages every request passes through before
// route dispatch. The body stage always precedes the CORS stage.
func (s *Server) Pipeline() []Stage {
	s.mu.Lock()
	logger := s.logger
	s.mu.Unlock()

	stages := []Stage{
		{Name: "recovery", Middleware: RecoveryMiddleware(logger, s.fail)},
		{Name: "request-id", Middleware: RequestIDMiddleware()},
	}
	if s.cfg.Logging.Requests {
		stages = append(stages, Stage{Name: "logging", Middleware: LoggingMiddleware(logger)})
	}
	stages = append(stages,
		Stage{Name: "json-body", Middleware: JSONBodyMiddleware(s.cfg.Body, s.fail)},
		Stage{Name: "cors", Middleware: CORSMiddleware(s.cors)},
	)
	return stages
}

// buildHandler composes the pipeline around the router.
func (s *Server) buildHandler() {
	stages := s.Pipeline()
	middlewares := make([]func(http.Handler) http.Handler, len(stages))
	for i, stage := range stages {
		middlewares[i] = stage.Middleware
	}

	handler := Chain(middlewares...)(s.router)

	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// fail writes an error reply. The CORS policy is applied here because the
// stage reporting the error may run before the CORS stage.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, errType, message string) {
	s.cors.Apply(w.Header(), r)
	writeError(w, status, errType, message)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve serves requests on ln until the server is shut down.
// Returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: config.Duration(s.cfg.Server.ReadHeaderTimeoutSecs),
		ReadTimeout:       config.Duration(s.cfg.Server.ReadTimeoutSecs),
		WriteTimeout:      config.Duration(s.cfg.Server.WriteTimeoutSecs),
		IdleTimeout:       config.Duration(s.cfg.Server.IdleTimeoutSecs),
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start binds the listener, logs the startup line and serves until the
// server is shut down. Bind failures are returned immediately.
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}

	port := s.cfg.Port
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	s.mu.Lock()
	logger := s.logger
	s.mu.Unlock()
	logger.Printf("SERVER_START | Server started! Listening on port %d | addr=%s version=%s", port, ln.Addr(), Version)

	return s.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// ErrorReply is the JSON body of every error produced by the pipeline.
type ErrorReply struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a single error.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, ErrorReply{
		Error: ErrorDetail{
			Message: message,
			Type:    errType,
			Code:    status,
		},
	})
}
