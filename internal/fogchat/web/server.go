// Package web exposes the chat relay over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fogmoe/fogchat/internal/fogchat/chat"
)

// Server is the HTTP front of the relay.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Config holds the HTTP server settings.
type Config struct {
	Addr string
	// JWTSecret verifies bearer tokens; empty disables authentication and
	// every caller is anonymous.
	JWTSecret string
	// Version is reported by the health endpoint.
	Version string
}

// NewServer builds the router and wraps it in an http.Server. If logger is
// nil, slog.Default() is used.
func NewServer(cfg Config, orch *chat.Orchestrator, hist HistoryStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{
		orch:    orch,
		hist:    hist,
		version: cfg.Version,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(requestID)
	r.Use(requestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestSize(1 << 20))

	r.Get("/health", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(authenticate(cfg.JWTSecret, logger))
		r.Post("/api/chat", h.handleChat)
		r.Route("/api/chat-history/{conversationID}", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/", h.handleGetHistory)
			r.Delete("/", h.handleDeleteHistory)
		})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		logger: logger,
	}
}

// Handler exposes the routing tree, mainly for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
