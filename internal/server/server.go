// Package server provides the HTTP API for Miru.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/miru/internal/caption"
	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/embedding"
)

// VectorCounter reports the size of the persistent embedding cache.
// Implemented by storage.SQLiteStore; nil when the cache is disabled.
type VectorCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Server is the HTTP server for the Miru API.
type Server struct {
	captioner caption.Captioner
	embedder  *embedding.Service
	counter   VectorCounter
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies. counter may be nil.
func NewServer(
	captioner caption.Captioner,
	embedder *embedding.Service,
	counter VectorCounter,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		captioner: captioner,
		embedder:  embedder,
		counter:   counter,
		config:    cfg,
		logger:    logger,
	}
}

// Handler returns the full HTTP handler, for serving under a test listener.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// routes builds the router with middleware and endpoints.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/caption", s.handleCaption)
	r.Post("/api/v1/embedding", s.handleEmbedding)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
