// Package server provides the HTTP API for the import service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/okigami/torikomi/internal/config"
	"github.com/okigami/torikomi/internal/embedding"
	"github.com/okigami/torikomi/internal/pipeline"
	"github.com/okigami/torikomi/internal/storage"
	"github.com/okigami/torikomi/internal/vector"
)

// maxUploadBytes caps a single upload request body.
const maxUploadBytes = 64 << 20

// Server is the HTTP server for the import API.
type Server struct {
	pipeline *pipeline.Pipeline
	storage  storage.Storage
	embedder *embedding.BestEffort
	index    vector.Index
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. index may be nil
// when semantic search is disabled.
func NewServer(
	pipe *pipeline.Pipeline,
	store storage.Storage,
	embedder *embedding.BestEffort,
	index vector.Index,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		pipeline: pipe,
		storage:  store,
		embedder: embedder,
		index:    index,
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/imports", s.handleUpload)
	r.Get("/api/v1/imports", s.handleListJobs)
	r.Get("/api/v1/imports/{id}", s.handleGetJob)
	r.Get("/api/v1/imports/{id}/records", s.handleListRecords)
	r.Delete("/api/v1/imports/{id}", s.handleDeleteJob)
	r.Post("/api/v1/records/search", s.handleSearchRecords)
	r.Get("/api/v1/stats", s.handleStats)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
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
