// Package server provides the HTTP API for Kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/agent"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/store"
)

// Chatter runs one agent turn.
type Chatter interface {
	Ask(ctx context.Context, sessionID string, seed []models.Message, userMessage string) (agent.Result, error)
}

// Retriever searches the published index.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]*models.SearchHit, error)
	Snapshot() *store.Snapshot
	Mode() search.Mode
}

// Reindexer resyncs the document directories.
type Reindexer interface {
	Reindex(ctx context.Context) (*indexer.SyncResult, error)
	Directories() []string
}

// Deps are the components behind the API. Reindexer and Metrics may be nil.
type Deps struct {
	Chat      Chatter
	Retriever Retriever
	Reindexer Reindexer
	// Sessions reports the number of live conversation sessions.
	Sessions  func() int
	Metrics   *metrics.Metrics
	IndexRoot string
}

// Server is the HTTP server for the Kotae API.
type Server struct {
	deps   Deps
	config *config.ServerConfig
	logger *zap.Logger
	router chi.Router
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, config: cfg, logger: logger}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Post("/api/v1/chat", s.handleChat)
	r.Post("/chat", s.handleChat)
	r.Get("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/index", s.handleIndex)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// observe logs each request and records it by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		took := time.Since(start)
		s.deps.Metrics.ObserveHTTP(route, status, took)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("took", took),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
