// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the wiring layer: it decides which URL patterns map to
// which handlers, which middleware runs where, and how the server stops.
// Services and the token issuer are built by the caller (cmd/laph) and
// passed in, so a test can stand the whole router up with fakes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/laph/internal/auth"
	"github.com/sakif/laph/internal/handler"
	"github.com/sakif/laph/internal/middleware"
	"github.com/sakif/laph/internal/observability"
)

// shutdownTimeout is how long in-flight requests get after a stop signal.
const shutdownTimeout = 30 * time.Second

// Config holds server configuration.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Metrics exposes GET /metrics when true.
	Metrics bool
}

// Deps are the collaborators the routes call into.
type Deps struct {
	Runs handler.RunService
	Code handler.CodeService
	// Tokens guards /api with bearer auth. Nil leaves the API open.
	Tokens *auth.TokenService
}

// Server represents the HTTP server and its router.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
}

// New creates a Server and registers every route.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	s.setupRoutes(deps)
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz            → liveness probe
// GET    /metrics            → Prometheus scrape endpoint (when enabled)
// POST   /api/runs           → run the repair loop for a task
// GET    /api/runs           → list persisted runs
// GET    /api/runs/{id}      → one run with its iterations
// POST   /api/execute        → run code once in the sandbox
// POST   /api/analyze        → sanitizer report + auto-execution verdict
// POST   /api/extract        → pull code out of a model reply
//
// MIDDLEWARE ORDER MATTERS:
// RequestID runs first so the logger can print it; Recoverer sits inside the
// logger so a panic is logged as the 500 it becomes.
func (s *Server) setupRoutes(deps Deps) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	if s.config.Metrics {
		s.router.Use(observability.MetricsMiddleware)
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}` + "\n"))
	})

	runHandler := handler.NewRunHandler(deps.Runs, s.logger)
	codeHandler := handler.NewCodeHandler(deps.Code, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		if deps.Tokens != nil {
			r.Use(auth.RequireBearer(deps.Tokens))
		}

		r.Post("/runs", runHandler.HandleCreate)
		r.Get("/runs", runHandler.HandleList)
		r.Get("/runs/{id}", runHandler.HandleGet)

		r.Post("/execute", codeHandler.HandleExecute)
		r.Post("/analyze", codeHandler.HandleAnalyze)
		r.Post("/extract", codeHandler.HandleExtract)
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully:
// stop accepting connections and give in-flight requests shutdownTimeout
// to finish. Repair runs in flight see their request context cancelled and
// stay resumable.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listening: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
