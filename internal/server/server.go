// Package server sets up the HTTP server, router, and all route definitions.
//
// ROUTES:
//
//	POST /run/{interpreter}  → submit code, get a token
//	GET  /poll/{token}       → output and exit status
//	POST /admin/{action}     → operator actions (admin token in the body)
//	GET  /metrics            → Prometheus exposition
//
// The server does not build its own dependencies: cmd/server wires the
// services and hands the finished handlers in.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/code-ingest/internal/handler"
	"github.com/sakif/code-ingest/internal/metrics"
	"github.com/sakif/code-ingest/internal/middleware"
)

// Config holds server configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration // default 30s
}

// Handlers are the endpoint handlers the router dispatches to.
type Handlers struct {
	Run   *handler.RunHandler
	Poll  *handler.PollHandler
	Admin *handler.AdminHandler
}

// Server is the HTTP front of the service.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	metrics *metrics.Collector

	shutdownHooks []func(ctx context.Context)
}

// New creates a Server with all routes registered.
func New(cfg Config, h Handlers, m *metrics.Collector, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		metrics: m,
	}
	s.setupRoutes(h)
	return s
}

// setupRoutes configures middleware and routes.
//
// MIDDLEWARE ORDER:
// 1. RequestID: assigns a unique id to each request
// 2. RealIP: client IP from proxy headers
// 3. Logger + Metrics: one log line and one sample per request
// 4. Recoverer: a panicking handler becomes a 500 instead of a crash
func (s *Server) setupRoutes(h Handlers) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Post("/run/{interpreter}", h.Run.HandleRun)
	s.router.Get("/poll/{token}", h.Poll.HandlePoll)
	s.router.Post("/admin/{action}", h.Admin.HandleAdmin)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// OnShutdown registers fn to run after the HTTP server has drained.
// Hooks run in registration order and share one deadline.
func (s *Server) OnShutdown(fn func(ctx context.Context)) {
	s.shutdownHooks = append(s.shutdownHooks, fn)
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new connections
// 2. Wait for in-flight requests to finish (ShutdownTimeout)
// 3. Run the shutdown hooks (janitor stop, reset of live executions)
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Addr, err)
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			s.runHooks()
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	s.runHooks()

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

func (s *Server) runHooks() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	for _, fn := range s.shutdownHooks {
		fn(ctx)
	}
}
