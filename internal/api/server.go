// Package api provides the HTTP API server for the build orchestrator.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/narvanalabs/conflux-builder/internal/api/handlers"
	"github.com/narvanalabs/conflux-builder/internal/api/health"
	"github.com/narvanalabs/conflux-builder/internal/api/middleware"
	"github.com/narvanalabs/conflux-builder/internal/events"
	"github.com/narvanalabs/conflux-builder/internal/validation"
	"github.com/narvanalabs/conflux-builder/internal/webhook"
	"github.com/narvanalabs/conflux-builder/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Services are the domain services the API exposes.
type Services struct {
	Builds    handlers.BuildService
	Events    handlers.EventService
	Releases  handlers.ReleaseService
	Broker    *events.Broker
	Validator *validation.CriteriaValidator
	Verifier  webhook.Verifier
	Health    *health.Checker
}

// Server represents the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	services   Services
	config     *config.Config
	logger     *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, svc Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if svc.Health == nil {
		svc.Health = health.NewChecker(Version)
	}

	s := &Server{
		services: svc,
		config:   cfg,
		logger:   logger,
	}

	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))

	buildHandler := handlers.NewBuildHandler(s.services.Builds, s.services.Broker, s.logger)
	releaseHandler := handlers.NewReleaseHandler(s.services.Releases, s.logger)
	optionsHandler := handlers.NewOptionsHandler(s.services.Validator)
	webhookHandler := handlers.NewWebhookHandler(s.services.Events, s.services.Verifier, s.logger)

	// Long-lived streams are kept out of the request timeout.
	r.Get("/v1/builds/{buildID}/events", buildHandler.Events)
	r.Get("/v1/builds/{buildID}/watch", buildHandler.Watch)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))

		r.Get("/health", s.services.Health.Handler())

		r.Route("/v1", func(r chi.Router) {
			r.Route("/builds", func(r chi.Router) {
				r.Post("/", buildHandler.Submit)
				r.Get("/{buildID}", buildHandler.Get)
				r.Get("/{buildID}/status", buildHandler.Status)
				r.Post("/{buildID}/retry", buildHandler.Retry)
			})

			r.Get("/releases/{tag}", releaseHandler.Get)
			r.Get("/tags", releaseHandler.Tags)
			r.Get("/options", optionsHandler.Get)
		})

		r.Route("/webhooks/github", func(r chi.Router) {
			r.Post("/", webhookHandler.GitHub)
			r.Post("/workflow-run", webhookHandler.WorkflowRun)
			r.Post("/release", webhookHandler.Release)
		})
	})

	s.router = r
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server. It is safe to call
// concurrently with Start and before it; later calls return the result of
// the first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		s.shutdownErr = s.httpServer.Shutdown(shutdownCtx)
	})
	return s.shutdownErr
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
