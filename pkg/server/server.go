// Package server exposes the orchestration runtime over REST. It is a thin
// JSON layer: handlers decode, validate, call the service, and encode. All
// workflow semantics live in pkg/orchestrator.
//
// Bearer tokens arrive in the Authorization header and are captured into
// the request context for on-behalf-of forwarding. With a JWT validator
// configured they are verified first; without one they pass through
// unverified.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arbiterhq/arbiter/pkg/auth"
	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/logger"
	"github.com/arbiterhq/arbiter/pkg/observability"
)

// Server is the HTTP front of the claim orchestration runtime.
type Server struct {
	cfg     config.ServerConfig
	service Service
	logger  *slog.Logger

	validator *auth.JWTValidator
	obs       *observability.Manager

	server *http.Server
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithAuthValidator enables JWT validation on the /v1 routes. Bearer
// tokens are captured for pass-through either way; the validator only
// decides whether unverified requests are rejected.
func WithAuthValidator(v *auth.JWTValidator) Option {
	return func(s *Server) { s.validator = v }
}

// WithObservability wires request tracing and the /metrics endpoint.
func WithObservability(m *observability.Manager) Option {
	return func(s *Server) { s.obs = m }
}

// WithLogger overrides the process-wide default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds a server around the given service.
func New(cfg config.ServerConfig, service Service, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.GetLogger()
	}
	return s
}

// Start runs the server until ctx is cancelled or ListenAndServe fails.
// Cancellation triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("HTTP server starting", "address", s.cfg.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests, bounded to five seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.cfg.Address()
}

// routes builds the router. Health and metrics stay outside the auth
// middleware; everything under /v1 carries the bearer capture and, when a
// validator is set, JWT validation.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(metricsMiddleware)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)

	if s.obs != nil && s.obs.MetricsEnabled() {
		r.Get("/metrics", s.obs.MetricsHandler().ServeHTTP)
		s.logger.Info("Metrics endpoint enabled", "path", "/metrics")
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(s.validator))

		r.Post("/claims/process", s.handleProcessClaim)
		r.Get("/claims/{claimID}/history", s.handleClaimHistory)

		r.Get("/agents", s.handleListAgents)
		r.Route("/agents/{agent}", func(r chi.Router) {
			r.Post("/run", s.handleRunAgent)
			r.Post("/continue", s.handleContinueAgent)
			r.Post("/versions", s.handleBumpVersion)
		})

		r.Get("/executions", s.handleListExecutions)
		r.Get("/executions/{executionID}", s.handleGetExecution)

		r.Get("/analytics/tokens", s.handleTokenAnalytics)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
