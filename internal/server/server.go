// Package server wires the admission layer into an HTTP surface: the token
// endpoint, the tenant-facing key and limit management API, health probes,
// and the metrics endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pressgate/pressgate/internal/audit"
	"github.com/pressgate/pressgate/internal/handler"
	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/ratelimit"
	"github.com/pressgate/pressgate/internal/scope"
	"github.com/pressgate/pressgate/internal/server/middleware"
	"github.com/pressgate/pressgate/internal/store"
	"github.com/pressgate/pressgate/internal/token"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host             string
	Port             int
	ShutdownTimeout  time.Duration
	CORSOrigins      []string
	FloodRPM         int
	DefaultPerMinute int
	DefaultPerHour   int
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             8080,
		ShutdownTimeout:  30 * time.Second,
		CORSOrigins:      []string{"*"},
		FloodRPM:         1000,
		DefaultPerMinute: 100,
		DefaultPerHour:   1000,
	}
}

// Server is the top-level HTTP server. It owns the router; the store,
// limiter, and token service are shared with the CLI that constructs them.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	limiter    *ratelimit.Limiter
	tokens     *token.Service
	audit      *audit.Recorder
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes and middleware wired. Call
// ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, limiter *ratelimit.Limiter, tokens *token.Service, rec *audit.Recorder, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		limiter: limiter,
		tokens:  tokens,
		audit:   rec,
		metrics: m,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.cfg.FloodRPM > 0 {
		r.Use(middleware.FloodGuard(s.cfg.FloodRPM))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", s.metrics.Handler())

	tokenHandler := handler.NewTokenHandler(s.store, s.tokens, s.limiter, s.metrics, s.logger)
	keysHandler := handler.NewKeysHandler(s.store, s.limiter, s.audit, s.logger)
	limitsHandler := handler.NewLimitsHandler(s.store, s.audit, s.logger,
		s.cfg.DefaultPerMinute, s.cfg.DefaultPerHour)

	r.Route("/api/v1", func(r chi.Router) {
		// Credential exchange: unauthenticated, throttled per source IP.
		r.Group(func(r chi.Router) {
			r.Use(middleware.IPRateLimit(s.limiter, s.metrics))
			r.Post("/token", tokenHandler.Issue)
		})

		// Everything else requires a bearer token and passes the dual-window
		// admission check before any scope is examined.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.tokens, s.store, s.metrics, s.logger))
			r.Use(middleware.RateLimit(s.limiter, s.metrics))

			r.With(middleware.RequireScope(scope.Admin, s.metrics)).
				Post("/keys", keysHandler.Create)
			r.With(middleware.RequireScope(scope.Admin, s.metrics)).
				Get("/keys", keysHandler.List)
			r.With(middleware.RequireScope(scope.Admin, s.metrics)).
				Delete("/keys/{keyID}", keysHandler.Revoke)

			r.With(middleware.RequireScope(scope.Read, s.metrics)).
				Get("/limits", limitsHandler.Get)
			r.With(middleware.RequireScope(scope.Admin, s.metrics)).
				Put("/limits", limitsHandler.Set)
			r.With(middleware.RequireScope(scope.Admin, s.metrics)).
				Delete("/limits", limitsHandler.Clear)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is
// reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded","store":"unreachable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then drains in-flight requests and flushes pending audit
// writes before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.audit.Flush()
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
