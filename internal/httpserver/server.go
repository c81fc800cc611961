// Package httpserver exposes the payment API over HTTP.
package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/railclaw/railclaw/internal/config"
	"github.com/railclaw/railclaw/internal/logger"
	"github.com/railclaw/railclaw/internal/metrics"
	"github.com/railclaw/railclaw/internal/orchestrator"
	"github.com/railclaw/railclaw/internal/store"
)

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg          *config.Config
	orchestrator *orchestrator.Orchestrator
	store        store.Store
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// New builds the HTTP server with the configured router.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, st store.Store, m *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:          cfg,
			orchestrator: orch,
			store:        st,
			metrics:      m,
			logger:       appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}
	s.configureRouter(router)

	return s
}

func (s *Server) configureRouter(router chi.Router) {
	if len(s.cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   s.cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(middleware.Recoverer)
	router.Use(logger.Middleware(s.logger))

	if s.cfg.RateLimit.Enabled {
		router.Use(httprate.LimitByIP(s.cfg.RateLimit.Limit, s.cfg.RateLimit.Window.Duration))
	}

	router.Get("/healthz", s.handleHealth)
	router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	router.Route("/v1", func(r chi.Router) {
		r.Post("/payments", s.handleCreatePayment)
		r.Get("/payments", s.handleListPayments)
		r.Get("/payments/{paymentID}", s.handleCheckPayment)
		r.Get("/notifications", s.handleDrainNotifications)
	})
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("server.listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
