// Package httpserver is the admin and operations surface: health, metrics,
// decision previews, and lookups against the decision tables. It listens on
// its own port; the POS never talks to it.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/basket"
	"github.com/RTNSmart/tier3-engine/internal/config"
	"github.com/RTNSmart/tier3-engine/internal/engine"
	"github.com/RTNSmart/tier3-engine/internal/logger"
	"github.com/RTNSmart/tier3-engine/internal/metrics"
	"github.com/RTNSmart/tier3-engine/internal/ratelimit"
	"github.com/RTNSmart/tier3-engine/internal/storage"
)

var (
	serverStartTime = time.Now()
)

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	engine   *engine.Engine
	store    storage.Store
	resolver basket.Resolver
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the admin HTTP server with the configured router.
func New(cfg *config.Config, eng *engine.Engine, store storage.Store, resolver basket.Resolver, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			engine:   eng,
			store:    store,
			resolver: resolver,
			metrics:  metricsCollector,
			logger:   appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Admin.Address,
			ReadTimeout:  cfg.Admin.ReadTimeout.Duration,
			WriteTimeout: cfg.Admin.WriteTimeout.Duration,
			IdleTimeout:  cfg.Admin.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	configureRouter(router, cfg, s.handlers)

	return s
}

// configureRouter attaches admin routes and middleware to the router.
func configureRouter(router chi.Router, cfg *config.Config, handler handlers) {
	if len(cfg.Admin.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Admin.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers first so every response carries them.
	router.Use(securityHeadersMiddleware)

	// Structured logging before RequestID for context propagation.
	router.Use(logger.Middleware(handler.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled: cfg.RateLimit.GlobalEnabled,
		GlobalLimit:   cfg.RateLimit.GlobalLimit,
		GlobalWindow:  cfg.RateLimit.GlobalWindow.Duration,
		PerIPEnabled:  cfg.RateLimit.PerIPEnabled,
		PerIPLimit:    cfg.RateLimit.PerIPLimit,
		PerIPWindow:   cfg.RateLimit.PerIPWindow.Duration,
		Metrics:       handler.metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	// Lightweight endpoints with a short timeout: liveness and metrics
	// scrapes must not queue behind slow decision traffic.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", handler.health)
		// Prometheus exposition, protected by an optional bearer key.
		r.With(adminMetricsAuth(cfg.Admin.MetricsAPIKey)).Handle("/metrics", promhttp.Handler())
	})

	requestTimeout := cfg.Admin.RequestTimeout.Duration
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}

	// Decision and lookup endpoints share the admin request timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Post("/tier3/v1/rewards/preview", handler.previewRewards)
		r.Get("/tier3/v1/catalog/upc/{upc}", handler.resolveUPC)
		r.Get("/tier3/v1/profiles/{lid}", handler.getProfile)
		r.Get("/tier3/v1/validations", handler.listValidations)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
