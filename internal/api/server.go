// Package api provides the HTTP management server for the sync engine.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/stacklok/offline-sync/internal/api/v1"
	"github.com/stacklok/offline-sync/internal/sync/orchestrator"
)

// ServerOption configures the management API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler
	routerOpts     []v1.RouterOption
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler serves h at /metrics. A nil handler leaves the route unmounted.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// WithConnectivity streams the monitor's transitions on /api/v1/events
func WithConnectivity(c v1.ConnectivityEvents) ServerOption {
	return func(cfg *serverConfig) {
		if c != nil {
			cfg.routerOpts = append(cfg.routerOpts, v1.WithConnectivity(c))
		}
	}
}

// WithAllowedOrigins sets the origin patterns allowed to open /api/v1/events
func WithAllowedOrigins(patterns ...string) ServerOption {
	return func(cfg *serverConfig) {
		if len(patterns) > 0 {
			cfg.routerOpts = append(cfg.routerOpts, v1.WithOriginPatterns(patterns...))
		}
	}
}

// NewServer creates and configures the HTTP router for the engine and its conflict resolver
func NewServer(orch orchestrator.Orchestrator, conflicts v1.ConflictService, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	// Health check routes live at the root
	r.Mount("/", v1.HealthRouter(orch))

	if cfg.metricsHandler != nil {
		r.Handle("/metrics", cfg.metricsHandler)
	}

	r.Mount("/api/v1", v1.Router(orch, conflicts, cfg.routerOpts...))

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
