package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/offline-sync/internal/api"
	"github.com/stacklok/offline-sync/internal/app/storage"
	"github.com/stacklok/offline-sync/internal/config"
	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/connectivity"
	"github.com/stacklok/offline-sync/internal/httpclient"
	"github.com/stacklok/offline-sync/internal/remote"
	"github.com/stacklok/offline-sync/internal/retry"
	"github.com/stacklok/offline-sync/internal/store"
	pkgsync "github.com/stacklok/offline-sync/internal/sync"
	"github.com/stacklok/offline-sync/internal/sync/orchestrator"
	"github.com/stacklok/offline-sync/internal/telemetry"
)

const (
	defaultHTTPAddress = ":8080"
	defaultReadTimeout = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second
)

// SyncAppOptions is a function that configures the sync app builder
type SyncAppOptions func(*syncAppConfig) error

// syncAppConfig collects the options for NewSyncApp.
// It supports dependency injection for testing while providing sensible defaults for production.
type syncAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	storageFactory storage.Factory
	applier        remote.Applier
	prober         connectivity.Prober

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	readTimeout    time.Duration
	idleTimeout    time.Duration
	allowedOrigins []string

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...SyncAppOptions) (*syncAppConfig, error) {
	cfg := &syncAppConfig{
		address:     defaultHTTPAddress,
		readTimeout: defaultReadTimeout,
		idleTimeout: defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// NewSyncApp wires the store, connectivity monitor, conflict resolver, processor,
// orchestrator and HTTP server described by the configuration
func NewSyncApp(
	ctx context.Context,
	opts ...SyncAppOptions,
) (*SyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config,
			storage.WithTracer(cfg.tracer(store.PostgresTracerName)))
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	// Ensure cleanup happens on error
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			cfg.storageFactory.Cleanup()
		}
	}()

	st, err := cfg.storageFactory.CreateStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	components, err := buildSyncComponents(ctx, cfg, st)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	httpServer.BaseContext = func(_ net.Listener) context.Context { return appCtx }

	// Cleanup is now handled by the app, not in defer
	cleanupNeeded = false

	return &SyncApp{
		config:         cfg.config,
		components:     components,
		httpServer:     httpServer,
		storageFactory: cfg.storageFactory,
		ctx:            appCtx,
		cancelFunc:     cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		parts := strings.SplitN(addr, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		host := parts[0]
		port := parts[1]

		if port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithAllowedOrigins sets the origin patterns browsers may open the event stream from.
// Patterns follow path.Match against the origin host, e.g. "*.example.com".
func WithAllowedOrigins(patterns ...string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		for _, p := range patterns {
			if _, err := path.Match(p, ""); err != nil {
				return fmt.Errorf("invalid origin pattern %q: %w", p, err)
			}
		}
		cfg.allowedOrigins = patterns
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithApplier replaces the HTTP remote applier
func WithApplier(a remote.Applier) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.applier = a
		return nil
	}
}

// WithProber replaces the HTTP reachability prober
func WithProber(p connectivity.Prober) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.prober = p
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for engine and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves h at /metrics
func WithMetricsHandler(h http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// tracer returns a named tracer, or nil when tracing is not configured
func (b *syncAppConfig) tracer(name string) trace.Tracer {
	if b.tracerProvider == nil {
		return nil
	}
	return b.tracerProvider.Tracer(name)
}

// buildSyncComponents builds the monitor, resolver, processor and orchestrator over st
func buildSyncComponents(
	ctx context.Context,
	b *syncAppConfig,
	st store.Store,
) (*AppComponents, error) {
	slog.Info("Initializing sync components")

	syncMetrics, err := telemetry.NewSyncMetrics(b.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	monitor, err := buildMonitor(b)
	if err != nil {
		return nil, err
	}

	resolver, err := buildResolver(ctx, b.config.Conflict, st, syncMetrics)
	if err != nil {
		return nil, err
	}

	if b.applier == nil {
		b.applier, err = buildApplier(b)
		if err != nil {
			return nil, err
		}
	}

	retryCfg := b.config.Retry
	processorOpts := []pkgsync.ProcessorOption{
		pkgsync.WithRetryOptions(retry.Options{
			InitialDelay:      retryCfg.GetInitialDelay(),
			MaxDelay:          retryCfg.GetMaxDelay(),
			BackoffMultiplier: retryCfg.BackoffMultiplier,
			Jitter:            retryCfg.IsJitter(),
			MaxAttempts:       retryCfg.MaxAttempts,
		}),
		pkgsync.WithTracer(b.tracer(pkgsync.ProcessorTracerName)),
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithConflictEvents(resolver),
		orchestrator.WithTracer(b.tracer(orchestrator.TracerName)),
	}
	if syncMetrics != nil {
		processorOpts = append(processorOpts, pkgsync.WithMetrics(syncMetrics))
		orchOpts = append(orchOpts, orchestrator.WithMetrics(syncMetrics))
		slog.Info("Sync metrics enabled")
	}

	processor := pkgsync.NewProcessor(st, b.applier, resolver, processorOpts...)

	syncCfg := b.config.Sync
	orch := orchestrator.New(st, processor, monitor, orchestrator.Config{
		BatchSize:          syncCfg.BatchSize,
		MaxConcurrentSyncs: syncCfg.MaxConcurrentSyncs,
		SyncInterval:       syncCfg.GetSyncInterval(),
		AutoSync:           syncCfg.IsAutoSync(),
		RetentionDays:      syncCfg.RetentionDays,
		CleanupInterval:    syncCfg.GetCleanupInterval(),
	}, orchOpts...)

	slog.Info("Sync components initialized successfully")
	return &AppComponents{
		Store:        st,
		Monitor:      monitor,
		Resolver:     resolver,
		Orchestrator: orch,
	}, nil
}

// buildMonitor creates the connectivity monitor for the configured endpoints
func buildMonitor(b *syncAppConfig) (*connectivity.Monitor, error) {
	connCfg := b.config.Connectivity
	if b.prober == nil {
		b.prober = connectivity.NewHTTPProber(httpclient.NewDefaultClient(connCfg.GetTimeout()))
	}

	var opts []connectivity.Option
	connMetrics, err := telemetry.NewConnectivityMetrics(b.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectivity metrics: %w", err)
	}
	if connMetrics != nil {
		opts = append(opts, connectivity.WithMetrics(connMetrics))
	}

	monitor, err := connectivity.NewMonitor(b.prober, connectivity.Config{
		Endpoints:     connCfg.Endpoints,
		CheckInterval: connCfg.GetCheckInterval(),
		Timeout:       connCfg.GetTimeout(),
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectivity monitor: %w", err)
	}
	return monitor, nil
}

// buildResolver creates the conflict resolver and seeds the configured rules
func buildResolver(
	ctx context.Context,
	cfg *config.ConflictConfig,
	st store.Store,
	syncMetrics *telemetry.SyncMetrics,
) (*conflict.Resolver, error) {
	var opts []conflict.Option
	if syncMetrics != nil {
		opts = append(opts, conflict.WithMetrics(syncMetrics))
	}

	resolver := conflict.NewResolver(st, conflict.Config{
		AutoResolve:        cfg.IsAutoResolve(),
		DefaultResolution:  conflict.Strategy(cfg.DefaultResolution),
		TimestampTolerance: cfg.GetTimestampTolerance(),
	}, opts...)

	for _, rc := range cfg.Rules {
		rule := &conflict.Rule{
			ID:           rc.ID,
			EntityType:   rc.EntityType,
			ConflictType: conflict.Type(rc.ConflictType),
			FieldPattern: rc.FieldPattern,
			Resolution:   conflict.Strategy(rc.Resolution),
			Priority:     rc.Priority,
			IsActive:     !rc.Disabled,
		}
		if _, err := resolver.AddRule(ctx, rule); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				slog.Debug("Resolution rule already present", "rule_id", rc.ID)
				continue
			}
			return nil, fmt.Errorf("failed to seed resolution rule %s: %w", rc.ID, err)
		}
		slog.Info("Seeded resolution rule", "rule_id", rule.ID, "entity_type", rule.EntityType)
	}

	return resolver, nil
}

// buildApplier creates the HTTP applier for the configured remote
func buildApplier(b *syncAppConfig) (remote.Applier, error) {
	remoteCfg := b.config.Remote
	if remoteCfg == nil {
		return nil, fmt.Errorf("remote configuration is required")
	}

	token, err := remoteCfg.GetToken()
	if err != nil {
		return nil, err
	}

	applier, err := remote.NewHTTPApplier(
		httpclient.NewDefaultClient(remoteCfg.GetTimeout()),
		remoteCfg.BaseURL,
		remote.WithHeaders(remoteCfg.Headers),
		remote.WithBearerToken(token),
		remote.WithTracer(b.tracer(remote.TracerName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote applier: %w", err)
	}
	return applier, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *syncAppConfig,
	components *AppComponents,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Use default middlewares if not provided
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			api.LoggingMiddleware,
		}
	}

	// Tracing and metrics go first so they observe every request
	var telemetryMiddlewares []func(http.Handler) http.Handler
	if b.tracerProvider != nil {
		telemetryMiddlewares = append(telemetryMiddlewares, telemetry.TracingMiddleware(b.tracerProvider))
		slog.Info("HTTP tracing middleware enabled")
	}
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		if metricsMiddleware != nil {
			telemetryMiddlewares = append(telemetryMiddlewares, metricsMiddleware)
			slog.Info("HTTP metrics middleware enabled")
		}
	}
	b.middlewares = append(telemetryMiddlewares, b.middlewares...)

	router := api.NewServer(components.Orchestrator, components.Resolver,
		api.WithMiddlewares(b.middlewares...),
		api.WithMetricsHandler(b.metricsHandler),
		api.WithConnectivity(components.Monitor),
		api.WithAllowedOrigins(b.allowedOrigins...),
	)

	// No WriteTimeout: /api/v1/events holds its connection open
	server := &http.Server{
		Addr:              b.address,
		Handler:           router,
		ReadHeaderTimeout: b.readTimeout,
		ReadTimeout:       b.readTimeout,
		IdleTimeout:       b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
