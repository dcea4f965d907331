package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	syncapp "github.com/stacklok/offline-sync/internal/app"
	"github.com/stacklok/offline-sync/internal/config"
	"github.com/stacklok/offline-sync/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync engine and its management API",
	Long: `Start the sync engine and the HTTP management API.

The server requires a configuration file (--config) that specifies:
- The remote base URL that queued mutations are replayed against
- Connectivity endpoints, sync scheduling and retry policy
- Conflict resolution defaults and rules
- The queue store (memory, file or database) and optional Redis history

Check a file with 'offline-sync validate --config <file>' first.
See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	telemetryFlushTimeout  = 5 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	serveCmd.Flags().StringSlice("allowed-origins", nil,
		"Origin host patterns allowed to open the event stream (same-origin only when empty)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
	}
	if err := viper.BindPFlag("allowed-origins", serveCmd.Flags().Lookup("allowed-origins")); err != nil {
		slog.Error("Failed to bind allowed-origins flag", "error", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	closeLog := SetupLogging(cfg.Logging)
	defer closeLog()

	slog.Info("Loaded configuration",
		"path", configPath,
		"remote", cfg.Remote.BaseURL,
		"storage", cfg.GetStorageType())

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	app, err := syncapp.NewSyncApp(ctx,
		syncapp.WithConfig(cfg),
		syncapp.WithAddress(viper.GetString("address")),
		syncapp.WithAllowedOrigins(viper.GetStringSlice("allowed-origins")...),
		syncapp.WithMeterProvider(tel.MeterProvider()),
		syncapp.WithTracerProvider(tel.TracerProvider()),
		syncapp.WithMetricsHandler(tel.MetricsHandler()),
	)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-errCh:
		if stopErr := app.Stop(defaultGracefulTimeout); stopErr != nil {
			slog.Error("Failed to stop application", "error", stopErr)
		}
		return err
	}

	if err := app.Stop(defaultGracefulTimeout); err != nil {
		return err
	}
	return <-errCh
}
