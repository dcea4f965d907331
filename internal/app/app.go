// Package app provides application lifecycle management for the offline sync engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/offline-sync/internal/app/storage"
	"github.com/stacklok/offline-sync/internal/config"
)

// SyncApp encapsulates the sync engine and its management API.
// It provides lifecycle management and graceful shutdown capabilities.
type SyncApp struct {
	config         *config.Config
	components     *AppComponents
	httpServer     *http.Server
	storageFactory storage.Factory

	// Lifecycle management
	ctx         context.Context
	cancelFunc  context.CancelFunc
	cleanupOnce sync.Once
}

// Start starts the sync engine and the HTTP server.
// This method blocks until the HTTP server stops or encounters an error.
func (app *SyncApp) Start() error {
	if err := app.components.Orchestrator.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start sync engine: %w", err)
	}

	g, gctx := errgroup.WithContext(app.ctx)

	g.Go(func() error {
		slog.Info("Server listening", "address", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	// The engine runs until the app is stopped or the server fails
	g.Go(func() error {
		<-gctx.Done()
		if err := app.components.Orchestrator.Stop(); err != nil {
			return fmt.Errorf("failed to stop sync engine: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout.
// It stops the sync engine, shuts down the HTTP server and then releases storage.
func (app *SyncApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if err := app.components.Orchestrator.Stop(); err != nil {
		slog.Error("Failed to stop sync engine", "error", err)
	}

	// Cancelling the application context also ends open event streams
	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := app.httpServer.Shutdown(shutdownCtx)

	app.cleanupOnce.Do(func() {
		if app.storageFactory != nil {
			app.storageFactory.Cleanup()
		}
	})

	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *SyncApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *SyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the wired engine components
func (app *SyncApp) Components() *AppComponents {
	return app.components
}
