// Package main is the entry point for the offline sync engine.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/stacklok/offline-sync/cmd/offline-sync/app"
)

func main() {
	// A missing .env file is not an error
	_ = godotenv.Load()

	// Logs go to stderr to keep stdout clean for commands that output data
	// (e.g., version --format json). serve reinstalls the logger once the
	// config file is loaded.
	app.SetupLogging(nil)

	slog.Info("Starting offline sync engine")

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
