package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stacklok/offline-sync/database"
	"github.com/stacklok/offline-sync/internal/app/storage/auth"
	"github.com/stacklok/offline-sync/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long:  `Database migration tool for managing the queue store schema. Use with 'up' or 'down' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

func init() {
	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateCmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := migrateCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// migrationTarget loads the config named by --config and returns the
// database settings with a connection string golang-migrate can open
func migrationTarget(ctx context.Context, cmd *cobra.Command) (*config.DatabaseConfig, string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database == nil {
		return nil, "", fmt.Errorf("database configuration is required")
	}

	connString, err := auth.MigrationConnectionString(ctx, cfg.Database)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get migration connection string: %w", err)
	}
	return cfg.Database, connString, nil
}

// confirm asks a yes/no question on stdin unless --yes was given
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}
	return readConfirmation(cmd.InOrStdin(), prompt)
}

func readConfirmation(in io.Reader, prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s (yes/no): ", prompt)
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && response == "" {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "yes", "y":
		return true, nil
	default:
		return false, nil
	}
}

// logMigrationVersion reports the schema version after a migration
func logMigrationVersion(connString string) {
	m, err := database.GetMigrate(connString)
	if err != nil {
		slog.Warn("Unable to get migration version", "error", err)
		return
	}
	defer func() { _, _ = m.Close() }()

	version, dirty, err := m.Version()
	switch {
	case err != nil:
		slog.Info("Database schema has no applied migrations")
	case dirty:
		slog.Warn("Database is in a dirty state, manual intervention may be required", "version", version)
	default:
		slog.Info("Current migration version", "version", version)
	}
}
