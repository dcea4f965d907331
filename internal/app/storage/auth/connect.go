package auth

import (
	"context"
	"fmt"

	"github.com/stacklok/offline-sync/internal/config"
)

// MigrationConnectionString builds a connection string that golang-migrate can
// open on its own. A dynamic token, when configured, is embedded as the password.
func MigrationConnectionString(ctx context.Context, cfg *config.DatabaseConfig) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("database configuration is required")
	}

	if cfg.DynamicAuth == nil {
		return cfg.GetConnectionString()
	}

	token, err := ResolveAuthToken(ctx, cfg, cfg.User)
	if err != nil {
		return "", fmt.Errorf("failed to resolve auth token for migration user: %w", err)
	}

	return cfg.BuildConnectionStringWithAuth(cfg.User, token), nil
}
