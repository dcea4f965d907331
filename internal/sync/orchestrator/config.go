package orchestrator

import "time"

const (
	// DefaultBatchSize is the number of entries pulled per pass
	DefaultBatchSize = 10

	// DefaultMaxConcurrentSyncs is the number of passes allowed to run at once
	DefaultMaxConcurrentSyncs = 3

	// DefaultSyncInterval is the period between automatic passes
	DefaultSyncInterval = 5 * time.Minute

	// DefaultCleanupInterval is the period between retention sweeps
	DefaultCleanupInterval = time.Hour
)

// Config controls pass scheduling
type Config struct {
	BatchSize          int
	MaxConcurrentSyncs int
	SyncInterval       time.Duration

	// AutoSync enables the periodic timer, the pass at start and the pass on reconnect.
	// Manual passes are always allowed.
	AutoSync bool

	// RetentionDays enables the periodic sweep of completed entries when positive
	RetentionDays   int
	CleanupInterval time.Duration
}

// DefaultConfig returns the default scheduling with automatic sync enabled
func DefaultConfig() Config {
	return Config{
		BatchSize:          DefaultBatchSize,
		MaxConcurrentSyncs: DefaultMaxConcurrentSyncs,
		SyncInterval:       DefaultSyncInterval,
		AutoSync:           true,
		CleanupInterval:    DefaultCleanupInterval,
	}
}

// withDefaults fills unset numeric fields. AutoSync is taken as given.
func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrentSyncs <= 0 {
		c.MaxConcurrentSyncs = DefaultMaxConcurrentSyncs
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.RetentionDays < 0 {
		c.RetentionDays = 0
	}
	return c
}
