// Package config provides configuration loading and management for the offline sync engine.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/offline-sync/internal/telemetry"
)

// EnvPrefix is the prefix of environment variables read by the CLI
const EnvPrefix = "OFFLINE_SYNC"

const (
	// StorageTypeMemory keeps the queue in process memory only
	StorageTypeMemory = "memory"

	// StorageTypeFile persists the queue as a JSON snapshot on local disk
	StorageTypeFile = "file"

	// StorageTypeDatabase persists the queue in PostgreSQL
	StorageTypeDatabase = "database"
)

const (
	// DefaultBatchSize is the number of entries pulled per sync pass
	DefaultBatchSize = 10

	// DefaultMaxConcurrentSyncs is the number of sync passes that may run at once
	DefaultMaxConcurrentSyncs = 3

	// DefaultSyncInterval is the period between automatic sync passes
	DefaultSyncInterval = 5 * time.Minute

	// DefaultCleanupInterval is the period between retention sweeps
	DefaultCleanupInterval = time.Hour

	// DefaultInitialDelay is the first retry delay
	DefaultInitialDelay = time.Second

	// DefaultMaxDelay caps the retry delay
	DefaultMaxDelay = 30 * time.Second

	// DefaultBackoffMultiplier is the exponential growth factor of the retry delay
	DefaultBackoffMultiplier = 2.0

	// DefaultMaxAttempts is the number of in-pass attempts per remote call
	DefaultMaxAttempts = 3

	// DefaultCheckInterval is the period between connectivity probes
	DefaultCheckInterval = 30 * time.Second

	// DefaultProbeTimeout is the per-endpoint connectivity probe timeout
	DefaultProbeTimeout = 5 * time.Second

	// DefaultTimestampTolerance is the window in which concurrent writes count as one change
	DefaultTimestampTolerance = time.Second

	// DefaultDefaultResolution is applied when no rule matches a conflict
	DefaultDefaultResolution = "use_local"

	// DefaultRemoteTimeout is the timeout of a single remote apply request
	DefaultRemoteTimeout = 30 * time.Second

	// DefaultFileStoragePath is where the file store keeps its snapshot
	DefaultFileStoragePath = "./data/queue.json"

	// DefaultRedisHistoryKey is the list key used for the sync history log
	DefaultRedisHistoryKey = "offline-sync:history"

	// DefaultRedisHistoryMaxLen bounds the sync history list
	DefaultRedisHistoryMaxLen = 1000
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Sync         *SyncConfig         `yaml:"sync,omitempty"`
	Retry        *RetryConfig        `yaml:"retry,omitempty"`
	Connectivity *ConnectivityConfig `yaml:"connectivity,omitempty"`
	Conflict     *ConflictConfig     `yaml:"conflict,omitempty"`
	Remote       *RemoteConfig       `yaml:"remote"`
	Storage      *StorageConfig      `yaml:"storage,omitempty"`
	Database     *DatabaseConfig     `yaml:"database,omitempty"`
	Redis        *RedisConfig        `yaml:"redis,omitempty"`
	Telemetry    *telemetry.Config   `yaml:"telemetry,omitempty"`
	Logging      *LoggingConfig      `yaml:"logging,omitempty"`
}

// SyncConfig controls sync passes
type SyncConfig struct {
	// BatchSize is the maximum number of entries processed per pass
	BatchSize int `yaml:"batchSize,omitempty"`

	// MaxConcurrentSyncs bounds the number of passes in flight
	MaxConcurrentSyncs int `yaml:"maxConcurrentSyncs,omitempty"`

	// SyncInterval is the period between automatic passes (e.g. "5m")
	SyncInterval string `yaml:"syncInterval,omitempty"`

	// AutoSync enables automatic passes on the timer and on reconnect. Defaults to true.
	AutoSync *bool `yaml:"autoSync,omitempty"`

	// RetentionDays enables a periodic sweep of completed entries older than this many days
	RetentionDays int `yaml:"retentionDays,omitempty"`

	// CleanupInterval is the period between retention sweeps
	CleanupInterval string `yaml:"cleanupInterval,omitempty"`
}

// RetryConfig controls the backoff applied to remote calls
type RetryConfig struct {
	InitialDelay      string  `yaml:"initialDelay,omitempty"`
	MaxDelay          string  `yaml:"maxDelay,omitempty"`
	BackoffMultiplier float64 `yaml:"backoffMultiplier,omitempty"`
	Jitter            *bool   `yaml:"jitter,omitempty"`
	MaxAttempts       int     `yaml:"maxAttempts,omitempty"`
}

// ConnectivityConfig controls reachability probing
type ConnectivityConfig struct {
	// Endpoints are probed in order. Defaults to the remote base URL.
	Endpoints []string `yaml:"endpoints,omitempty"`

	// CheckInterval is the period between probes
	CheckInterval string `yaml:"checkInterval,omitempty"`

	// Timeout applies to each endpoint separately
	Timeout string `yaml:"timeout,omitempty"`
}

// ConflictConfig controls automatic conflict resolution
type ConflictConfig struct {
	// AutoResolve defaults to true
	AutoResolve *bool `yaml:"autoResolve,omitempty"`

	// DefaultResolution is use_local, use_remote, merge or manual
	DefaultResolution string `yaml:"defaultResolution,omitempty"`

	// TimestampTolerance is the window in which concurrent writes count as one change
	TimestampTolerance string `yaml:"timestampTolerance,omitempty"`

	// Rules are seeded into the store at startup when no rule with the same id exists
	Rules []RuleConfig `yaml:"rules,omitempty"`
}

// RuleConfig declares an automatic resolution rule
type RuleConfig struct {
	ID           string `yaml:"id"`
	EntityType   string `yaml:"entityType"`
	ConflictType string `yaml:"conflictType"`
	FieldPattern string `yaml:"fieldPattern,omitempty"`
	Resolution   string `yaml:"resolution"`
	Priority     int    `yaml:"priority,omitempty"`
	Disabled     bool   `yaml:"disabled,omitempty"`
}

// RemoteConfig describes the system of record that entries are replayed against
type RemoteConfig struct {
	// BaseURL is the root under which entity collections live, e.g. https://api.example.com/v1
	BaseURL string `yaml:"baseURL"`

	// Timeout bounds a single request
	Timeout string `yaml:"timeout,omitempty"`

	// Headers are added to every request
	Headers map[string]string `yaml:"headers,omitempty"`

	// TokenFile holds a bearer token, read once at startup
	TokenFile string `yaml:"tokenFile,omitempty"`
}

// StorageConfig selects the queue store backend
type StorageConfig struct {
	// Type is memory, file or database. Defaults to file.
	Type string `yaml:"type,omitempty"`

	File *FileStorageConfig `yaml:"file,omitempty"`
}

// FileStorageConfig configures the file store
type FileStorageConfig struct {
	// Path is the snapshot file. A sibling ".lock" file guards it across processes.
	Path string `yaml:"path,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// This is the recommended approach for production deployments
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`

	// DynamicAuth replaces the static password with a short-lived token minted per connection
	DynamicAuth *DynamicAuthConfig `yaml:"dynamicAuth,omitempty"`
}

// DynamicAuthConfig selects a dynamic database authentication method
type DynamicAuthConfig struct {
	AWSRDSIAM *DynamicAuthAWSRDSIAM `yaml:"awsRdsIam,omitempty"`
}

// DynamicAuthAWSRDSIAM authenticates with an AWS RDS IAM token
type DynamicAuthAWSRDSIAM struct {
	// Region is an AWS region, or "detect" to read it from instance metadata
	Region string `yaml:"region"`
}

// RedisConfig moves the sync history log into a Redis list
type RedisConfig struct {
	// Addr is host:port. An empty address disables Redis.
	Addr string `yaml:"addr"`

	DB int `yaml:"db,omitempty"`

	// PasswordEnv names an environment variable holding the password
	PasswordEnv string `yaml:"passwordEnv,omitempty"`

	HistoryKey    string `yaml:"historyKey,omitempty"`
	HistoryMaxLen int64  `yaml:"historyMaxLen,omitempty"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level,omitempty"`

	// File additionally writes logs to a rotated file
	File *LogFileConfig `yaml:"file,omitempty"`
}

// LogFileConfig configures log rotation
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMB,omitempty"`
	MaxBackups int    `yaml:"maxBackups,omitempty"`
	MaxAgeDays int    `yaml:"maxAgeDays,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from OFFLINE_SYNC_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv("OFFLINE_SYNC_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or OFFLINE_SYNC_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// With dynamic auth configured the string carries no password; the token is
// supplied per connection instead.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	if d.DynamicAuth != nil {
		return d.BuildConnectionStringWithAuth(d.User, ""), nil
	}

	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}
	return d.BuildConnectionStringWithAuth(d.User, password), nil
}

// BuildConnectionStringWithAuth builds a connection string for user. The
// password is URL-escaped and omitted when empty.
func (d *DatabaseConfig) BuildConnectionStringWithAuth(user, password string) string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	userInfo := url.QueryEscape(user)
	if password != "" {
		userInfo += ":" + url.QueryEscape(password)
	}

	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=%s",
		userInfo,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyDefaults fills every unset section so getters never see nil
func (c *Config) applyDefaults() {
	if c.Sync == nil {
		c.Sync = &SyncConfig{}
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = DefaultBatchSize
	}
	if c.Sync.MaxConcurrentSyncs == 0 {
		c.Sync.MaxConcurrentSyncs = DefaultMaxConcurrentSyncs
	}
	if c.Sync.AutoSync == nil {
		c.Sync.AutoSync = boolPtr(true)
	}

	if c.Retry == nil {
		c.Retry = &RetryConfig{}
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.Retry.Jitter == nil {
		c.Retry.Jitter = boolPtr(true)
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}

	if c.Connectivity == nil {
		c.Connectivity = &ConnectivityConfig{}
	}
	if len(c.Connectivity.Endpoints) == 0 && c.Remote != nil && c.Remote.BaseURL != "" {
		c.Connectivity.Endpoints = []string{c.Remote.BaseURL}
	}

	if c.Conflict == nil {
		c.Conflict = &ConflictConfig{}
	}
	if c.Conflict.AutoResolve == nil {
		c.Conflict.AutoResolve = boolPtr(true)
	}
	if c.Conflict.DefaultResolution == "" {
		c.Conflict.DefaultResolution = DefaultDefaultResolution
	}

	if c.Storage == nil {
		c.Storage = &StorageConfig{}
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageTypeFile
	}

	if c.Redis != nil {
		if c.Redis.HistoryKey == "" {
			c.Redis.HistoryKey = DefaultRedisHistoryKey
		}
		if c.Redis.HistoryMaxLen == 0 {
			c.Redis.HistoryMaxLen = DefaultRedisHistoryMaxLen
		}
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error
	if err := validateSyncConfig(c.Sync); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}
	if err := validateRetryConfig(c.Retry); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if err := validateConnectivityConfig(c.Connectivity); err != nil {
		errs = append(errs, fmt.Errorf("connectivity: %w", err))
	}
	if err := validateConflictConfig(c.Conflict); err != nil {
		errs = append(errs, fmt.Errorf("conflict: %w", err))
	}
	if err := validateRemoteConfig(c.Remote); err != nil {
		errs = append(errs, fmt.Errorf("remote: %w", err))
	}
	if err := c.validateStorageConfig(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func validateSyncConfig(s *SyncConfig) error {
	if s.BatchSize < 0 {
		return fmt.Errorf("batchSize must be positive, got %d", s.BatchSize)
	}
	if s.MaxConcurrentSyncs < 0 {
		return fmt.Errorf("maxConcurrentSyncs must be positive, got %d", s.MaxConcurrentSyncs)
	}
	if s.RetentionDays < 0 {
		return fmt.Errorf("retentionDays cannot be negative, got %d", s.RetentionDays)
	}
	if err := validateDuration(s.SyncInterval, "syncInterval"); err != nil {
		return err
	}
	return validateDuration(s.CleanupInterval, "cleanupInterval")
}

func validateRetryConfig(r *RetryConfig) error {
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("backoffMultiplier must be at least 1, got %v", r.BackoffMultiplier)
	}
	if r.MaxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be at least 1, got %d", r.MaxAttempts)
	}
	if err := validateDuration(r.InitialDelay, "initialDelay"); err != nil {
		return err
	}
	return validateDuration(r.MaxDelay, "maxDelay")
}

func validateConnectivityConfig(c *ConnectivityConfig) error {
	for i, endpoint := range c.Endpoints {
		if err := validateHTTPURL(endpoint); err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
	}
	if err := validateDuration(c.CheckInterval, "checkInterval"); err != nil {
		return err
	}
	return validateDuration(c.Timeout, "timeout")
}

func validateConflictConfig(c *ConflictConfig) error {
	switch c.DefaultResolution {
	case "use_local", "use_remote", "merge", "manual":
	default:
		return fmt.Errorf("defaultResolution must be one of use_local, use_remote, merge, manual (got %q)",
			c.DefaultResolution)
	}
	if err := validateDuration(c.TimestampTolerance, "timestampTolerance"); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rules[%d].id is required", i)
		}
		if _, dup := seen[rule.ID]; dup {
			return fmt.Errorf("rules[%d].id %q is duplicated", i, rule.ID)
		}
		seen[rule.ID] = struct{}{}
	}
	return nil
}

func validateRemoteConfig(r *RemoteConfig) error {
	if r == nil || r.BaseURL == "" {
		return fmt.Errorf("baseURL is required")
	}
	if err := validateHTTPURL(r.BaseURL); err != nil {
		return fmt.Errorf("baseURL: %w", err)
	}
	return validateDuration(r.Timeout, "timeout")
}

func (c *Config) validateStorageConfig() error {
	switch c.Storage.Type {
	case StorageTypeMemory, StorageTypeFile:
		return nil
	case StorageTypeDatabase:
		if c.Database == nil {
			return fmt.Errorf("database configuration is required for storage type %q", StorageTypeDatabase)
		}
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Database == "" {
			return fmt.Errorf("database host, user and database are required")
		}
		if da := c.Database.DynamicAuth; da != nil {
			if da.AWSRDSIAM == nil {
				return fmt.Errorf("database.dynamicAuth requires a method such as awsRdsIam")
			}
			if da.AWSRDSIAM.Region == "" {
				return fmt.Errorf("database.dynamicAuth.awsRdsIam.region is required")
			}
		}
		return validateDuration(c.Database.ConnMaxLifetime, "database.connMaxLifetime")
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
}

func validateDuration(value, field string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s is not a valid duration: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func parseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func boolPtr(v bool) *bool {
	return &v
}

// GetStorageType returns the storage backend type
func (c *Config) GetStorageType() string {
	if c.Storage == nil || c.Storage.Type == "" {
		return StorageTypeFile
	}
	return c.Storage.Type
}

// GetFileStoragePath returns the snapshot path of the file store
func (c *Config) GetFileStoragePath() string {
	if c.Storage == nil || c.Storage.File == nil || c.Storage.File.Path == "" {
		return DefaultFileStoragePath
	}
	return c.Storage.File.Path
}

// GetSyncInterval returns the automatic sync period
func (s *SyncConfig) GetSyncInterval() time.Duration {
	return parseDurationOr(s.SyncInterval, DefaultSyncInterval)
}

// GetCleanupInterval returns the retention sweep period
func (s *SyncConfig) GetCleanupInterval() time.Duration {
	return parseDurationOr(s.CleanupInterval, DefaultCleanupInterval)
}

// IsAutoSync reports whether automatic passes are enabled
func (s *SyncConfig) IsAutoSync() bool {
	return s.AutoSync == nil || *s.AutoSync
}

// GetInitialDelay returns the first retry delay
func (r *RetryConfig) GetInitialDelay() time.Duration {
	return parseDurationOr(r.InitialDelay, DefaultInitialDelay)
}

// GetMaxDelay returns the retry delay cap
func (r *RetryConfig) GetMaxDelay() time.Duration {
	return parseDurationOr(r.MaxDelay, DefaultMaxDelay)
}

// IsJitter reports whether retry delays are randomised
func (r *RetryConfig) IsJitter() bool {
	return r.Jitter == nil || *r.Jitter
}

// GetCheckInterval returns the probe period
func (c *ConnectivityConfig) GetCheckInterval() time.Duration {
	return parseDurationOr(c.CheckInterval, DefaultCheckInterval)
}

// GetTimeout returns the per-endpoint probe timeout
func (c *ConnectivityConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, DefaultProbeTimeout)
}

// IsAutoResolve reports whether conflicts are resolved automatically
func (c *ConflictConfig) IsAutoResolve() bool {
	return c.AutoResolve == nil || *c.AutoResolve
}

// GetTimestampTolerance returns the concurrent write window
func (c *ConflictConfig) GetTimestampTolerance() time.Duration {
	return parseDurationOr(c.TimestampTolerance, DefaultTimestampTolerance)
}

// GetTimeout returns the remote request timeout
func (r *RemoteConfig) GetTimeout() time.Duration {
	return parseDurationOr(r.Timeout, DefaultRemoteTimeout)
}

// GetToken reads the bearer token file, returning an empty token when none is configured
func (r *RemoteConfig) GetToken() (string, error) {
	if r.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Clean(r.TokenFile))
	if err != nil {
		return "", fmt.Errorf("failed to read token from file %s: %w", r.TokenFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// GetPassword returns the Redis password from the configured environment variable
func (r *RedisConfig) GetPassword() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}
