// Package config handles ledger core configuration from environment
// variables and an optional config file, bound together through viper
// so both sources populate the same Config struct. No command-line
// flags are bound to Config fields.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all ledger core configuration.
type Config struct {
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string

	DatabaseURL string // PostgreSQL connection string; empty uses the in-memory store

	// Database pool settings
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Feature flags (original_source admin toggles)
	MultipathEnabled     bool
	FullMultipathEnabled bool
	ClearingEnabled      bool

	// Payment engine tunables
	PrepareLockTTL      time.Duration
	CommitMaxAttempts   int
	CommitRetryBase     time.Duration
	MaxRouteSegments    int
	MaxRoutesPerPrepare int

	// Clearing engine tunables
	ClearingMaxDepth    int
	ClearingBatchLimit  int
	ClearingDFSMaxDepth int

	// Recovery loop tunables
	RecoveryInterval time.Duration

	// Distributed lock (Redis)
	RedisURL        string
	LockWaitTimeout time.Duration
	LockTTL         time.Duration

	// Observability
	OTLPEndpoint string // empty disables trace export wiring at the deployment layer
}

const (
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultDBMaxOpenConns    = 25
	DefaultDBMaxIdleConns    = 5
	DefaultDBConnMaxLifetime = 5 * time.Minute
	DefaultDBConnMaxIdleTime = 3 * time.Minute

	DefaultPrepareLockTTL      = 30 * time.Second
	DefaultCommitMaxAttempts   = 3
	DefaultCommitRetryBase     = 20 * time.Millisecond
	DefaultMaxRouteSegments    = 4
	DefaultMaxRoutesPerPrepare = 8

	DefaultClearingMaxDepth    = 4
	DefaultClearingBatchLimit  = 100
	DefaultClearingDFSMaxDepth = 6

	DefaultRecoveryInterval = 15 * time.Second

	DefaultLockWaitTimeout = 5 * time.Second
	DefaultLockTTL         = 10 * time.Second
)

// Load reads configuration from a ".env" file (if present), environment
// variables prefixed GEOLEDGER_, and an optional config file named by
// GEOLEDGER_CONFIG_FILE, layered through viper (env overrides config file
// overrides defaults).
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEOLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString("CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	setDefaults(v)

	cfg := &Config{
		Env:       v.GetString("env"),
		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),

		DatabaseURL: v.GetString("database_url"),

		DBMaxOpenConns:    v.GetInt("db_max_open_conns"),
		DBMaxIdleConns:    v.GetInt("db_max_idle_conns"),
		DBConnMaxLifetime: v.GetDuration("db_conn_max_lifetime"),
		DBConnMaxIdleTime: v.GetDuration("db_conn_max_idle_time"),

		MultipathEnabled:     v.GetBool("multipath_enabled"),
		FullMultipathEnabled: v.GetBool("full_multipath_enabled"),
		ClearingEnabled:      v.GetBool("clearing_enabled"),

		PrepareLockTTL:      v.GetDuration("prepare_lock_ttl"),
		CommitMaxAttempts:   v.GetInt("commit_max_attempts"),
		CommitRetryBase:     v.GetDuration("commit_retry_base"),
		MaxRouteSegments:    v.GetInt("max_route_segments"),
		MaxRoutesPerPrepare: v.GetInt("max_routes_per_prepare"),

		ClearingMaxDepth:    v.GetInt("clearing_max_depth"),
		ClearingBatchLimit:  v.GetInt("clearing_batch_limit"),
		ClearingDFSMaxDepth: v.GetInt("clearing_dfs_max_depth"),

		RecoveryInterval: v.GetDuration("recovery_interval"),

		RedisURL:        v.GetString("redis_url"),
		LockWaitTimeout: v.GetDuration("lock_wait_timeout"),
		LockTTL:         v.GetDuration("lock_ttl"),

		OTLPEndpoint: v.GetString("otlp_endpoint"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", DefaultEnv)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)

	v.SetDefault("db_max_open_conns", DefaultDBMaxOpenConns)
	v.SetDefault("db_max_idle_conns", DefaultDBMaxIdleConns)
	v.SetDefault("db_conn_max_lifetime", DefaultDBConnMaxLifetime)
	v.SetDefault("db_conn_max_idle_time", DefaultDBConnMaxIdleTime)

	v.SetDefault("multipath_enabled", true)
	v.SetDefault("full_multipath_enabled", false)
	v.SetDefault("clearing_enabled", true)

	v.SetDefault("prepare_lock_ttl", DefaultPrepareLockTTL)
	v.SetDefault("commit_max_attempts", DefaultCommitMaxAttempts)
	v.SetDefault("commit_retry_base", DefaultCommitRetryBase)
	v.SetDefault("max_route_segments", DefaultMaxRouteSegments)
	v.SetDefault("max_routes_per_prepare", DefaultMaxRoutesPerPrepare)

	v.SetDefault("clearing_max_depth", DefaultClearingMaxDepth)
	v.SetDefault("clearing_batch_limit", DefaultClearingBatchLimit)
	v.SetDefault("clearing_dfs_max_depth", DefaultClearingDFSMaxDepth)

	v.SetDefault("recovery_interval", DefaultRecoveryInterval)

	v.SetDefault("lock_wait_timeout", DefaultLockWaitTimeout)
	v.SetDefault("lock_ttl", DefaultLockTTL)
}

// Validate checks that configuration values are self-consistent.
func (c *Config) Validate() error {
	if c.CommitMaxAttempts < 1 {
		return fmt.Errorf("commit_max_attempts must be at least 1, got %d", c.CommitMaxAttempts)
	}
	if c.ClearingMaxDepth < 3 || c.ClearingMaxDepth > 4 {
		return fmt.Errorf("clearing_max_depth must be 3 or 4, got %d", c.ClearingMaxDepth)
	}
	if c.PrepareLockTTL <= 0 {
		return fmt.Errorf("prepare_lock_ttl must be positive, got %v", c.PrepareLockTTL)
	}
	if c.RecoveryInterval <= 0 {
		return fmt.Errorf("recovery_interval must be positive, got %v", c.RecoveryInterval)
	}
	if c.MaxRouteSegments < 1 {
		return fmt.Errorf("max_route_segments must be at least 1, got %d", c.MaxRouteSegments)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool { return c.Env == "production" }
