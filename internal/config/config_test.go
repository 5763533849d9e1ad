package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultClearingMaxDepth, cfg.ClearingMaxDepth)
	assert.Equal(t, DefaultCommitMaxAttempts, cfg.CommitMaxAttempts)
	assert.True(t, cfg.MultipathEnabled)
	assert.True(t, cfg.ClearingEnabled)
	assert.False(t, cfg.FullMultipathEnabled)
}

func TestLoad_EnvOverride(t *testing.T) {
	setEnv(t, "GEOLEDGER_ENV", "production")
	setEnv(t, "GEOLEDGER_CLEARING_MAX_DEPTH", "3")
	setEnv(t, "GEOLEDGER_CLEARING_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, 3, cfg.ClearingMaxDepth)
	assert.False(t, cfg.ClearingEnabled)
	assert.True(t, cfg.IsProduction())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				CommitMaxAttempts: 3,
				ClearingMaxDepth:  4,
				PrepareLockTTL:    time.Second,
				RecoveryInterval:  time.Second,
				MaxRouteSegments:  4,
			},
			wantErr: "",
		},
		{
			name: "zero commit attempts",
			config: Config{
				CommitMaxAttempts: 0,
				ClearingMaxDepth:  4,
				PrepareLockTTL:    time.Second,
				RecoveryInterval:  time.Second,
				MaxRouteSegments:  4,
			},
			wantErr: "commit_max_attempts",
		},
		{
			name: "invalid clearing depth",
			config: Config{
				CommitMaxAttempts: 3,
				ClearingMaxDepth:  5,
				PrepareLockTTL:    time.Second,
				RecoveryInterval:  time.Second,
				MaxRouteSegments:  4,
			},
			wantErr: "clearing_max_depth",
		},
		{
			name: "zero prepare lock ttl",
			config: Config{
				CommitMaxAttempts: 3,
				ClearingMaxDepth:  4,
				PrepareLockTTL:    0,
				RecoveryInterval:  time.Second,
				MaxRouteSegments:  4,
			},
			wantErr: "prepare_lock_ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}
