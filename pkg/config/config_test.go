package config_test

import (
	"testing"

	"github.com/clasper-io/clasper/pkg/config"
	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: System must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	// Ensure clean env
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("POLICY_PATH", "")
	t.Setenv("DEV_NO_AUTH", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "clasper.db", cfg.DBPath) // Default is a local file
	assert.False(t, cfg.DevNoAuth)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: Ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DB_PATH", "postgres://production:5432/db")
	t.Setenv("POLICY_PATH", "/etc/clasper/policies")
	t.Setenv("DEV_NO_AUTH", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://production:5432/db", cfg.DBPath)
	assert.True(t, cfg.DevNoAuth)
	assert.Equal(t, "/etc/clasper/policies", cfg.PolicyPath)
}
