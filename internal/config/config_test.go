package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.False(t, cfg.Server.Development())
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 100, cfg.RateLimit.Tiers["free"].Requests)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Tiers["free"].Window())
	assert.Equal(t, "audit_events", cfg.Redis.AuditListKey)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FLUXGATE_SERVER_PORT", "9090")
	t.Setenv("FLUXGATE_SERVER_ENVIRONMENT", "Development")
	t.Setenv("FLUXGATE_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("FLUXGATE_DATABASE_DSN", "postgres://localhost/fluxgate")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.Server.Development())
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres://localhost/fluxgate", cfg.Database.DSN)
}
