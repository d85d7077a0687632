package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test-missing")
	require.NoError(t, Load())

	cfg := GlobalConfig
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "/api", cfg.APIPrefix)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 5, cfg.MaxLoginAttempts)
	assert.Equal(t, 2*time.Hour, cfg.LockDuration)
	assert.Equal(t, "@every 60s", cfg.EscalationSchedule)
	assert.Equal(t, time.Minute, cfg.OverdueInterval)
	assert.False(t, cfg.WSEnableCluster)
	assert.Empty(t, cfg.BackupSchedule)
	assert.Equal(t, 7, cfg.BackupKeep)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test-missing")
	t.Setenv("ADDR", ":9999")
	t.Setenv("MAX_LOGIN_ATTEMPTS", "3")
	t.Setenv("LOCK_DURATION", "30m")
	t.Setenv("WEBSOCKET_ENABLE_CLUSTER", "true")
	require.NoError(t, Load())

	cfg := GlobalConfig
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, 3, cfg.MaxLoginAttempts)
	assert.Equal(t, 30*time.Minute, cfg.LockDuration)
	assert.True(t, cfg.WSEnableCluster)
}
