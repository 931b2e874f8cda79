package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.PullMode)
	assert.Equal(t, 8, cfg.MaxConcurrentJobs)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)
	assert.Equal(t, time.Minute, cfg.LockTTL)
	assert.Equal(t, "push", cfg.Mode())
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATABASE_URL", "postgres://worker:secret@db:5432/worker")
	t.Setenv("BROKER_PROJECT", "proj-1")
	t.Setenv("BROKER_SUBSCRIPTION", "jobs-sub")
	t.Setenv("PULL_MODE", "true")
	t.Setenv("MAX_CONCURRENT_JOBS", "16")
	t.Setenv("JOB_TIMEOUT", "45s")
	t.Setenv("LOCK_TTL", "2m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "postgres://worker:secret@db:5432/worker", cfg.DatabaseURL)
	assert.Equal(t, "proj-1", cfg.BrokerProject)
	assert.Equal(t, "jobs-sub", cfg.BrokerSubscription)
	assert.True(t, cfg.PullMode)
	assert.Equal(t, "pull", cfg.Mode())
	assert.Equal(t, 16, cfg.MaxConcurrentJobs)
	assert.Equal(t, 45*time.Second, cfg.JobTimeout)
	assert.Equal(t, 2*time.Minute, cfg.LockTTL)
}

func TestLoadRejectsLockTTLBelowJobTimeout(t *testing.T) {
	t.Setenv("JOB_TIMEOUT", "5m")
	t.Setenv("LOCK_TTL", "1m")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOCK_TTL")
}
