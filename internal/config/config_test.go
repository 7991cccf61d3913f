package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("ENGAGEMENT_PG_PASSWORD", "s3cret")
	path := writeConfig(t, `
server:
  port: 9090
postgres:
  password: ${ENGAGEMENT_PG_PASSWORD}
engine:
  timezone: America/Chicago
  enforce_daily_limits: true
  max_attempts: 3
leaderboard:
  periods: [all_time, weekly]
storage:
  driver: memory
  index: redis
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Postgres.Password)
	assert.True(t, cfg.Engine.EnforceDailyLimits)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, []string{"all_time", "weekly"}, cfg.Leaderboard.Periods)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, IndexRedis, cfg.Storage.Index)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())

	// untouched sections fall back to defaults
	assert.Equal(t, "engagement-actions", cfg.Kafka.Topic)
	assert.Equal(t, 100, cfg.Leaderboard.DefaultLimit)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.RetryInitialInterval)
	assert.True(t, cfg.Sync.Enabled)

	loc, err := cfg.Engine.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", loc.String())
}

func TestLoad_SyncDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, "sync:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Sync.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Sync.Interval)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		_, err := Load(writeConfig(t, "storage:\n  driver: cassandra\n"))
		assert.ErrorContains(t, err, "cassandra")
	})

	t.Run("BadYAML", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [\n"))
		assert.Error(t, err)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, IndexMemory, cfg.Storage.Index)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, []string{"all_time", "weekly", "monthly"}, cfg.Leaderboard.Periods)
	assert.NoError(t, cfg.Storage.Validate())

	loc, err := cfg.Engine.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestEngineConfig_BadTimezone(t *testing.T) {
	cfg := EngineConfig{Timezone: "Mars/Olympus_Mons"}
	_, err := cfg.Location()
	assert.Error(t, err)
}

func TestLogConfig_SlogLevel(t *testing.T) {
	for level, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		cfg := LogConfig{Level: level}
		assert.Equal(t, want, cfg.SlogLevel(), level)
	}
}
