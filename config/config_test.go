package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "dev:", cfg.ChannelPrefix)
	assert.Equal(t, 3, cfg.Send.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Send.Backoff())
	assert.Equal(t, 4096, cfg.Send.MaxMessageBytes)
	assert.EqualValues(t, 1000, cfg.Send.StreamMaxLen)
	assert.Equal(t, 5*time.Second, cfg.Listen.Block())
	assert.Equal(t, "repliers", cfg.Listen.Group)
	assert.Equal(t, 60*time.Second, cfg.Dedup.Window())
	assert.Equal(t, 5*time.Minute, cfg.Presence.TTL())
	assert.Equal(t, 4*time.Minute, cfg.Presence.Refresh())
	assert.Equal(t, 5*time.Minute, cfg.Lock.Duration())
	assert.EqualValues(t, 100, cfg.RateLimit.Limit)
	assert.Equal(t, time.Hour, cfg.RateLimit.Window())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devcomm.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent_id = "claude"
capabilities = ["review", "devcomm"]
redis_url = "redis://broker:6379/1"

[send]
max_attempts = 5

[rate_limit]
limit = 20
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.AgentID)
	assert.Equal(t, []string{"review", "devcomm"}, cfg.Capabilities)
	assert.Equal(t, "redis://broker:6379/1", cfg.RedisURL)
	assert.Equal(t, 5, cfg.Send.MaxAttempts)
	assert.EqualValues(t, 20, cfg.RateLimit.Limit)

	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.Send.BackoffSeconds)
	assert.Equal(t, "repliers", cfg.Listen.Group)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devcomm.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent_id = "claude"
redis_url = "redis://from-file:6379"
`), 0o644))

	t.Setenv(EnvAgentID, "gemini")
	t.Setenv(EnvRedisURL, "redis://from-env:6379")
	t.Setenv(EnvChannelPrefix, "team:")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.AgentID)
	assert.Equal(t, "redis://from-env:6379", cfg.RedisURL)
	assert.Equal(t, "team:", cfg.ChannelPrefix)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_NoFileNeedsAgentFromEnv(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrAgentIDRequired)

	t.Setenv(EnvAgentID, "claude")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.AgentID)
}

func TestLoad_MissingNamedFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.AgentID = "claude"
	cfg.Send.MaxAttempts = 0
	assert.ErrorContains(t, cfg.Validate(), "send.max_attempts")

	cfg = Default()
	cfg.AgentID = "claude"
	cfg.Presence.RefreshSeconds = 400
	assert.ErrorContains(t, cfg.Validate(), "refresh_seconds")
}
