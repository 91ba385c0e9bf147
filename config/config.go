// Package config loads bus configuration from a TOML file with environment
// overrides. Precedence, lowest to highest: built-in defaults, file, then
// DEVCOMM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variable overrides.
const (
	EnvAgentID       = "DEVCOMM_AGENT_ID"
	EnvRedisURL      = "DEVCOMM_REDIS_URL"
	EnvChannelPrefix = "DEVCOMM_CHANNEL_PREFIX"
	EnvLogLevel      = "DEVCOMM_LOG_LEVEL"
)

// ErrAgentIDRequired means no agent identity was configured anywhere.
var ErrAgentIDRequired = errors.New("agent_id required: set it in the config file or " + EnvAgentID)

// Config is the full bus configuration for one agent process.
type Config struct {
	// AgentID identifies this agent on the bus.
	AgentID string `toml:"agent_id"`

	// Capabilities advertised in the presence record.
	Capabilities []string `toml:"capabilities"`

	// RedisURL locates the broker, e.g. "redis://localhost:6379/0".
	RedisURL string `toml:"redis_url"`

	// ChannelPrefix roots the broker keyspace.
	ChannelPrefix string `toml:"channel_prefix"`

	// LogLevel is the minimum log severity.
	LogLevel string `toml:"log_level"`

	Send      Send      `toml:"send"`
	Listen    Listen    `toml:"listen"`
	Dedup     Dedup     `toml:"dedup"`
	Presence  Presence  `toml:"presence"`
	Lock      Lock      `toml:"lock"`
	RateLimit RateLimit `toml:"rate_limit"`
}

// Send tunes delivery.
type Send struct {
	// MaxAttempts per channel before the message is journaled.
	MaxAttempts int `toml:"max_attempts"`

	// BackoffSeconds is the first retry delay; it doubles per attempt.
	BackoffSeconds int `toml:"backoff_seconds"`

	// MaxMessageBytes caps the serialized message size.
	MaxMessageBytes int `toml:"max_message_bytes"`

	// StreamMaxLen bounds broadcast and inbox channels.
	StreamMaxLen int64 `toml:"stream_max_len"`

	// JournalPath is the fallback file for undeliverable messages.
	JournalPath string `toml:"journal_path"`
}

// Listen tunes consumption.
type Listen struct {
	// BlockSeconds is the per-read wait for new entries in direct mode.
	BlockSeconds int `toml:"block_seconds"`

	// Group is the consumer group name in group mode.
	Group string `toml:"group"`
}

// Dedup tunes duplicate suppression.
type Dedup struct {
	WindowSeconds int `toml:"window_seconds"`
}

// Presence tunes liveness tracking.
type Presence struct {
	TTLSeconds     int `toml:"ttl_seconds"`
	RefreshSeconds int `toml:"refresh_seconds"`
}

// Lock tunes task claims.
type Lock struct {
	DurationSeconds int `toml:"duration_seconds"`
}

// RateLimit tunes per-agent send caps.
type RateLimit struct {
	Limit         int64 `toml:"limit"`
	WindowSeconds int   `toml:"window_seconds"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RedisURL:      "redis://localhost:6379/0",
		ChannelPrefix: "dev:",
		LogLevel:      "info",
		Send: Send{
			MaxAttempts:     3,
			BackoffSeconds:  2,
			MaxMessageBytes: 4096,
			StreamMaxLen:    1000,
			JournalPath:     "devcomm_failed_messages.jsonl",
		},
		Listen: Listen{
			BlockSeconds: 5,
			Group:        "repliers",
		},
		Dedup:     Dedup{WindowSeconds: 60},
		Presence:  Presence{TTLSeconds: 300, RefreshSeconds: 240},
		Lock:      Lock{DurationSeconds: 300},
		RateLimit: RateLimit{Limit: 100, WindowSeconds: 3600},
	}
}

// Load reads the file at path on top of the defaults, then applies
// environment overrides. An empty path skips the file; a named file must
// exist.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAgentID); v != "" {
		c.AgentID = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv(EnvChannelPrefix); v != "" {
		c.ChannelPrefix = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return ErrAgentIDRequired
	}
	if c.RedisURL == "" {
		return errors.New("redis_url required")
	}
	positives := []struct {
		name  string
		value int64
	}{
		{"send.max_attempts", int64(c.Send.MaxAttempts)},
		{"send.max_message_bytes", int64(c.Send.MaxMessageBytes)},
		{"send.stream_max_len", c.Send.StreamMaxLen},
		{"listen.block_seconds", int64(c.Listen.BlockSeconds)},
		{"dedup.window_seconds", int64(c.Dedup.WindowSeconds)},
		{"presence.ttl_seconds", int64(c.Presence.TTLSeconds)},
		{"presence.refresh_seconds", int64(c.Presence.RefreshSeconds)},
		{"lock.duration_seconds", int64(c.Lock.DurationSeconds)},
		{"rate_limit.limit", c.RateLimit.Limit},
		{"rate_limit.window_seconds", int64(c.RateLimit.WindowSeconds)},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}
	if c.Presence.RefreshSeconds >= c.Presence.TTLSeconds {
		return errors.New("presence.refresh_seconds must be below presence.ttl_seconds")
	}
	return nil
}

// Duration accessors.

func (s Send) Backoff() time.Duration { return time.Duration(s.BackoffSeconds) * time.Second }

func (l Listen) Block() time.Duration { return time.Duration(l.BlockSeconds) * time.Second }

func (d Dedup) Window() time.Duration { return time.Duration(d.WindowSeconds) * time.Second }

func (p Presence) TTL() time.Duration { return time.Duration(p.TTLSeconds) * time.Second }

func (p Presence) Refresh() time.Duration { return time.Duration(p.RefreshSeconds) * time.Second }

func (l Lock) Duration() time.Duration { return time.Duration(l.DurationSeconds) * time.Second }

func (r RateLimit) Window() time.Duration { return time.Duration(r.WindowSeconds) * time.Second }
