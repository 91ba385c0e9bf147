// Package ratelimit enforces a per-agent fixed-window cap on outbound
// messages. The limiter is advisory-blocking: it rejects, it never queues
// or delays.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ralflukner/devcomm/broker"
	buserr "github.com/ralflukner/devcomm/errors"
)

// Common errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Defaults.
const (
	// DefaultLimit is the message cap per agent per window.
	DefaultLimit = 100

	// DefaultWindow is the fixed counting window.
	DefaultWindow = time.Hour

	// DefaultKeyPrefix is the broker keyspace for window counters.
	DefaultKeyPrefix = "dev:ratelimit:"
)

// Config configures a Limiter.
type Config struct {
	// Broker mediates the atomic counter.
	Broker broker.Broker

	// Limit is the maximum sends per window.
	// Default: 100
	Limit int64

	// Window is the counting window; the counter expires at window end.
	// Default: 1 hour
	Window time.Duration

	// KeyPrefix namespaces the counters.
	// Default: "dev:ratelimit:"
	KeyPrefix string
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Broker == nil {
		return ErrInvalidConfig
	}
	return nil
}

// Limiter is a fixed-window counter over the broker's atomic increment.
type Limiter struct {
	broker broker.Broker
	limit  int64
	window time.Duration
	prefix string
}

// New creates a Limiter.
func New(cfg Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Limiter{
		broker: cfg.Broker,
		limit:  cfg.Limit,
		window: cfg.Window,
		prefix: cfg.KeyPrefix,
	}, nil
}

// Check counts one send for the agent and rejects when the post-increment
// count exceeds the limit. The caller must back off; the limiter does not.
func (l *Limiter) Check(ctx context.Context, agentID string) error {
	n, err := l.broker.IncrWithExpiry(ctx, l.prefix+agentID, l.window)
	if err != nil {
		return err
	}
	if n > l.limit {
		return buserr.New(buserr.CodeRateLimited,
			fmt.Sprintf("%s exceeded rate limit (%d per %s)", agentID, l.limit, l.window),
			buserr.WithMetadata("count", strconv.FormatInt(n, 10)))
	}
	return nil
}
