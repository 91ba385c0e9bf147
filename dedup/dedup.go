// Package dedup suppresses re-delivery of identical messages within a short
// window, guarding against sender-side retry duplication. Application-level
// re-sends carry fresh ids and hashes and pass through untouched.
package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/ralflukner/devcomm/broker"
	"github.com/ralflukner/devcomm/message"
)

// Common errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// DefaultWindow is how long an admitted hash blocks re-admission.
const DefaultWindow = 60 * time.Second

// DefaultKeyPrefix is the broker keyspace for admission markers.
const DefaultKeyPrefix = "dev:dedup:"

// Config configures a Gate.
type Config struct {
	// Broker mediates the atomic set-if-absent.
	Broker broker.Broker

	// Window is the suppression interval.
	// Default: 60 seconds
	Window time.Duration

	// KeyPrefix namespaces the admission markers. Listeners that deduplicate
	// on receipt use a per-agent prefix so they do not collide with the
	// send-side gate.
	// Default: "dev:dedup:"
	KeyPrefix string
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Broker == nil {
		return ErrInvalidConfig
	}
	return nil
}

// Gate is the admission control for duplicate messages.
type Gate struct {
	broker broker.Broker
	window time.Duration
	prefix string
}

// New creates a Gate.
func New(cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Gate{broker: cfg.Broker, window: cfg.Window, prefix: cfg.KeyPrefix}, nil
}

// Admit reports whether the message should be delivered. The first call for
// a given content hash within the window wins; later calls are suppressed.
// A suppressed message is a normal outcome, not an error.
func (g *Gate) Admit(ctx context.Context, m *message.Message) (bool, error) {
	return g.broker.SetIfAbsent(ctx, g.prefix+m.Hash, "1", g.window)
}
