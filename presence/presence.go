// Package presence provides agent liveness tracking over TTL-bound broker
// keys.
//
// Each agent refreshes its own presence record before the TTL lapses; there
// is no explicit leave. A crashed agent disappears when its record expires,
// so absence is detected within one TTL period, never instantly.
package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/ralflukner/devcomm/broker"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("presence tracker already started")
	ErrNotStarted     = errors.New("presence tracker not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Defaults.
const (
	// DefaultTTL bounds how stale a presence record can get.
	DefaultTTL = 5 * time.Minute

	// DefaultInterval refreshes the record before the TTL lapses.
	DefaultInterval = 4 * time.Minute

	// DefaultKeyPrefix is the broker keyspace for presence records.
	DefaultKeyPrefix = "dev:presence:"

	// DefaultStatus is the initial advertised status.
	DefaultStatus = "online"
)

// Record is one agent's liveness announcement.
type Record struct {
	AgentID      string   `json:"agent"`
	Capabilities []string `json:"capabilities,omitempty"`
	Status       string   `json:"status"`
	LastSeen     string   `json:"timestamp"`
}

// Config configures a Tracker.
type Config struct {
	// Broker stores the TTL-bound records.
	Broker broker.Broker

	// AgentID identifies this agent.
	AgentID string

	// Capabilities advertised in the record.
	Capabilities []string

	// TTL for the record; should exceed Interval.
	// Default: 5 minutes
	TTL time.Duration

	// Interval between refreshes.
	// Default: 4 minutes
	Interval time.Duration

	// KeyPrefix namespaces the records.
	// Default: "dev:presence:"
	KeyPrefix string

	// Logger for refresh failures. Default: no-op.
	Logger zerolog.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Broker == nil || c.AgentID == "" {
		return ErrInvalidConfig
	}
	return nil
}

// Tracker announces and refreshes one agent's presence.
type Tracker struct {
	broker       broker.Broker
	agentID      string
	capabilities []string
	ttl          time.Duration
	interval     time.Duration
	prefix       string
	log          zerolog.Logger

	mu     sync.RWMutex
	status string

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Tracker.
func New(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Tracker{
		broker:       cfg.Broker,
		agentID:      cfg.AgentID,
		capabilities: cfg.Capabilities,
		ttl:          cfg.TTL,
		interval:     cfg.Interval,
		prefix:       cfg.KeyPrefix,
		log:          cfg.Logger,
		status:       DefaultStatus,
	}, nil
}

// Start announces immediately and then refreshes on every interval tick
// until Stop or context cancellation.
func (t *Tracker) Start(ctx context.Context) error {
	if t.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})

	if err := t.Announce(ctx); err != nil {
		t.log.Warn().Err(err).Str("agent", t.agentID).Msg("initial presence announce failed")
	}

	go t.run(ctx)
	return nil
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.running.Store(false)
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			if err := t.Announce(ctx); err != nil {
				t.log.Warn().Err(err).Str("agent", t.agentID).Msg("presence refresh failed")
			}
		}
	}
}

// Announce writes the presence record with the configured TTL.
func (t *Tracker) Announce(ctx context.Context) error {
	t.mu.RLock()
	rec := Record{
		AgentID:      t.agentID,
		Capabilities: t.capabilities,
		Status:       t.status,
		LastSeen:     time.Now().UTC().Format(time.RFC3339),
	}
	t.mu.RUnlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return t.broker.Set(ctx, t.prefix+t.agentID, string(data), t.ttl)
}

// SetStatus updates the advertised status; it takes effect on the next
// announce.
func (t *Tracker) SetStatus(status string) {
	t.mu.Lock()
	t.status = status
	t.mu.Unlock()
}

// Stop halts refreshing. The record is left to expire on its own.
func (t *Tracker) Stop() error {
	if !t.running.Swap(false) {
		return ErrNotStarted
	}
	close(t.stopCh)
	<-t.doneCh
	return nil
}

// ListOnline scans all live presence records.
func ListOnline(ctx context.Context, b broker.Broker, keyPrefix string) ([]Record, error) {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	keys, err := b.ScanPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, key := range keys {
		val, ok, err := b.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // expired between scan and get
		}
		var rec Record
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
