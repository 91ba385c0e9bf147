// Package lock provides distributed, TTL-bound task claims.
//
// A claim is mutual exclusion per task id, enforced by the broker's atomic
// set-if-absent. Expiry is the release mechanism: there is no renewal, so a
// task that outlives its claim duration silently loses the lock. Callers
// that need longer holds must claim with a longer duration up front.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/ralflukner/devcomm/broker"
	"github.com/ralflukner/devcomm/message"
)

// Common errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Defaults.
const (
	// DefaultDuration bounds a claim when the caller passes none.
	DefaultDuration = 300 * time.Second

	// DefaultKeyPrefix is the broker keyspace for lock records.
	DefaultKeyPrefix = "dev:locks:task:"

	// ClaimedAction names the broadcast event on a successful claim.
	ClaimedAction = "task_claimed"
)

// Record is the value held under a lock key.
type Record struct {
	Owner      string `json:"owner"`
	AcquiredAt string `json:"acquired_at"`
	Duration   int    `json:"duration"`
}

// Broadcaster announces claim outcomes to the team. *bus.Sender satisfies it.
type Broadcaster interface {
	Broadcast(ctx context.Context, d message.Draft) error
}

// Config configures a Manager.
type Config struct {
	// Broker mediates the atomic claim.
	Broker broker.Broker

	// Owner identifies this agent in lock records.
	Owner string

	// Broadcaster, if set, announces successful claims. Optional.
	Broadcaster Broadcaster

	// KeyPrefix namespaces the lock records.
	// Default: "dev:locks:task:"
	KeyPrefix string

	// Logger for broadcast failures. Default: no-op.
	Logger zerolog.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Broker == nil || c.Owner == "" {
		return ErrInvalidConfig
	}
	return nil
}

// Manager claims task locks on behalf of one owner.
type Manager struct {
	broker    broker.Broker
	owner     string
	announcer Broadcaster
	prefix    string
	log       zerolog.Logger
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Manager{
		broker:    cfg.Broker,
		owner:     cfg.Owner,
		announcer: cfg.Broadcaster,
		prefix:    cfg.KeyPrefix,
		log:       cfg.Logger,
	}, nil
}

// Claim attempts to take the lock for taskID, expiring after duration.
// Returns (true, "", nil) on success. On contention it returns
// (false, currentOwner, nil): losing a claim is a normal outcome, not an
// error. The loser must not assume an immediate retry will succeed; the lock
// holds until its TTL lapses.
func (m *Manager) Claim(ctx context.Context, taskID string, duration time.Duration) (bool, string, error) {
	if duration <= 0 {
		duration = DefaultDuration
	}

	rec := Record{
		Owner:      m.owner,
		AcquiredAt: time.Now().UTC().Format(time.RFC3339),
		Duration:   int(duration.Seconds()),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, "", err
	}

	acquired, err := m.broker.SetIfAbsent(ctx, m.prefix+taskID, string(data), duration)
	if err != nil {
		return false, "", err
	}

	if !acquired {
		owner, err := m.Owner(ctx, taskID)
		if err != nil {
			return false, "", err
		}
		return false, owner, nil
	}

	if m.announcer != nil {
		d := message.Draft{
			Sender:   m.owner,
			To:       message.Broadcast,
			Type:     message.TypeStatus,
			Priority: message.PriorityNormal,
			Action:   ClaimedAction,
			Subject:  fmt.Sprintf("task %s claimed", taskID),
			Body:     fmt.Sprintf("%s claimed task %s for %s", m.owner, taskID, duration),
			Payload:  map[string]string{"task_id": taskID, "owner": m.owner},
		}
		if err := m.announcer.Broadcast(ctx, d); err != nil {
			// The claim stands; the announcement is best effort.
			m.log.Warn().Err(err).Str("task", taskID).Msg("claim broadcast failed")
		}
	}
	return true, "", nil
}

// Owner reports who currently holds the lock for taskID, if anyone.
func (m *Manager) Owner(ctx context.Context, taskID string) (string, error) {
	val, ok, err := m.broker.Get(ctx, m.prefix+taskID)
	if err != nil || !ok {
		return "", err
	}
	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return "", err
	}
	return rec.Owner, nil
}
