package broker

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed = errors.New("broker closed")
)

// Cursor sentinels for channel reads.
const (
	// CursorStart addresses the oldest entry in a channel.
	CursorStart = "-"

	// CursorEnd addresses the newest entry in a channel.
	CursorEnd = "+"

	// CursorNew makes a blocking read deliver only entries appended after the
	// call starts.
	CursorNew = "$"
)

// Entry is one appended record in a channel.
type Entry struct {
	// ID is the broker-assigned entry id. Opaque to callers; ids within one
	// channel are monotonically increasing and usable as cursors.
	ID string

	// Fields is the flat field map given to Append.
	Fields map[string]string
}

// ChannelEntries groups the entries a blocking read returned per channel.
type ChannelEntries struct {
	Channel string
	Entries []Entry
}

// Broker is the external log/KV service contract.
type Broker interface {
	// Append adds an entry to a channel and returns its id. A positive maxLen
	// allows the broker to trim the channel to approximately that many
	// entries.
	Append(ctx context.Context, channel string, fields map[string]string, maxLen int64) (string, error)

	// Range reads entries with from <= id <= to in ascending order, at most
	// count. CursorStart and CursorEnd address the channel boundaries.
	Range(ctx context.Context, channel, from, to string, count int64) ([]Entry, error)

	// RevRange reads the newest count entries in descending order.
	RevRange(ctx context.Context, channel string, count int64) ([]Entry, error)

	// BlockingRead waits up to block for entries with id > from[i] on any of
	// the channels. from[i] == CursorNew means only entries appended after the
	// call. Returns nil on timeout, not an error.
	BlockingRead(ctx context.Context, channels []string, from []string, block time.Duration, count int64) ([]ChannelEntries, error)

	// EnsureGroup creates a consumer group on a channel. Idempotent: a group
	// that already exists is success.
	EnsureGroup(ctx context.Context, channel, group string) error

	// GroupRead claims up to count entries not yet delivered to the group,
	// on behalf of consumer, waiting up to block. Claimed entries are pending
	// until acknowledged. Returns nil on timeout.
	GroupRead(ctx context.Context, channel, group, consumer string, count int64, block time.Duration) ([]Entry, error)

	// Ack acknowledges a claimed entry so it is not redelivered.
	Ack(ctx context.Context, channel, group, id string) error

	// SetIfAbsent atomically sets key to value with a TTL if the key does not
	// exist. Returns true if the key was set.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set unconditionally sets key to value with a TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get reads a key. The second result is false if the key does not exist
	// or has expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// IncrWithExpiry atomically increments a counter key and returns the new
	// value. The first increment in a window starts the expiry clock.
	IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error)

	// ScanPrefix lists all live keys with the given prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// Expire sets a TTL on an existing key. Missing keys are a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Close releases the underlying connection.
	Close() error
}
