package bus

import (
	"context"
	"time"
)

// Backoff defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 2 * time.Second
)

// Backoff is an exponential retry policy. The zero value means "use the
// defaults"; tests inject a small Base to keep retries fast.
type Backoff struct {
	// MaxAttempts bounds delivery attempts per channel.
	// Default: 3
	MaxAttempts int

	// Base is the first retry delay; attempt n waits Base·2^n.
	// Default: 2 seconds
	Base time.Duration
}

func (b Backoff) attempts() int {
	if b.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return b.MaxAttempts
}

func (b Backoff) base() time.Duration {
	if b.Base <= 0 {
		return DefaultBackoffBase
	}
	return b.Base
}

// delay returns the wait before retrying after the given zero-based failed
// attempt.
func (b Backoff) delay(attempt int) time.Duration {
	return b.base() << attempt
}

// sleep waits out a retry delay, cut short by context cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
