package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralflukner/devcomm/broker"
	buserr "github.com/ralflukner/devcomm/errors"
)

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()
	limiter, err := New(Config{Broker: mem, Limit: 100})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Check(ctx, "claude"), "send %d should pass", i+1)
	}

	err = limiter.Check(ctx, "claude")
	require.Error(t, err)
	assert.True(t, buserr.Is(err, buserr.CodeRateLimited))
}

func TestLimiter_WindowRollover(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()
	now := time.Now()
	mem.SetClock(func() time.Time { return now })

	limiter, err := New(Config{Broker: mem, Limit: 2, Window: time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, limiter.Check(ctx, "claude"))
	require.NoError(t, limiter.Check(ctx, "claude"))
	require.Error(t, limiter.Check(ctx, "claude"))

	now = now.Add(time.Hour + time.Minute)

	assert.NoError(t, limiter.Check(ctx, "claude"), "new window must reset the counter")
}

func TestLimiter_PerAgentCounters(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()
	limiter, err := New(Config{Broker: mem, Limit: 1})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, limiter.Check(ctx, "claude"))
	require.Error(t, limiter.Check(ctx, "claude"))

	assert.NoError(t, limiter.Check(ctx, "gemini"), "agents have independent windows")
}

func TestLimiter_ErrorCarriesCount(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()
	limiter, err := New(Config{Broker: mem, Limit: 1})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, limiter.Check(ctx, "claude"))
	err = limiter.Check(ctx, "claude")
	require.Error(t, err)

	var be *buserr.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "2", be.Metadata()["count"])
	assert.True(t, be.Retryable(), "resource errors may succeed after the window")
}

func TestNew_RequiresBroker(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
