package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralflukner/devcomm/broker"
	"github.com/ralflukner/devcomm/message"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	drafts []message.Draft
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, d message.Draft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts = append(r.drafts, d)
	return nil
}

func (r *recordingBroadcaster) sent() []message.Draft {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Draft(nil), r.drafts...)
}

func newManager(t *testing.T, b broker.Broker, owner string, bc Broadcaster) *Manager {
	t.Helper()
	m, err := New(Config{Broker: b, Owner: owner, Broadcaster: bc})
	require.NoError(t, err)
	return m
}

func TestClaim_FirstOwnerWins(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	bc := &recordingBroadcaster{}
	claude := newManager(t, mem, "claude", bc)
	gemini := newManager(t, mem, "gemini", nil)

	ok, owner, err := claude.Claim(ctx, "T1", 300*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, owner)

	ok, owner, err = gemini.Claim(ctx, "T1", 300*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "claude", owner, "loser learns the winning owner")

	drafts := bc.sent()
	require.Len(t, drafts, 1)
	assert.Equal(t, ClaimedAction, drafts[0].Action)
	assert.Equal(t, "T1", drafts[0].Payload["task_id"])
}

func TestClaim_ConcurrentExactlyOneWinner(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	owners := []string{"claude", "gemini", "cursor", "o3-max"}
	results := make([]bool, len(owners))

	var wg sync.WaitGroup
	for i, owner := range owners {
		wg.Add(1)
		go func(i int, owner string) {
			defer wg.Done()
			m := newManager(t, mem, owner, nil)
			ok, _, err := m.Claim(ctx, "T1", 300*time.Second)
			assert.NoError(t, err)
			results[i] = ok
		}(i, owner)
	}
	wg.Wait()

	winners := 0
	for _, ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent claimer must win")
}

func TestClaim_ExpiryReleasesLock(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()
	now := time.Now()
	mem.SetClock(func() time.Time { return now })
	ctx := context.Background()

	claude := newManager(t, mem, "claude", nil)
	gemini := newManager(t, mem, "gemini", nil)

	ok, _, err := claude.Claim(ctx, "T1", 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Before expiry the lock holds.
	ok, owner, err := gemini.Claim(ctx, "T1", 300*time.Second)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "claude", owner)

	// Past expiry the task is claimable again; there is no renewal.
	now = now.Add(301 * time.Second)
	ok, _, err = gemini.Claim(ctx, "T1", 300*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaim_DefaultDuration(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	claude := newManager(t, mem, "claude", nil)
	ok, _, err := claude.Claim(ctx, "T1", 0)
	require.NoError(t, err)
	require.True(t, ok)

	owner, err := claude.Owner(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "claude", owner)
}

func TestOwner_UnclaimedTask(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()

	claude := newManager(t, mem, "claude", nil)
	owner, err := claude.Owner(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestNew_RequiresBrokerAndOwner(t *testing.T) {
	_, err := New(Config{Owner: "claude"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{Broker: broker.NewMemory()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
