package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralflukner/devcomm/broker"
	"github.com/ralflukner/devcomm/message"
)

func testCorrelator(t *testing.T, mem *broker.Memory, agentID string) *Correlator {
	t.Helper()
	c, err := NewCorrelator(CorrelatorConfig{
		Broker:  mem,
		AgentID: agentID,
		Sender:  testSender(t, mem),
	})
	require.NoError(t, err)
	return c
}

func TestCorrelator_RequestResponse(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()

	disp := startDispatcher(t, mem, "claude")
	disp.Register("ping", func(_ context.Context, m *message.Message) (*message.Draft, error) {
		return &message.Draft{Action: "pong", Body: "pong"}, nil
	})

	corr := testCorrelator(t, mem, "gemini")
	resp, err := corr.Request(context.Background(), "claude", message.Draft{Action: "ping", Body: "ping"}, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, "pong", resp.Action)
	assert.Equal(t, message.TypeResponse, resp.Type)
	assert.Equal(t, "claude", resp.Sender)
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestCorrelator_TimeoutIsNotAnError(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()

	corr := testCorrelator(t, mem, "gemini")
	resp, err := corr.Request(context.Background(), "nobody", message.Draft{Action: "ping", Body: "ping"}, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, resp, "an unanswered request times out quietly")
}

func TestCorrelator_IgnoresUnrelatedInboxTraffic(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()
	noise := testSender(t, mem)

	disp := startDispatcher(t, mem, "claude")
	disp.Register("ping", func(ctx context.Context, m *message.Message) (*message.Draft, error) {
		// Unrelated chatter lands in the requester's inbox first.
		_, _, err := noise.SendTo(ctx, m.Sender, testDraft("claude", "", "unrelated"))
		assert.NoError(t, err)
		return &message.Draft{Action: "pong", Body: "the answer"}, nil
	})

	corr := testCorrelator(t, mem, "gemini")
	resp, err := corr.Request(context.Background(), "claude", message.Draft{Action: "ping", Body: "ping"}, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "the answer", resp.Body)
}

func TestCorrelator_SeesResponseSentBeforePolling(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()

	// A dispatcher with a tiny block interval can reply before the
	// requester's first poll; the pre-send cursor snapshot must cover that.
	disp := startDispatcher(t, mem, "claude")
	disp.Register("ping", func(context.Context, *message.Message) (*message.Draft, error) {
		return &message.Draft{Action: "pong", Body: "fast"}, nil
	})

	corr := testCorrelator(t, mem, "gemini")
	for i := 0; i < 5; i++ {
		resp, err := corr.Request(context.Background(), "claude", message.Draft{Action: "ping", Body: "ping"}, 2*time.Second)
		require.NoError(t, err)
		require.NotNil(t, resp, "request %d lost its response", i)
	}
}

func TestCorrelator_Respond(t *testing.T) {
	mem := broker.NewMemory()
	defer mem.Close()

	req, err := message.Build(message.Draft{
		Sender:        "gemini",
		To:            "claude",
		Type:          message.TypeRequest,
		Action:        "ping",
		Body:          "ping",
		CorrelationID: message.NewCorrelationID("gemini"),
	})
	require.NoError(t, err)

	corr := testCorrelator(t, mem, "claude")
	resp, err := corr.Respond(context.Background(), req, message.Draft{Body: "pong"})
	require.NoError(t, err)

	assert.Equal(t, req.CorrelationID, resp.CorrelationID)
	assert.Equal(t, "gemini", resp.To)
	assert.Equal(t, message.TypeResponse, resp.Type)

	inbox := channelMessages(t, mem, "dev:channels:gemini")
	require.Len(t, inbox, 1)
	assert.Equal(t, resp.ID, inbox[0].ID)
}

func TestNewCorrelator_Validation(t *testing.T) {
	_, err := NewCorrelator(CorrelatorConfig{AgentID: "gemini"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
