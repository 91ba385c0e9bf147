package bus

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ralflukner/devcomm/broker"
	"github.com/ralflukner/devcomm/message"
)

// testSender builds a Sender with fast retries and a throwaway journal.
func testSender(t *testing.T, b broker.Broker) *Sender {
	t.Helper()
	s, err := NewSender(SenderConfig{
		Broker:      b,
		Backoff:     Backoff{MaxAttempts: 1, Base: time.Millisecond},
		JournalPath: filepath.Join(t.TempDir(), "failed.jsonl"),
	})
	require.NoError(t, err)
	return s
}

func testDraft(sender, to, body string) message.Draft {
	return message.Draft{
		Sender:   sender,
		To:       to,
		Type:     message.TypeDirect,
		Priority: message.PriorityNormal,
		Body:     body,
	}
}

// channelMessages decodes every entry currently on a channel.
func channelMessages(t *testing.T, b broker.Broker, channel string) []*message.Message {
	t.Helper()
	entries, err := b.Range(context.Background(), channel, broker.CursorStart, broker.CursorEnd, 0)
	require.NoError(t, err)
	msgs := make([]*message.Message, 0, len(entries))
	for _, e := range entries {
		m, err := message.FromFields(e.Fields)
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	return msgs
}

// waitMessage receives from ch or fails the test after two seconds.
func waitMessage(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// expectNoMessage asserts nothing arrives within the grace period.
func expectNoMessage(t *testing.T, ch <-chan *message.Message, grace time.Duration) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected message %q delivered", m.ID)
	case <-time.After(grace):
	}
}
