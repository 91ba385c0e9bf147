package bus

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ralflukner/devcomm/broker"
	"github.com/ralflukner/devcomm/message"
)

// ThreadStartedAction tags the broadcast announcing a new thread.
const ThreadStartedAction = "thread_started"

// threadIDLen is the hex length of generated thread ids.
const threadIDLen = 12

// NewThreadID generates a short random thread id.
func NewThreadID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:threadIDLen]
}

// Threads starts and reads bounded conversation streams.
type Threads struct {
	// Broker serves the history reads.
	Broker broker.Broker

	// Sender delivers thread messages.
	Sender *Sender
}

// Start opens a new thread: the draft is stamped with a fresh thread id and
// broadcast so every agent learns the thread exists. Returns the thread id.
func (t *Threads) Start(ctx context.Context, d message.Draft) (string, error) {
	d.ThreadID = NewThreadID()
	d.To = message.Broadcast
	if d.Action == "" {
		d.Action = ThreadStartedAction
	}
	if _, _, err := t.Sender.SendDraft(ctx, d); err != nil {
		return "", err
	}
	return d.ThreadID, nil
}

// History reads a thread's messages, oldest first, at most count.
func (t *Threads) History(ctx context.Context, threadID string, count int64) ([]*message.Message, error) {
	return History(ctx, t.Broker, t.Sender.Channels().Thread(threadID), count)
}

// History reads the newest count messages of any channel, oldest first.
// Entries that do not decode are skipped.
func History(ctx context.Context, b broker.Broker, channel string, count int64) ([]*message.Message, error) {
	entries, err := b.RevRange(ctx, channel, count)
	if err != nil {
		return nil, err
	}

	// RevRange is newest-first; flip to reading order.
	msgs := make([]*message.Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		m, err := message.FromFields(entries[i].Fields)
		if err != nil {
			continue
		}
		m.BrokerID = entries[i].ID
		msgs = append(msgs, m)
	}
	return msgs, nil
}
