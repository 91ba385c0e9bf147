package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ralflukner/devcomm/broker"
	"github.com/ralflukner/devcomm/dedup"
	"github.com/ralflukner/devcomm/message"
)

// Listener defaults.
const (
	// DefaultBlock is how long one blocking read waits for new entries.
	DefaultBlock = 5 * time.Second

	// DefaultReadCount caps entries taken per read.
	DefaultReadCount = 32

	// reconnectBase is the first delay after a read error; doubles up to
	// reconnectMax.
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// MessageHandler consumes one delivered message.
type MessageHandler func(ctx context.Context, m *message.Message)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Broker serves the blocking reads.
	Broker broker.Broker

	// AgentID selects the inbox and filters deliveries.
	AgentID string

	// Handler receives each admitted message, in channel order, on the
	// listener goroutine.
	Handler MessageHandler

	// Channels names the keyspace. Zero value uses defaults.
	Channels Channels

	// Gate deduplicates on receipt. Give it a per-agent key prefix so it
	// does not collide with the send-side gate. Optional.
	Gate *dedup.Gate

	// FromID resumes reading after this entry id instead of the channel
	// tails. Entry ids order by append time across channels, so one cursor
	// seeds both the inbox and the broadcast channel. Empty means only
	// entries appended after Start.
	FromID string

	// Block is the per-read wait for new entries.
	// Default: 5 seconds
	Block time.Duration

	// Logger for read and decode diagnostics. Default: no-op.
	Logger zerolog.Logger
}

// Validate checks the configuration.
func (c *ListenerConfig) Validate() error {
	if c.Broker == nil || c.AgentID == "" || c.Handler == nil {
		return ErrInvalidConfig
	}
	return nil
}

// Listener tails an agent's inbox and the broadcast channel in direct mode:
// each listener keeps its own cursors and sees every entry from the moment
// it starts.
type Listener struct {
	broker   broker.Broker
	agentID  string
	handler  MessageHandler
	channels Channels
	gate     *dedup.Gate
	fromID   string
	block    time.Duration
	log      zerolog.Logger

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewListener creates a Listener.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultBlock
	}
	return &Listener{
		broker:   cfg.Broker,
		agentID:  cfg.AgentID,
		handler:  cfg.Handler,
		channels: cfg.Channels,
		gate:     cfg.Gate,
		fromID:   cfg.FromID,
		block:    cfg.Block,
		log:      cfg.Logger,
	}, nil
}

// Start begins consuming. Without a FromID, entries appended before Start
// are not delivered and entries appended after it are; with one, delivery
// replays everything after that id. Runs until Stop or context
// cancellation.
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// Resolve the starting cursors before returning so the caller can rely
	// on everything sent after Start being seen.
	channels := []string{l.channels.Inbox(l.agentID), l.channels.Broadcast()}
	cursors := make([]string, len(channels))
	for i, ch := range channels {
		if l.fromID != "" {
			cursors[i] = l.fromID
			continue
		}
		tail, err := channelTail(ctx, l.broker, ch)
		if err != nil {
			l.running.Store(false)
			return err
		}
		cursors[i] = tail
	}

	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.run(ctx, channels, cursors)
	return nil
}

func (l *Listener) run(ctx context.Context, channels, cursors []string) {
	defer close(l.doneCh)

	retryDelay := reconnectBase

	for {
		select {
		case <-ctx.Done():
			l.running.Store(false)
			return
		case <-l.stopCh:
			return
		default:
		}

		batches, err := l.broker.BlockingRead(ctx, channels, cursors, l.block, DefaultReadCount)
		if err != nil {
			if errors.Is(err, broker.ErrClosed) || ctx.Err() != nil {
				l.running.Store(false)
				return
			}
			l.log.Warn().Err(err).Dur("retry_in", retryDelay).Msg("read failed, reconnecting")
			if sleep(ctx, retryDelay) != nil {
				l.running.Store(false)
				return
			}
			if retryDelay *= 2; retryDelay > reconnectMax {
				retryDelay = reconnectMax
			}
			continue
		}
		retryDelay = reconnectBase

		for _, batch := range batches {
			for _, entry := range batch.Entries {
				// Advance past the entry whether or not it decodes; a
				// malformed entry must never wedge the cursor.
				for i, ch := range channels {
					if ch == batch.Channel {
						cursors[i] = entry.ID
					}
				}
				l.dispatch(ctx, batch.Channel, entry)
			}
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, channel string, entry broker.Entry) {
	m, err := message.FromFields(entry.Fields)
	if err != nil {
		l.log.Warn().Err(err).Str("channel", channel).Str("entry", entry.ID).Msg("skipping malformed entry")
		return
	}
	m.BrokerID = entry.ID

	// Own messages come back on the broadcast channel; not for us.
	if m.Sender == l.agentID {
		return
	}
	if m.Copy {
		// Visibility mirror of a targeted send. The recipient already has
		// the original in its inbox; everyone else gets to observe.
		if m.To == l.agentID {
			return
		}
	} else if !m.IsBroadcast() && m.To != l.agentID {
		return
	}

	if l.gate != nil {
		admitted, err := l.gate.Admit(ctx, m)
		if err != nil {
			l.log.Warn().Err(err).Str("id", m.ID).Msg("receive dedup unavailable, delivering anyway")
		} else if !admitted {
			l.log.Debug().Str("id", m.ID).Msg("duplicate receipt suppressed")
			return
		}
	}

	l.handler(ctx, m)
}

// Stop halts the listener and waits for the read loop to exit.
func (l *Listener) Stop() error {
	if !l.running.Swap(false) {
		return ErrNotStarted
	}
	close(l.stopCh)
	<-l.doneCh
	return nil
}
