package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ralflukner/devcomm/broker"
	"github.com/ralflukner/devcomm/message"
)

// Dispatcher defaults.
const (
	// DefaultGroup is the consumer group replying agents share.
	DefaultGroup = "repliers"

	// DefaultGroupBlock keeps idle waits short so stop latency stays under
	// ~100ms.
	DefaultGroupBlock = 100 * time.Millisecond

	// UnhandledAction tags the fallback reply for unknown actions.
	UnhandledAction = "unhandled_action"
)

// ActionHandler processes one message and optionally returns a reply draft.
// A nil draft means no reply. The dispatcher fills in the reply's sender,
// recipient and correlation id.
type ActionHandler func(ctx context.Context, m *message.Message) (*message.Draft, error)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Broker serves the group reads.
	Broker broker.Broker

	// AgentID selects the inbox and stamps replies.
	AgentID string

	// Sender delivers replies.
	Sender *Sender

	// Group is the consumer group name. Replicas sharing a group
	// load-balance the inbox. Default: "repliers"
	Group string

	// Consumer identifies this process within the group.
	// Default: "<agent>-<random suffix>"
	Consumer string

	// Block is the idle wait per group read.
	// Default: 100 milliseconds
	Block time.Duration

	// Logger for handler and delivery diagnostics. Default: no-op.
	Logger zerolog.Logger
}

// Validate checks the configuration.
func (c *DispatcherConfig) Validate() error {
	if c.Broker == nil || c.AgentID == "" || c.Sender == nil {
		return ErrInvalidConfig
	}
	return nil
}

// Dispatcher consumes an agent's inbox through a consumer group and routes
// each message to the handler registered for its action. Every claimed
// entry is acknowledged exactly once, including ones whose handler fails
// or panics: a poisoned message must not be redelivered forever.
type Dispatcher struct {
	broker   broker.Broker
	agentID  string
	sender   *Sender
	group    string
	consumer string
	block    time.Duration
	log      zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]ActionHandler
	fallback ActionHandler

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Consumer == "" {
		cfg.Consumer = cfg.AgentID + "-" + uuid.NewString()[:8]
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultGroupBlock
	}
	d := &Dispatcher{
		broker:   cfg.Broker,
		agentID:  cfg.AgentID,
		sender:   cfg.Sender,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		block:    cfg.Block,
		log:      cfg.Logger,
		handlers: make(map[string]ActionHandler),
	}
	d.fallback = d.unhandled
	return d, nil
}

// Register binds a handler to an action. Later registrations replace
// earlier ones.
func (d *Dispatcher) Register(action string, h ActionHandler) {
	d.mu.Lock()
	d.handlers[action] = h
	d.mu.Unlock()
}

// RegisterDefault replaces the fallback handler for actions nothing is
// registered for.
func (d *Dispatcher) RegisterDefault(h ActionHandler) {
	d.mu.Lock()
	d.fallback = h
	d.mu.Unlock()
}

func (d *Dispatcher) unhandled(_ context.Context, m *message.Message) (*message.Draft, error) {
	return &message.Draft{
		Type:     message.TypeResponse,
		Priority: message.PriorityNormal,
		Action:   UnhandledAction,
		Subject:  "unhandled action",
		Body:     "no handler registered for action " + m.Action,
	}, nil
}

// Start ensures the consumer group exists and begins consuming. Runs until
// Stop or context cancellation.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	inbox := d.sender.Channels().Inbox(d.agentID)
	if err := d.broker.EnsureGroup(ctx, inbox, d.group); err != nil {
		d.running.Store(false)
		return err
	}

	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.run(ctx, inbox)
	return nil
}

func (d *Dispatcher) run(ctx context.Context, inbox string) {
	defer close(d.doneCh)

	for {
		select {
		case <-ctx.Done():
			d.running.Store(false)
			return
		case <-d.stopCh:
			return
		default:
		}

		entries, err := d.broker.GroupRead(ctx, inbox, d.group, d.consumer, DefaultReadCount, d.block)
		if err != nil {
			if errors.Is(err, broker.ErrClosed) || ctx.Err() != nil {
				d.running.Store(false)
				return
			}
			d.log.Warn().Err(err).Msg("group read failed")
			if sleep(ctx, reconnectBase) != nil {
				d.running.Store(false)
				return
			}
			continue
		}

		for _, entry := range entries {
			d.process(ctx, inbox, entry)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, inbox string, entry broker.Entry) {
	defer func() {
		if err := d.broker.Ack(ctx, inbox, d.group, entry.ID); err != nil {
			d.log.Warn().Err(err).Str("entry", entry.ID).Msg("ack failed")
		}
	}()

	m, err := message.FromFields(entry.Fields)
	if err != nil {
		d.log.Warn().Err(err).Str("entry", entry.ID).Msg("skipping malformed entry")
		return
	}
	m.BrokerID = entry.ID

	reply, err := d.handle(ctx, m)
	if err != nil {
		d.log.Error().Err(err).Str("id", m.ID).Str("action", m.Action).Msg("handler failed")
		return
	}
	if reply == nil {
		return
	}

	reply.Sender = d.agentID
	reply.To = m.Sender
	if m.ReplyTo != "" {
		reply.To = m.ReplyTo
	}
	reply.CorrelationID = m.CorrelationID
	reply.ThreadID = m.ThreadID
	if reply.Type == "" {
		reply.Type = message.TypeResponse
	}
	if reply.Priority == "" {
		reply.Priority = message.PriorityNormal
	}
	if _, _, err := d.sender.SendDraft(ctx, *reply); err != nil {
		d.log.Error().Err(err).Str("correlation_id", m.CorrelationID).Msg("reply delivery failed")
	}
}

// handle runs the action handler, converting a panic into an error so the
// entry still gets acknowledged.
func (d *Dispatcher) handle(ctx context.Context, m *message.Message) (reply *message.Draft, err error) {
	d.mu.RLock()
	h, ok := d.handlers[m.Action]
	if !ok {
		h = d.fallback
	}
	d.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			reply = nil
			err = buserrPanic(r)
		}
	}()
	return h(ctx, m)
}

// Stop halts consumption and waits for the loop to exit. Claimed but
// unprocessed entries stay pending for other group consumers.
func (d *Dispatcher) Stop() error {
	if !d.running.Swap(false) {
		return ErrNotStarted
	}
	close(d.stopCh)
	<-d.doneCh
	return nil
}
