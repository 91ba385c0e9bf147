package bus

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ralflukner/devcomm/broker"
	"github.com/ralflukner/devcomm/message"
)

// Correlator defaults.
const (
	// DefaultRequestTimeout bounds a blocking request.
	DefaultRequestTimeout = 30 * time.Second

	// requestPoll is the per-iteration blocking read wait while polling for
	// a matching response.
	requestPoll = 500 * time.Millisecond
)

// CorrelatorConfig configures a Correlator.
type CorrelatorConfig struct {
	// Broker serves the response polls.
	Broker broker.Broker

	// AgentID is the requesting agent; responses arrive on its inbox.
	AgentID string

	// Sender delivers the requests.
	Sender *Sender

	// Logger for polling diagnostics. Default: no-op.
	Logger zerolog.Logger
}

// Validate checks the configuration.
func (c *CorrelatorConfig) Validate() error {
	if c.Broker == nil || c.AgentID == "" || c.Sender == nil {
		return ErrInvalidConfig
	}
	return nil
}

// Correlator implements blocking request/response over the message bus.
// Each request gets a fresh correlation id; the matching response is picked
// off the requester's inbox by id.
type Correlator struct {
	broker  broker.Broker
	agentID string
	sender  *Sender
	log     zerolog.Logger
}

// NewCorrelator creates a Correlator.
func NewCorrelator(cfg CorrelatorConfig) (*Correlator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Correlator{
		broker:  cfg.Broker,
		agentID: cfg.AgentID,
		sender:  cfg.Sender,
		log:     cfg.Logger,
	}, nil
}

// Request sends the draft to one agent and waits for the correlated
// response. The inbox cursor is snapshotted before the send so a reply that
// lands while the request is still in flight is never missed. Returns
// (nil, nil) when the timeout lapses without a response: an unanswered
// request is a normal outcome, not an error.
func (c *Correlator) Request(ctx context.Context, to string, d message.Draft, timeout time.Duration) (*message.Message, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	d.Sender = c.agentID
	d.To = to
	d.CorrelationID = message.NewCorrelationID(c.agentID)
	if d.Type == "" {
		d.Type = message.TypeRequest
	}
	if d.Priority == "" {
		d.Priority = message.PriorityNormal
	}

	inbox := c.sender.Channels().Inbox(c.agentID)
	cursor, err := channelTail(ctx, c.broker, inbox)
	if err != nil {
		return nil, err
	}

	req, _, err := c.sender.SendDraft(ctx, d)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Str("correlation_id", req.CorrelationID).Str("to", to).Msg("request sent")

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.log.Debug().Str("correlation_id", req.CorrelationID).Msg("request timed out")
			return nil, nil
		}
		block := requestPoll
		if remaining < block {
			block = remaining
		}

		batches, err := c.broker.BlockingRead(ctx, []string{inbox}, []string{cursor}, block, DefaultReadCount)
		if err != nil {
			return nil, err
		}
		for _, batch := range batches {
			for _, entry := range batch.Entries {
				cursor = entry.ID
				m, err := message.FromFields(entry.Fields)
				if err != nil {
					continue
				}
				if m.CorrelationID != req.CorrelationID {
					continue
				}
				if m.Type != message.TypeResponse && m.Type != message.TypeDirect {
					continue
				}
				m.BrokerID = entry.ID
				return m, nil
			}
		}
	}
}

// Respond sends a response correlated to a received request, back to its
// sender.
func (c *Correlator) Respond(ctx context.Context, req *message.Message, d message.Draft) (*message.Message, error) {
	d.Sender = c.agentID
	d.To = req.Sender
	if req.ReplyTo != "" {
		d.To = req.ReplyTo
	}
	d.CorrelationID = req.CorrelationID
	d.ThreadID = req.ThreadID
	if d.Type == "" {
		d.Type = message.TypeResponse
	}
	if d.Priority == "" {
		d.Priority = message.PriorityNormal
	}
	m, _, err := c.sender.SendDraft(ctx, d)
	return m, err
}
