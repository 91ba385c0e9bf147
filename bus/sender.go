package bus

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ralflukner/devcomm/broker"
	"github.com/ralflukner/devcomm/dedup"
	buserr "github.com/ralflukner/devcomm/errors"
	"github.com/ralflukner/devcomm/message"
	"github.com/ralflukner/devcomm/ratelimit"
)

// DeliveryResult reports where a message landed.
type DeliveryResult struct {
	// ChannelIDs maps each delivered channel to the broker-assigned entry id.
	ChannelIDs map[string]string

	// Suppressed is true when the dedup gate swallowed the message. No
	// channel was written.
	Suppressed bool
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	// Broker takes the appends.
	Broker broker.Broker

	// Router maps messages to channels. Nil uses a default Router.
	Router *Router

	// Gate suppresses retry duplicates before delivery. Optional.
	Gate *dedup.Gate

	// Limiter caps per-agent send volume. Optional.
	Limiter *ratelimit.Limiter

	// Backoff is the per-channel retry policy. Zero value uses defaults.
	Backoff Backoff

	// MaxMessageSize caps the serialized size of drafts built by this
	// sender. Default: message.DefaultMaxSize
	MaxMessageSize int

	// JournalPath is the fallback file for undeliverable messages.
	// Default: "devcomm_failed_messages.jsonl"
	JournalPath string

	// Logger for delivery diagnostics. Default: no-op.
	Logger zerolog.Logger
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Broker == nil {
		return ErrInvalidConfig
	}
	return nil
}

// Sender delivers messages to their routed channels with retry and a
// durable fallback.
type Sender struct {
	broker  broker.Broker
	router  *Router
	gate    *dedup.Gate
	limiter *ratelimit.Limiter
	backoff Backoff
	maxSize int
	journal *journal
	log     zerolog.Logger
}

// NewSender creates a Sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Router == nil {
		cfg.Router = &Router{}
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = message.DefaultMaxSize
	}
	return &Sender{
		broker:  cfg.Broker,
		router:  cfg.Router,
		gate:    cfg.Gate,
		limiter: cfg.Limiter,
		backoff: cfg.Backoff,
		maxSize: cfg.MaxMessageSize,
		journal: newJournal(cfg.JournalPath),
		log:     cfg.Logger,
	}, nil
}

// Channels exposes the keyspace the sender routes into.
func (s *Sender) Channels() Channels {
	return s.router.Channels
}

// Send delivers a built message: rate check, route, dedup gate, then one
// append per target channel with retry. A channel that stays unreachable
// after all attempts gets the message journaled and the send fails with a
// broker-unavailable error; earlier channels keep their entries.
func (s *Sender) Send(ctx context.Context, m *message.Message) (*DeliveryResult, error) {
	if s.limiter != nil {
		if err := s.limiter.Check(ctx, m.Sender); err != nil {
			return nil, err
		}
	}

	targets := s.router.Route(m)

	if s.gate != nil {
		admitted, err := s.gate.Admit(ctx, m)
		if err != nil {
			return nil, err
		}
		if !admitted {
			s.log.Debug().Str("id", m.ID).Str("hash", m.Hash).Msg("duplicate suppressed")
			return &DeliveryResult{Suppressed: true}, nil
		}
	}

	result := &DeliveryResult{ChannelIDs: make(map[string]string, len(targets))}
	for i, t := range targets {
		id, err := s.deliver(ctx, t, m)
		if err != nil {
			if jerr := s.journal.record(m); jerr != nil {
				s.log.Error().Err(jerr).Str("id", m.ID).Msg("journal write failed")
			}
			s.log.Error().Err(err).Str("id", m.ID).Str("channel", t.Channel).Msg("delivery failed, message journaled")
			return result, buserr.Wrap(err, buserr.CodeBrokerUnavailable,
				"channel "+t.Channel+" unreachable",
				buserr.WithMetadata("message_id", m.ID))
		}
		result.ChannelIDs[t.Channel] = id
		if i == 0 {
			m.BrokerID = id
		}
		if m.TTLSeconds > 0 {
			ttl := time.Duration(m.TTLSeconds) * time.Second
			if err := s.broker.Expire(ctx, t.Channel+":"+id, ttl); err != nil {
				s.log.Warn().Err(err).Str("id", m.ID).Msg("entry expiry not applied")
			}
		}
	}

	s.log.Debug().Str("id", m.ID).Int("channels", len(result.ChannelIDs)).Msg("message delivered")
	return result, nil
}

// deliver appends to one channel, retrying with exponential backoff. The
// copy tag is rewritten per target so a broadcast mirror is distinguishable
// from the original; the tag is outside the content hash.
func (s *Sender) deliver(ctx context.Context, t Target, m *message.Message) (string, error) {
	entry := *m
	entry.Copy = t.Copy
	fields, err := message.WireFields(&entry)
	if err != nil {
		return "", buserr.Wrap(err, buserr.CodeInternal, "encode message")
	}

	var lastErr error
	for attempt := 0; attempt < s.backoff.attempts(); attempt++ {
		if attempt > 0 {
			s.log.Warn().Err(lastErr).Str("channel", t.Channel).Int("attempt", attempt).Msg("retrying delivery")
			if err := sleep(ctx, s.backoff.delay(attempt-1)); err != nil {
				return "", err
			}
		}
		id, err := s.broker.Append(ctx, t.Channel, fields, t.MaxLen)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return "", lastErr
}

// SendDraft builds the draft and delivers it, returning the stamped message
// alongside the delivery result.
func (s *Sender) SendDraft(ctx context.Context, d message.Draft) (*message.Message, *DeliveryResult, error) {
	m, err := message.BuildLimit(d, s.maxSize)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.Send(ctx, m)
	return m, res, err
}

// Broadcast delivers the draft to the shared channel.
func (s *Sender) Broadcast(ctx context.Context, d message.Draft) error {
	d.To = message.Broadcast
	_, _, err := s.SendDraft(ctx, d)
	return err
}

// SendTo delivers the draft to one agent's inbox.
func (s *Sender) SendTo(ctx context.Context, to string, d message.Draft) (*message.Message, *DeliveryResult, error) {
	d.To = to
	return s.SendDraft(ctx, d)
}
