// Package message defines the devcomm wire message and its codec.
//
// A Message is built once by the sending agent, validated and stamped by
// Build, and immutable after it is appended to a channel. Corrections are new
// messages on the same thread, never in-place updates.
package message

import (
	"strings"
)

// ProtocolVersion is stamped into every built message.
const ProtocolVersion = "2.0"

// DefaultMaxSize is the serialized size cap in bytes.
const DefaultMaxSize = 4096

// MaxSubjectLen caps the subject field.
const MaxSubjectLen = 100

// Broadcast is the "to" value addressing every agent.
const Broadcast = "all"

// Type classifies a message. Routing never depends on it; it is payload.
type Type string

const (
	TypeStatus   Type = "status"
	TypeTask     Type = "task"
	TypeAck      Type = "ack"
	TypeAlert    Type = "alert"
	TypeRequest  Type = "request"
	TypeResponse Type = "response"
	TypeDirect   Type = "direct"

	// customPrefix starts application-defined types, e.g. "custom:deploy".
	customPrefix = "custom:"
)

// Valid reports whether t is a known type or a named custom type.
func (t Type) Valid() bool {
	switch t {
	case TypeStatus, TypeTask, TypeAck, TypeAlert, TypeRequest, TypeResponse, TypeDirect:
		return true
	}
	return strings.HasPrefix(string(t), customPrefix) && len(t) > len(customPrefix)
}

// String returns the wire representation.
func (t Type) String() string {
	return string(t)
}

// Priority orders messages for consumers. Routing never depends on it.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is in the priority enum.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// String returns the wire representation.
func (p Priority) String() string {
	return string(p)
}

// Message is the unit of communication between agents.
type Message struct {
	// ID is assigned by the sender as "<sender>-<millis>", unique per sender.
	ID string `json:"id,omitempty"`

	// BrokerID is the broker-assigned entry id, set on messages read back
	// from a channel. It is a cursor, never interpreted.
	BrokerID string `json:"-"`

	Sender   string   `json:"sender"`
	To       string   `json:"to,omitempty"`
	Type     Type     `json:"type"`
	Priority Priority `json:"priority"`
	Subject  string   `json:"subject,omitempty"`
	Body     string   `json:"body"`

	// ThreadID groups related messages into a conversation.
	ThreadID string `json:"thread_id,omitempty"`

	// CorrelationID links a request to its response.
	CorrelationID string `json:"correlation_id,omitempty"`

	// ReplyTo is the target agent of a directed request/response exchange.
	ReplyTo string `json:"reply_to,omitempty"`

	// Action is the dispatch verb consumer-group repliers switch on.
	Action string `json:"action,omitempty"`

	// Payload carries structured request/response data.
	Payload map[string]string `json:"payload,omitempty"`

	// Copy marks the broadcast mirror of a targeted send. Routing metadata;
	// excluded from the content hash.
	Copy bool `json:"copy,omitempty"`

	// TTLSeconds, if positive, asks the broker to expire the entry.
	TTLSeconds int `json:"ttl,omitempty"`

	// Version, Timestamp and Hash are stamped by Build.
	Version   string `json:"version,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Hash      string `json:"hash,omitempty"`
}

// IsBroadcast reports whether the message addresses every agent.
func (m *Message) IsBroadcast() bool {
	return m.To == "" || m.To == Broadcast
}
