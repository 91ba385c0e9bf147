package message

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	buserr "github.com/ralflukner/devcomm/errors"
)

// timestampLayout is ISO-8601 UTC with microseconds.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// hashLen is the number of hex digits kept from the content digest.
const hashLen = 8

// Wire field names. The JSON document travels under a single stream field;
// "msg" is accepted on decode for older producers.
const (
	FieldData = "data"
	fieldMsg  = "msg"
)

// Draft holds the caller-settable fields of a message.
type Draft struct {
	Sender        string
	To            string
	Type          Type
	Priority      Priority
	Subject       string
	Body          string
	ThreadID      string
	CorrelationID string
	ReplyTo       string
	Action        string
	Payload       map[string]string
	TTLSeconds    int
}

// Build validates a draft and produces a stamped, hashed message.
// Pure apart from reading the clock; no I/O.
func Build(d Draft) (*Message, error) {
	return BuildLimit(d, DefaultMaxSize)
}

// BuildLimit is Build with a caller-chosen serialized size cap.
func BuildLimit(d Draft, maxSize int) (*Message, error) {
	if d.Priority == "" {
		d.Priority = PriorityNormal
	}
	if err := validate(d); err != nil {
		return nil, err
	}

	m := &Message{
		Sender:        d.Sender,
		To:            d.To,
		Type:          d.Type,
		Priority:      d.Priority,
		Subject:       d.Subject,
		Body:          d.Body,
		ThreadID:      d.ThreadID,
		CorrelationID: d.CorrelationID,
		ReplyTo:       d.ReplyTo,
		Action:        d.Action,
		Payload:       d.Payload,
		TTLSeconds:    d.TTLSeconds,
		Version:       ProtocolVersion,
	}

	millis := nextMillis()
	m.ID = fmt.Sprintf("%s-%d", m.Sender, millis)
	m.Timestamp = time.UnixMilli(millis).UTC().Format(timestampLayout)

	hash, err := contentHash(m)
	if err != nil {
		return nil, buserr.Wrap(err, buserr.CodeInternal, "hash message")
	}
	m.Hash = hash

	wire, err := Encode(m)
	if err != nil {
		return nil, buserr.Wrap(err, buserr.CodeInternal, "encode message")
	}
	if maxSize > 0 && len(wire) > maxSize {
		return nil, buserr.Newf(buserr.CodeValidation, "message too large: %d bytes exceeds %d", len(wire), maxSize)
	}
	return m, nil
}

func validate(d Draft) error {
	switch {
	case d.Sender == "":
		return buserr.New(buserr.CodeValidation, "sender required")
	case d.Body == "":
		return buserr.New(buserr.CodeValidation, "body required")
	case d.Type == "":
		return buserr.New(buserr.CodeValidation, "type required")
	case !d.Type.Valid():
		return buserr.Newf(buserr.CodeValidation, "invalid type %q", d.Type)
	case !d.Priority.Valid():
		return buserr.Newf(buserr.CodeValidation, "invalid priority %q", d.Priority)
	case utf8.RuneCountInString(d.Subject) > MaxSubjectLen:
		return buserr.Newf(buserr.CodeValidation, "subject too long: %d chars exceeds %d", utf8.RuneCountInString(d.Subject), MaxSubjectLen)
	}
	return nil
}

// Encode serializes the message as its wire JSON document.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// WireFields wraps the encoded document in the flat field map Append takes.
func WireFields(m *Message) (map[string]string, error) {
	wire, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return map[string]string{FieldData: string(wire)}, nil
}

// Decode parses a wire document. The content hash is recomputed, never
// trusted from the wire.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, buserr.Wrap(err, buserr.CodeValidation, "decode message")
	}
	hash, err := contentHash(&m)
	if err != nil {
		return nil, buserr.Wrap(err, buserr.CodeInternal, "rehash message")
	}
	m.Hash = hash
	return &m, nil
}

// FromFields decodes a broker entry's field map.
func FromFields(fields map[string]string) (*Message, error) {
	doc, ok := fields[FieldData]
	if !ok {
		doc, ok = fields[fieldMsg]
	}
	if !ok {
		return nil, buserr.New(buserr.CodeValidation, "entry has no message document")
	}
	return Decode([]byte(doc))
}

// Canonical returns the canonical representation hashed by the codec: the
// wire document minus the hash itself and the copy tag, with keys sorted.
func Canonical(m *Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, "hash")
	delete(doc, "copy")
	return json.Marshal(doc) // map marshalling sorts keys
}

func contentHash(m *Message) (string, error) {
	canonical, err := Canonical(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:hashLen], nil
}

// NewCorrelationID produces "<sender>_<millis>" with the same monotonic
// clock as message ids.
func NewCorrelationID(sender string) string {
	return fmt.Sprintf("%s_%d", sender, nextMillis())
}

var (
	millisMu   sync.Mutex
	lastMillis int64
)

// nextMillis returns strictly increasing wall-clock milliseconds so that two
// messages built in the same millisecond still get distinct ids.
func nextMillis() int64 {
	millisMu.Lock()
	defer millisMu.Unlock()
	now := time.Now().UnixMilli()
	if now <= lastMillis {
		now = lastMillis + 1
	}
	lastMillis = now
	return now
}
