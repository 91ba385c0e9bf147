package broker

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Broker with the same semantics as the Redis
// binding. Blocking reads are woken by appends through a notification channel
// that is swapped out under the lock on every write.
type Memory struct {
	mu      sync.Mutex
	streams map[string][]Entry
	groups  map[string]map[string]*memGroup
	keys    map[string]memValue
	notify  chan struct{}
	closed  bool

	now        func() time.Time
	lastMillis int64
	lastSeq    int64
}

type memGroup struct {
	lastDelivered string
	pending       map[string]string // entry id -> consumer
}

type memValue struct {
	value   string
	expires time.Time // zero means no expiry
}

// NewMemory creates an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{
		streams: make(map[string][]Entry),
		groups:  make(map[string]map[string]*memGroup),
		keys:    make(map[string]memValue),
		notify:  make(chan struct{}),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests use this to roll TTL windows
// forward without sleeping.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// nextID produces a Redis-style "<millis>-<seq>" id, strictly increasing.
func (m *Memory) nextID() string {
	millis := m.now().UnixMilli()
	if millis <= m.lastMillis {
		millis = m.lastMillis
		m.lastSeq++
	} else {
		m.lastMillis = millis
		m.lastSeq = 0
	}
	return fmt.Sprintf("%d-%d", millis, m.lastSeq)
}

func parseID(id string) (int64, int64) {
	millis, seq := id, "0"
	if i := strings.IndexByte(id, '-'); i >= 0 {
		millis, seq = id[:i], id[i+1:]
	}
	ms, _ := strconv.ParseInt(millis, 10, 64)
	sq, _ := strconv.ParseInt(seq, 10, 64)
	return ms, sq
}

// idLess compares entry ids numerically, part by part.
func idLess(a, b string) bool {
	ams, asq := parseID(a)
	bms, bsq := parseID(b)
	if ams != bms {
		return ams < bms
	}
	return asq < bsq
}

func (m *Memory) wake() {
	close(m.notify)
	m.notify = make(chan struct{})
}

// Append adds an entry, trims to maxLen and wakes blocked readers.
func (m *Memory) Append(_ context.Context, channel string, fields map[string]string, maxLen int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}

	entry := Entry{ID: m.nextID(), Fields: maps.Clone(fields)}
	entries := append(m.streams[channel], entry)
	if maxLen > 0 && int64(len(entries)) > maxLen {
		entries = entries[int64(len(entries))-maxLen:]
	}
	m.streams[channel] = entries
	m.wake()
	return entry.ID, nil
}

// Range reads entries with from <= id <= to, ascending.
func (m *Memory) Range(_ context.Context, channel, from, to string, count int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	var out []Entry
	for _, e := range m.streams[channel] {
		if from != CursorStart && from != "" && idLess(e.ID, from) {
			continue
		}
		if to != CursorEnd && to != "" && idLess(to, e.ID) {
			break
		}
		out = append(out, e)
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

// RevRange reads the newest count entries, descending.
func (m *Memory) RevRange(_ context.Context, channel string, count int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	entries := m.streams[channel]
	var out []Entry
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

// readAfter collects entries with id > cursor for one channel.
func (m *Memory) readAfter(channel, cursor string, count int64) []Entry {
	var out []Entry
	for _, e := range m.streams[channel] {
		if cursor != "" && cursor != CursorStart && !idLess(cursor, e.ID) {
			continue
		}
		out = append(out, e)
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out
}

// lastID returns the newest entry id of a channel, or "0-0".
func (m *Memory) lastID(channel string) string {
	entries := m.streams[channel]
	if len(entries) == 0 {
		return "0-0"
	}
	return entries[len(entries)-1].ID
}

// BlockingRead waits up to block for entries past the cursors.
func (m *Memory) BlockingRead(ctx context.Context, channels []string, from []string, block time.Duration, count int64) ([]ChannelEntries, error) {
	if len(channels) != len(from) {
		return nil, fmt.Errorf("broker: %d channels, %d cursors", len(channels), len(from))
	}

	// Resolve "$" to the current tail once, before waiting.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	cursors := make([]string, len(from))
	for i, f := range from {
		if f == CursorNew {
			cursors[i] = m.lastID(channels[i])
		} else {
			cursors[i] = f
		}
	}
	m.mu.Unlock()

	timer := time.NewTimer(block)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		var out []ChannelEntries
		for i, ch := range channels {
			if entries := m.readAfter(ch, cursors[i], count); len(entries) > 0 {
				out = append(out, ChannelEntries{Channel: ch, Entries: entries})
			}
		}
		notify := m.notify
		m.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}

		select {
		case <-notify:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// EnsureGroup creates a consumer group starting at the channel head.
func (m *Memory) EnsureGroup(_ context.Context, channel, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if m.groups[channel] == nil {
		m.groups[channel] = make(map[string]*memGroup)
	}
	if _, ok := m.groups[channel][group]; !ok {
		m.groups[channel][group] = &memGroup{
			lastDelivered: "0-0",
			pending:       make(map[string]string),
		}
	}
	return nil
}

// GroupRead claims undelivered entries for a consumer.
func (m *Memory) GroupRead(ctx context.Context, channel, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	timer := time.NewTimer(block)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		g := m.groups[channel][group]
		if g == nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("broker: no group %q on channel %q", group, channel)
		}
		entries := m.readAfter(channel, g.lastDelivered, count)
		for _, e := range entries {
			g.pending[e.ID] = consumer
			g.lastDelivered = e.ID
		}
		notify := m.notify
		m.mu.Unlock()

		if len(entries) > 0 {
			return entries, nil
		}

		select {
		case <-notify:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ack removes an entry from the group's pending set.
func (m *Memory) Ack(_ context.Context, channel, group, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if g := m.groups[channel][group]; g != nil {
		delete(g.pending, id)
	}
	return nil
}

// PendingCount reports unacknowledged claimed entries. Test helper.
func (m *Memory) PendingCount(channel, group string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.groups[channel][group]; g != nil {
		return len(g.pending)
	}
	return 0
}

// Len reports the number of entries in a channel. Test helper.
func (m *Memory) Len(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams[channel])
}

func (m *Memory) expired(v memValue) bool {
	return !v.expires.IsZero() && !m.now().Before(v.expires)
}

func (m *Memory) liveValue(key string) (memValue, bool) {
	v, ok := m.keys[key]
	if !ok {
		return memValue{}, false
	}
	if m.expired(v) {
		delete(m.keys, key)
		return memValue{}, false
	}
	return v, true
}

// SetIfAbsent sets key only if it has no live value.
func (m *Memory) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}

	if _, ok := m.liveValue(key); ok {
		return false, nil
	}
	m.keys[key] = m.newValue(value, ttl)
	return true, nil
}

// Set unconditionally stores key with a TTL.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.keys[key] = m.newValue(value, ttl)
	return nil
}

func (m *Memory) newValue(value string, ttl time.Duration) memValue {
	v := memValue{value: value}
	if ttl > 0 {
		v.expires = m.now().Add(ttl)
	}
	return v
}

// Get reads a live key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}

	v, ok := m.liveValue(key)
	if !ok {
		return "", false, nil
	}
	return v.value, true, nil
}

// IncrWithExpiry increments a counter; the first increment arms the expiry.
func (m *Memory) IncrWithExpiry(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	var n int64
	if v, ok := m.liveValue(key); ok {
		n, _ = strconv.ParseInt(v.value, 10, 64)
		n++
		v.value = strconv.FormatInt(n, 10)
		m.keys[key] = v
	} else {
		n = 1
		m.keys[key] = m.newValue("1", window)
	}
	return n, nil
}

// ScanPrefix lists live keys with the prefix.
func (m *Memory) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	var out []string
	for key := range m.keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := m.liveValue(key); ok {
			out = append(out, key)
		}
	}
	return out, nil
}

// Expire arms a TTL on an existing key.
func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if v, ok := m.liveValue(key); ok {
		v.expires = m.now().Add(ttl)
		m.keys[key] = v
	}
	return nil
}

// Close shuts the broker; blocked readers are released with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.wake()
	return nil
}

var _ Broker = (*Memory)(nil)
