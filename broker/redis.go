package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	buserr "github.com/ralflukner/devcomm/errors"
)

// Redis binds the Broker contract to Redis streams and keys.
//
// The client is safe for concurrent use, so one Redis instance serves the
// heartbeat, listener and sender goroutines of an agent process.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis using a URL ("redis://host:port/db") and
// verifies the connection with a ping.
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, connectError(err, opts.Addr)
	}
	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client. The caller keeps ownership of
// the client's lifecycle.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// connectError attaches a likely fix to the opaque dial failure.
func connectError(err error, addr string) error {
	hint := "check broker logs"
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		hint = "redis not running; try: docker run -d -p 6379:6379 redis:7-alpine"
	case strings.Contains(strings.ToLower(msg), "timeout"):
		hint = fmt.Sprintf("connection timeout; check reachability of %s", addr)
	}
	return buserr.Wrap(err, buserr.CodeBrokerUnavailable, "connect to redis",
		buserr.WithMetadata("addr", addr),
		buserr.WithMetadata("hint", hint))
}

func wrapOp(err error, op, target string) error {
	if err == nil {
		return nil
	}
	return buserr.Wrapf(err, buserr.CodeBrokerUnavailable, "%s %s", op, target)
}

func fieldsFromValues(values map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			fields[k] = s
		} else {
			fields[k] = fmt.Sprint(v)
		}
	}
	return fields
}

func entriesFromMessages(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, Entry{ID: msg.ID, Fields: fieldsFromValues(msg.Values)})
	}
	return entries
}

// Append maps to XADD with approximate MAXLEN trimming.
func (r *Redis) Append(ctx context.Context, channel string, fields map[string]string, maxLen int64) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: channel,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", wrapOp(err, "append", channel)
	}
	return id, nil
}

// Range maps to XRANGE.
func (r *Redis) Range(ctx context.Context, channel, from, to string, count int64) ([]Entry, error) {
	if from == "" {
		from = CursorStart
	}
	if to == "" {
		to = CursorEnd
	}
	msgs, err := r.client.XRangeN(ctx, channel, from, to, count).Result()
	if err != nil {
		return nil, wrapOp(err, "range", channel)
	}
	return entriesFromMessages(msgs), nil
}

// RevRange maps to XREVRANGE from the channel tail.
func (r *Redis) RevRange(ctx context.Context, channel string, count int64) ([]Entry, error) {
	msgs, err := r.client.XRevRangeN(ctx, channel, CursorEnd, CursorStart, count).Result()
	if err != nil {
		return nil, wrapOp(err, "revrange", channel)
	}
	return entriesFromMessages(msgs), nil
}

// BlockingRead maps to XREAD BLOCK. A redis.Nil result is a timeout.
func (r *Redis) BlockingRead(ctx context.Context, channels []string, from []string, block time.Duration, count int64) ([]ChannelEntries, error) {
	streams := make([]string, 0, len(channels)*2)
	streams = append(streams, channels...)
	streams = append(streams, from...)

	res, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: streams,
		Count:   count,
		Block:   block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, wrapOp(err, "blocking read", strings.Join(channels, ","))
	}

	out := make([]ChannelEntries, 0, len(res))
	for _, stream := range res {
		out = append(out, ChannelEntries{
			Channel: stream.Stream,
			Entries: entriesFromMessages(stream.Messages),
		})
	}
	return out, nil
}

// EnsureGroup maps to XGROUP CREATE MKSTREAM; BUSYGROUP means the group is
// already there and is success.
func (r *Redis) EnsureGroup(ctx context.Context, channel, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, channel, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return wrapOp(err, "ensure group", channel)
	}
	return nil
}

// GroupRead maps to XREADGROUP with the ">" cursor.
func (r *Redis) GroupRead(ctx context.Context, channel, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{channel, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, wrapOp(err, "group read", channel)
	}

	var entries []Entry
	for _, stream := range res {
		entries = append(entries, entriesFromMessages(stream.Messages)...)
	}
	return entries, nil
}

// Ack maps to XACK.
func (r *Redis) Ack(ctx context.Context, channel, group, id string) error {
	return wrapOp(r.client.XAck(ctx, channel, group, id).Err(), "ack", channel)
}

// SetIfAbsent maps to SET NX EX.
func (r *Redis) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapOp(err, "setnx", key)
	}
	return ok, nil
}

// Set maps to SET EX.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrapOp(r.client.Set(ctx, key, value, ttl).Err(), "set", key)
}

// Get maps to GET; redis.Nil means the key does not exist.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapOp(err, "get", key)
	}
	return val, true, nil
}

// IncrWithExpiry maps to INCR, arming EXPIRE when the counter is new.
func (r *Redis) IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrapOp(err, "incr", key)
	}
	if n == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return n, wrapOp(err, "expire", key)
		}
	}
	return n, nil
}

// ScanPrefix iterates SCAN MATCH prefix*.
func (r *Redis) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrapOp(err, "scan", prefix)
	}
	return keys, nil
}

// Expire maps to EXPIRE.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrapOp(r.client.Expire(ctx, key, ttl).Err(), "expire", key)
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Broker = (*Redis)(nil)
