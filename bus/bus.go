package bus

import (
	"context"
	"errors"

	"github.com/ralflukner/devcomm/broker"
	buserr "github.com/ralflukner/devcomm/errors"
)

// Common errors.
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
)

func buserrPanic(r any) error {
	return buserr.Newf(buserr.CodeInternal, "handler panic: %v", r)
}

// channelTail returns the id of a channel's newest entry, or a cursor
// before any entry when the channel is empty.
func channelTail(ctx context.Context, b broker.Broker, channel string) (string, error) {
	entries, err := b.RevRange(ctx, channel, 1)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "0-0", nil
	}
	return entries[0].ID, nil
}
