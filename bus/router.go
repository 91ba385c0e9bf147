package bus

import (
	"github.com/ralflukner/devcomm/message"
)

// Target is one channel a message must be appended to.
type Target struct {
	// Channel is the broker channel name.
	Channel string

	// MaxLen is the approximate bound the broker may trim the channel to.
	MaxLen int64

	// Copy marks a broadcast mirror of a targeted message. The mirrored
	// entry carries the copy tag so readers can tell it from the original.
	Copy bool
}

// Router maps a message to its delivery targets.
type Router struct {
	// Channels names the keyspace. Zero value uses defaults.
	Channels Channels

	// StreamMaxLen bounds broadcast and inbox channels.
	// Default: 1000
	StreamMaxLen int64

	// ThreadMaxLen bounds thread streams.
	// Default: 100
	ThreadMaxLen int64
}

func (r *Router) streamMaxLen() int64 {
	if r.StreamMaxLen <= 0 {
		return DefaultStreamMaxLen
	}
	return r.StreamMaxLen
}

func (r *Router) threadMaxLen() int64 {
	if r.ThreadMaxLen <= 0 {
		return DefaultThreadMaxLen
	}
	return r.ThreadMaxLen
}

// Route returns the channels the message lands on, in delivery order:
//
//   - a broadcast goes to the shared channel;
//   - a targeted message goes to the recipient's inbox, plus a copy-tagged
//     mirror on the broadcast channel so the rest of the team keeps
//     visibility into directed traffic;
//   - a message in a thread additionally lands on the thread's stream.
func (r *Router) Route(m *message.Message) []Target {
	var targets []Target

	if m.IsBroadcast() {
		targets = append(targets, Target{Channel: r.Channels.Broadcast(), MaxLen: r.streamMaxLen()})
	} else {
		targets = append(targets,
			Target{Channel: r.Channels.Inbox(m.To), MaxLen: r.streamMaxLen()},
			Target{Channel: r.Channels.Broadcast(), MaxLen: r.streamMaxLen(), Copy: true})
	}

	if m.ThreadID != "" {
		targets = append(targets, Target{Channel: r.Channels.Thread(m.ThreadID), MaxLen: r.threadMaxLen()})
	}
	return targets
}
