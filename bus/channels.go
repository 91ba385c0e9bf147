package bus

// Channel namespace defaults.
const (
	// DefaultPrefix roots the broker keyspace.
	DefaultPrefix = "dev:"

	// broadcastName is the shared channel every agent listens on.
	broadcastName = "general"

	// DefaultStreamMaxLen bounds broadcast and inbox channels.
	DefaultStreamMaxLen = 1000

	// DefaultThreadMaxLen bounds per-thread streams.
	DefaultThreadMaxLen = 100
)

// Channels names the broker keyspace for one deployment. The zero value
// uses the default prefix.
type Channels struct {
	// Prefix roots every key. Default: "dev:"
	Prefix string
}

func (c Channels) prefix() string {
	if c.Prefix == "" {
		return DefaultPrefix
	}
	return c.Prefix
}

// Broadcast is the shared channel all agents see.
func (c Channels) Broadcast() string {
	return c.prefix() + "channels:" + broadcastName
}

// Inbox is the channel addressed to a single agent.
func (c Channels) Inbox(agentID string) string {
	return c.prefix() + "channels:" + agentID
}

// Thread is the bounded stream holding one conversation.
func (c Channels) Thread(threadID string) string {
	return c.prefix() + "threads:" + threadID
}
