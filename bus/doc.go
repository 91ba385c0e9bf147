// Package bus implements inter-agent messaging over an append-only log
// broker.
//
// The package is organized around small composable components:
//
//   - Channels names the broker keyspace (broadcast channel, per-agent
//     inboxes, thread streams).
//   - Router maps a message to the channels it must land on.
//   - Sender delivers with retry, a fallback journal, and optional dedup
//     and rate-limit gates.
//   - Listener tails an agent's inbox and the broadcast channel directly.
//   - Dispatcher consumes an inbox through a consumer group and routes
//     entries to action handlers, acknowledging each one.
//   - Correlator layers blocking request/response on top of Sender and the
//     inbox.
//   - Threads starts and reads bounded conversation streams.
//
// Direct mode (Listener) gives every agent its own cursor and suits
// broadcast fan-out. Group mode (Dispatcher) load-balances an inbox across
// replica consumers with at-least-once delivery. An agent typically runs
// one or the other per channel, not both.
package bus
