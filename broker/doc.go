// Package broker abstracts the append-only log / key-value service the
// devcomm bus is built on.
//
// A Broker exposes two resource kinds:
//
//   - channels: named append-only logs with monotonically increasing entry
//     ids, range reads, blocking tail reads and consumer groups with
//     per-entry acknowledgment
//   - keys: expiring values with atomic set-if-absent and atomic increment
//
// Two bindings are provided. Redis maps the contract onto Redis streams and
// keys and is the production binding. Memory is a process-local implementation
// with the same semantics, used by tests and single-process setups.
//
// A Broker must be safe for concurrent use: the presence heartbeat, listener
// loop and ad-hoc sends of one agent process all share a single instance.
package broker
