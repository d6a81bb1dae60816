// Package hub is the realtime coordination core of ois-gateway.
//
// # Overview
//
// The hub manages every live WebSocket connection: human operators and
// autonomous agent processes. It covers the connection/identity
// registry, heartbeat liveness detection, the per-frame protocol state
// machine, correlated command dispatch, and broadcast fan-out.
//
// # Protocol
//
// Frames are JSON objects with a "type" tag, decoded at the boundary
// into a closed variant set (see frames.go). A connection starts
// unauthenticated; an auth frame (operator session token) or
// agent_auth frame (static agent token) moves it to its terminal
// authenticated state. Malformed frames are logged and dropped without
// closing the connection.
//
// # Registry
//
// The Registry enforces at most one live transport per agent identity.
// A second successful agent_auth for the same identity evicts the
// first; the evicted socket's close handling is instance-guarded so it
// cannot unregister its replacement or emit a spurious offline event.
//
// # Command Dispatch
//
//	result, err := dispatcher.Send(ctx, "aria", "status", nil)
//
// Each command gets a monotonically increasing correlation id and a
// pending entry with a 30s deadline. The entry resolves exactly once:
// ack arrival and deadline expiry race, first writer wins, the loser
// is a no-op. Acks match strictly by id, never by arrival order.
//
// # Liveness
//
// The LivenessMonitor pings every open connection each interval. A
// connection still silent at the next tick is terminated; detection
// latency is bounded between one and two intervals.
//
// # Broadcast
//
// Broadcast serializes a frame once and delivers it best-effort to
// every authenticated connection. Backlogged recipients are skipped;
// missed frames are recovered only via history replay on reconnect.
package hub
