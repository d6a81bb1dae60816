// ABOUTME: Correlated command dispatch to agent connections with bounded timeout
// ABOUTME: Pending entries resolve exactly once, by ack arrival or deadline expiry

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Dispatch errors
var (
	// ErrNotConnected means the command target has no live transport.
	// Never retried by this layer.
	ErrNotConnected = errors.New("agent not connected")

	// ErrTimeout means no ack arrived within the deadline. The pending
	// entry is discarded; a late ack is a no-op.
	ErrTimeout = errors.New("command timed out")
)

// commandResult carries the outcome of one pending command.
type commandResult struct {
	result json.RawMessage
	err    error
}

// pendingCommand is one in-flight command awaiting its ack.
type pendingCommand struct {
	identity string
	issuedAt time.Time
	timer    *time.Timer
	ch       chan commandResult // buffered; the single-fire result slot
}

// Dispatcher sends commands to agent connections and correlates each
// eventual acknowledgement by id. Multiple outstanding commands to the
// same identity are independent and may be acknowledged out of order.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[string]*pendingCommand
}

// NewDispatcher creates a dispatcher with the given ack timeout.
func NewDispatcher(registry *Registry, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		pending:  make(map[string]*pendingCommand),
	}
}

// Send dispatches a command to the identity's live transport and waits
// for the matching ack or the deadline, whichever comes first. Command
// name allow-listing is the caller's responsibility.
func (d *Dispatcher) Send(ctx context.Context, identity, cmd string, payload json.RawMessage) (json.RawMessage, error) {
	conn := d.registry.LookupLive(identity)
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, identity)
	}

	d.mu.Lock()
	d.nextID++
	id := fmt.Sprintf("cmd-%d", d.nextID)
	p := &pendingCommand{
		identity: identity,
		issuedAt: time.Now(),
		ch:       make(chan commandResult, 1),
	}
	p.timer = time.AfterFunc(d.timeout, func() {
		if d.finish(id, commandResult{err: ErrTimeout}) {
			d.logger.Warn("command timed out", "id", id, "identity", identity, "cmd", cmd)
		}
	})
	d.pending[id] = p
	d.mu.Unlock()

	frame := CommandFrame{Type: "command", ID: id, Cmd: cmd, Payload: payload}
	if err := conn.Send(frame); err != nil {
		d.finish(id, commandResult{})
		return nil, fmt.Errorf("sending command %s to %s: %w", cmd, identity, err)
	}

	d.logger.Debug("command dispatched", "id", id, "identity", identity, "cmd", cmd)

	select {
	case res := <-p.ch:
		return res.result, res.err
	case <-ctx.Done():
		// The entry is left to time out naturally.
		return nil, ctx.Err()
	}
}

// Resolve delivers an ack for the given correlation id. Returns false
// when no pending entry exists (already resolved, timed out, or never
// issued); the loser of the ack/expiry race is a no-op.
func (d *Dispatcher) Resolve(id string, result json.RawMessage) bool {
	return d.finish(id, commandResult{result: result})
}

// finish removes the pending entry exactly once and fires its result.
func (d *Dispatcher) finish(id string, res commandResult) bool {
	d.mu.Lock()
	p, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	p.timer.Stop()
	p.ch <- res
	return true
}

// PendingCount returns the number of unresolved commands.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Drain fails all outstanding commands. Called at shutdown.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		d.finish(id, commandResult{err: ErrTimeout})
	}
}
