// ABOUTME: Represents a single connected transport and manages its outbound queue
// ABOUTME: Tracks authentication state, role, and heartbeat liveness per connection

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/ois-gateway/internal/auth"
)

const (
	// sendQueueSize is the outbound buffer per connection. Broadcasts to
	// a connection whose queue is full are dropped, not retried.
	sendQueueSize = 64

	// writeTimeout bounds a single frame write to the socket.
	writeTimeout = 5 * time.Second
)

// Connection errors
var (
	ErrConnClosed = errors.New("connection closed")
	ErrBacklogged = errors.New("connection send queue full")
)

// Role is the authenticated participant kind of a connection.
type Role int

const (
	RoleNone Role = iota // not yet authenticated
	RoleHuman
	RoleAgent
)

// socket abstracts the underlying websocket for testing.
type socket interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	CloseNow() error
}

// Conn is one live transport. It is created on accept, owned by the
// Router for its lifetime, and destroyed on close or termination.
type Conn struct {
	sock   socket
	sendq  chan []byte
	logger *slog.Logger

	mu       sync.Mutex
	role     Role
	user     string             // operator username, or agent display name
	identity auth.AgentIdentity // set for RoleAgent only
	alive    bool
	lastPong time.Time
	closed   bool
}

// NewConn wraps an accepted socket. The connection starts
// unauthenticated and alive.
func NewConn(sock socket, logger *slog.Logger) *Conn {
	return &Conn{
		sock:   sock,
		sendq:  make(chan []byte, sendQueueSize),
		logger: logger,
		alive:  true,
	}
}

// writeLoop drains the outbound queue onto the socket. It exits when
// the context is cancelled or a write fails; either way the connection
// is marked closed so subsequent sends are skipped.
func (c *Conn) writeLoop(ctx context.Context) {
	defer c.markClosed()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.sendq:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.sock.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.logger.Debug("write failed, closing connection", "error", err)
				_ = c.sock.CloseNow()
				return
			}
		}
	}
}

// Send marshals v and enqueues it for delivery.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw enqueues pre-serialized frame bytes. Returns ErrConnClosed
// for a dead connection and ErrBacklogged when the queue is full; the
// frame is dropped in both cases.
func (c *Conn) SendRaw(data []byte) error {
	if c.Closed() {
		return ErrConnClosed
	}
	select {
	case c.sendq <- data:
		return nil
	default:
		return ErrBacklogged
	}
}

// Read returns the next raw frame from the socket.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.sock.Read(ctx)
	return data, err
}

// Ping sends a protocol-level ping and blocks until the pong arrives
// or the context expires. A received pong marks the connection alive.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.sock.Ping(ctx); err != nil {
		return err
	}
	c.markAlive()
	return nil
}

// Terminate forcibly closes the transport. The read loop observes the
// closure and runs normal disconnect handling.
func (c *Conn) Terminate() {
	c.markClosed()
	_ = c.sock.CloseNow()
}

// SetHuman marks the connection as an authenticated operator.
func (c *Conn) SetHuman(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = RoleHuman
	c.user = user
}

// SetAgent marks the connection as an authenticated agent.
func (c *Conn) SetAgent(identity auth.AgentIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = RoleAgent
	c.identity = identity
	c.user = identity.DisplayName
}

// Role returns the authenticated role, RoleNone before authentication.
func (c *Conn) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Authenticated reports whether either auth flow has completed.
func (c *Conn) Authenticated() bool {
	return c.Role() != RoleNone
}

// User returns the display name used as chat message author.
func (c *Conn) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Identity returns the agent identity; zero value for non-agents.
func (c *Conn) Identity() auth.AgentIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Alive reports whether a pong has arrived since the last ClearAlive.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// ClearAlive resets the liveness flag at the start of a heartbeat round.
func (c *Conn) ClearAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = false
}

// LastPong returns the time of the most recent pong.
func (c *Conn) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// Closed reports whether the connection is no longer writable.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) markAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = true
	c.lastPong = time.Now()
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
