// ABOUTME: MessageRouter drives the per-connection protocol state machine
// ABOUTME: Handles auth, chat fan-out, command acks, and disconnect bookkeeping

package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/ois-gateway/internal/auth"
	"github.com/2389/ois-gateway/internal/store"
)

// History snapshot sizes sent after a successful auth.
const (
	humanHistoryLimit = 100
	agentHistoryLimit = 50
)

// SessionVerifier validates operator session tokens.
type SessionVerifier interface {
	Verify(token string) (user string, err error)
}

// AgentAuthenticator resolves agent tokens and enumerates known agents.
type AgentAuthenticator interface {
	VerifyToken(token string) (auth.AgentIdentity, bool)
	Agents() []auth.AgentIdentity
}

// ChatLog is the durable append-only message log.
type ChatLog interface {
	AppendMessage(ctx context.Context, msg *store.Message) (*store.Message, error)
	RecentMessages(ctx context.Context, limit int) ([]*store.Message, error)
}

// PresenceTracker records connect/disconnect transitions and serves
// merged presence snapshots.
type PresenceTracker interface {
	OnConnect(ctx context.Context, name, displayName string) error
	OnDisconnect(ctx context.Context, name string) error
	Statuses(ctx context.Context) ([]*store.AgentStatus, error)
}

// RouterParams collects the collaborators a Router needs.
type RouterParams struct {
	Sessions   SessionVerifier
	Agents     AgentAuthenticator
	Chat       ChatLog
	Presence   PresenceTracker
	Registry   *Registry
	Dispatcher *Dispatcher
	Logger     *slog.Logger
}

// Router owns every accepted connection: it authenticates transports,
// routes frames, and fans broadcast frames out to authenticated
// clients.
type Router struct {
	sessions   SessionVerifier
	agents     AgentAuthenticator
	chat       ChatLog
	presence   PresenceTracker
	registry   *Registry
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu      sync.RWMutex
	clients map[*Conn]struct{}
}

// NewRouter creates a Router.
func NewRouter(p RouterParams) *Router {
	return &Router{
		sessions:   p.Sessions,
		agents:     p.Agents,
		chat:       p.Chat,
		presence:   p.Presence,
		registry:   p.Registry,
		dispatcher: p.Dispatcher,
		logger:     p.Logger,
		clients:    make(map[*Conn]struct{}),
	}
}

// HandleWS upgrades an HTTP request to a WebSocket and serves it until
// the transport closes.
func (r *Router) HandleWS(w http.ResponseWriter, req *http.Request) {
	sock, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := NewConn(sock, r.logger)
	r.addClient(c)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	go c.writeLoop(ctx)

	defer r.handleClose(c)
	r.readLoop(ctx, c)
}

// readLoop consumes frames until the transport closes or errors.
func (r *Router) readLoop(ctx context.Context, c *Conn) {
	for {
		data, err := c.Read(ctx)
		if err != nil {
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			// Malformed frames are dropped; the connection stays open.
			r.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		r.handleFrame(ctx, c, frame)
	}
}

// handleFrame applies one decoded frame to the connection's state.
func (r *Router) handleFrame(ctx context.Context, c *Conn, frame Frame) {
	switch f := frame.(type) {
	case PingFrame:
		r.trySend(c, newPong())

	case AuthFrame:
		r.handleHumanAuth(ctx, c, f)

	case AgentAuthFrame:
		r.handleAgentAuth(ctx, c, f)

	case ChatFrame:
		if !c.Authenticated() {
			r.logger.Warn("dropping chat frame from unauthenticated connection")
			return
		}
		r.handleChat(ctx, c, f)

	case CommandAckFrame:
		if c.Role() != RoleAgent {
			r.logger.Warn("dropping command_ack from non-agent connection")
			return
		}
		if !r.dispatcher.Resolve(f.ID, f.Result) {
			r.logger.Debug("ack for unknown command", "id", f.ID, "identity", c.Identity().ID)
		}
	}
}

// handleHumanAuth verifies a session token. Failure leaves the
// connection open and unauthenticated for retry.
func (r *Router) handleHumanAuth(ctx context.Context, c *Conn, f AuthFrame) {
	user, err := r.sessions.Verify(f.Token)
	if err != nil {
		r.logger.Info("operator auth failed", "error", err)
		r.trySend(c, newAuthFail())
		return
	}

	c.SetHuman(user)
	r.trySend(c, newAuthOK(user, false))
	r.sendHistory(ctx, c, humanHistoryLimit)

	statuses, err := r.presence.Statuses(ctx)
	if err != nil {
		r.logger.Error("loading presence snapshot", "error", err)
	} else {
		r.trySend(c, newAgentStatuses(statuses))
	}

	r.logger.Info("operator authenticated", "user", user)
}

// handleAgentAuth resolves an agent token, registers the connection
// (evicting any prior transport for the identity), and announces the
// agent online.
func (r *Router) handleAgentAuth(ctx context.Context, c *Conn, f AgentAuthFrame) {
	identity, ok := r.agents.VerifyToken(f.Token)
	if !ok {
		r.logger.Info("agent auth failed")
		r.trySend(c, newAuthFail())
		return
	}

	c.SetAgent(identity)
	r.registry.Register(identity.ID, c)

	r.trySend(c, newAuthOK(identity.ID, true))
	r.sendHistory(ctx, c, agentHistoryLimit)

	if err := r.presence.OnConnect(ctx, identity.ID, identity.DisplayName); err != nil {
		r.logger.Error("recording agent connect", "identity", identity.ID, "error", err)
	}
	r.Broadcast(newAgentStatus(identity.ID, store.StatusOnline))

	r.logger.Info("agent authenticated", "identity", identity.ID, "display_name", identity.DisplayName)
}

// handleChat appends the message to the durable log and broadcasts it.
func (r *Router) handleChat(ctx context.Context, c *Conn, f ChatFrame) {
	msg := &store.Message{
		User:        c.User(),
		Text:        f.Text,
		Time:        time.Now().UTC(),
		Mentions:    DetectMentions(f.Text, r.agents.Agents()),
		Attachments: f.Attachments,
	}

	saved, err := r.chat.AppendMessage(ctx, msg)
	if err != nil {
		r.logger.Error("appending chat message", "user", msg.User, "error", err)
		return
	}

	r.Broadcast(newMessage(saved))
}

// handleClose runs when a transport's read loop exits. Only the
// connection still registered for the identity emits the offline
// transition; a superseded socket closing later is silent.
func (r *Router) handleClose(c *Conn) {
	r.removeClient(c)
	c.Terminate()

	if c.Role() != RoleAgent {
		return
	}

	identity := c.Identity().ID
	if !r.registry.Unregister(identity, c) {
		return
	}

	ctx := context.Background()
	if err := r.presence.OnDisconnect(ctx, identity); err != nil {
		r.logger.Error("recording agent disconnect", "identity", identity, "error", err)
	}
	r.Broadcast(newAgentStatus(identity, store.StatusOffline))

	r.logger.Info("agent disconnected", "identity", identity)
}

// Broadcast serializes the frame once and delivers it to every
// authenticated connection. Delivery is best-effort and at-most-once:
// closed or backlogged recipients are skipped, never retried. Missed
// frames are recovered only via history replay on reconnect.
func (r *Router) Broadcast(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("marshaling broadcast frame", "error", err)
		return
	}

	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.clients))
	for c := range r.clients {
		if c.Authenticated() {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.SendRaw(data); err != nil {
			r.logger.Debug("skipping broadcast recipient", "user", c.User(), "error", err)
		}
	}
}

// SystemMessage appends and broadcasts a message authored by the
// system user. Used by the reminder scheduler.
func (r *Router) SystemMessage(ctx context.Context, text string, mentions []string) error {
	msg := &store.Message{
		User:     "OIS System",
		Text:     text,
		Time:     time.Now().UTC(),
		Mentions: mentions,
	}

	saved, err := r.chat.AppendMessage(ctx, msg)
	if err != nil {
		return err
	}

	r.Broadcast(newMessage(saved))
	return nil
}

// Connections returns a snapshot of every accepted connection,
// authenticated or not. Used by the liveness monitor.
func (r *Router) Connections() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.clients))
	for c := range r.clients {
		conns = append(conns, c)
	}
	return conns
}

// sendHistory replays recent chat history to a newly authenticated
// connection.
func (r *Router) sendHistory(ctx context.Context, c *Conn, limit int) {
	messages, err := r.chat.RecentMessages(ctx, limit)
	if err != nil {
		r.logger.Error("loading chat history", "error", err)
		return
	}
	r.trySend(c, newHistory(messages))
}

// trySend delivers a frame to one connection, logging delivery failure.
func (r *Router) trySend(c *Conn, frame any) {
	if err := c.Send(frame); err != nil {
		r.logger.Debug("dropping frame for connection", "error", err)
	}
}

func (r *Router) addClient(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
}

func (r *Router) removeClient(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
}
