// ABOUTME: Tests for the frame router's auth, chat, ack, and disconnect paths
// ABOUTME: Drives handleFrame and handleClose directly against in-memory fakes

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/2389/ois-gateway/internal/auth"
	"github.com/2389/ois-gateway/internal/store"
)

type fakeSessions struct {
	users map[string]string // token -> user
}

func (f *fakeSessions) Verify(token string) (string, error) {
	user, ok := f.users[token]
	if !ok {
		return "", errors.New("invalid token")
	}
	return user, nil
}

type fakeAgents struct {
	byToken map[string]auth.AgentIdentity
	all     []auth.AgentIdentity
}

func (f *fakeAgents) VerifyToken(token string) (auth.AgentIdentity, bool) {
	id, ok := f.byToken[token]
	return id, ok
}

func (f *fakeAgents) Agents() []auth.AgentIdentity { return f.all }

type fakeChat struct {
	messages []*store.Message
	history  []*store.Message
	histReqs []int
}

func (f *fakeChat) AppendMessage(_ context.Context, msg *store.Message) (*store.Message, error) {
	saved := *msg
	saved.ID = int64(len(f.messages) + 1)
	f.messages = append(f.messages, &saved)
	return &saved, nil
}

func (f *fakeChat) RecentMessages(_ context.Context, limit int) ([]*store.Message, error) {
	f.histReqs = append(f.histReqs, limit)
	return f.history, nil
}

type fakePresence struct {
	connects    []string
	disconnects []string
	statuses    []*store.AgentStatus
}

func (f *fakePresence) OnConnect(_ context.Context, name, _ string) error {
	f.connects = append(f.connects, name)
	return nil
}

func (f *fakePresence) OnDisconnect(_ context.Context, name string) error {
	f.disconnects = append(f.disconnects, name)
	return nil
}

func (f *fakePresence) Statuses(context.Context) ([]*store.AgentStatus, error) {
	return f.statuses, nil
}

type routerFixture struct {
	router   *Router
	sessions *fakeSessions
	agents   *fakeAgents
	chat     *fakeChat
	presence *fakePresence
	registry *Registry
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	logger := slog.Default()
	registry := NewRegistry(logger)
	f := &routerFixture{
		sessions: &fakeSessions{users: map[string]string{"human-tok": "alice"}},
		agents: &fakeAgents{
			byToken: map[string]auth.AgentIdentity{
				"aria-tok": {ID: "aria", DisplayName: "ARIA Assistant"},
			},
			all: []auth.AgentIdentity{{ID: "aria", DisplayName: "ARIA Assistant"}},
		},
		chat:     &fakeChat{},
		presence: &fakePresence{},
		registry: registry,
	}
	f.router = NewRouter(RouterParams{
		Sessions:   f.sessions,
		Agents:     f.agents,
		Chat:       f.chat,
		Presence:   f.presence,
		Registry:   registry,
		Dispatcher: NewDispatcher(registry, time.Second, logger),
		Logger:     logger,
	})
	return f
}

// connect creates an accepted, tracked connection without a websocket.
func (f *routerFixture) connect(t *testing.T) *Conn {
	t.Helper()
	c, _ := newTestConn()
	f.router.addClient(c)
	return c
}

func TestRouter_Ping(t *testing.T) {
	f := newRouterFixture(t)
	c := f.connect(t)

	f.router.handleFrame(context.Background(), c, PingFrame{})

	got := frameTypes(queuedFrames(t, c))
	if len(got) != 1 || got[0] != "pong" {
		t.Errorf("frames = %v, want [pong]", got)
	}
}

func TestRouter_HumanAuthSuccess(t *testing.T) {
	f := newRouterFixture(t)
	f.chat.history = []*store.Message{{ID: 1, User: "bob", Text: "hi"}}
	c := f.connect(t)

	f.router.handleFrame(context.Background(), c, AuthFrame{Token: "human-tok"})

	if c.Role() != RoleHuman || c.User() != "alice" {
		t.Errorf("role=%v user=%q after auth", c.Role(), c.User())
	}

	got := frameTypes(queuedFrames(t, c))
	want := []string{"auth_ok", "history", "agent_statuses"}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if len(f.chat.histReqs) != 1 || f.chat.histReqs[0] != humanHistoryLimit {
		t.Errorf("history limits = %v, want [%d]", f.chat.histReqs, humanHistoryLimit)
	}
}

func TestRouter_HumanAuthFailureKeepsConnectionOpen(t *testing.T) {
	f := newRouterFixture(t)
	c := f.connect(t)

	f.router.handleFrame(context.Background(), c, AuthFrame{Token: "wrong"})

	got := frameTypes(queuedFrames(t, c))
	if len(got) != 1 || got[0] != "auth_fail" {
		t.Errorf("frames = %v, want [auth_fail]", got)
	}
	if c.Closed() {
		t.Error("failed auth must not close the connection")
	}
	if c.Authenticated() {
		t.Error("failed auth must leave the connection unauthenticated")
	}
}

func TestRouter_AgentAuth(t *testing.T) {
	f := newRouterFixture(t)
	c := f.connect(t)

	f.router.handleFrame(context.Background(), c, AgentAuthFrame{Token: "aria-tok"})

	if c.Role() != RoleAgent {
		t.Fatalf("role = %v, want RoleAgent", c.Role())
	}
	if f.registry.LookupLive("aria") != c {
		t.Error("agent connection must be registered under its identity")
	}
	if len(f.presence.connects) != 1 || f.presence.connects[0] != "aria" {
		t.Errorf("presence connects = %v, want [aria]", f.presence.connects)
	}

	got := frameTypes(queuedFrames(t, c))
	// auth_ok, agent-sized history, then its own online broadcast.
	want := []string{"auth_ok", "history", "agent_status"}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	if len(f.chat.histReqs) != 1 || f.chat.histReqs[0] != agentHistoryLimit {
		t.Errorf("history limits = %v, want [%d]", f.chat.histReqs, agentHistoryLimit)
	}
}

func TestRouter_AgentAuthEvictsPriorTransport(t *testing.T) {
	f := newRouterFixture(t)
	first := f.connect(t)
	second := f.connect(t)

	f.router.handleFrame(context.Background(), first, AgentAuthFrame{Token: "aria-tok"})
	f.router.handleFrame(context.Background(), second, AgentAuthFrame{Token: "aria-tok"})

	if !first.Closed() {
		t.Error("prior transport must be evicted on duplicate agent auth")
	}
	if f.registry.LookupLive("aria") != second {
		t.Error("registry must point at the newest transport")
	}

	// The evicted socket's close path runs later and must not emit a
	// spurious offline transition.
	f.router.handleClose(first)
	if len(f.presence.disconnects) != 0 {
		t.Errorf("disconnects = %v, want none from superseded transport", f.presence.disconnects)
	}
}

func TestRouter_ChatBroadcast(t *testing.T) {
	f := newRouterFixture(t)

	sender := f.connect(t)
	f.router.handleFrame(context.Background(), sender, AuthFrame{Token: "human-tok"})
	queuedFrames(t, sender) // drain auth frames

	observer := f.connect(t)
	f.router.handleFrame(context.Background(), observer, AgentAuthFrame{Token: "aria-tok"})
	queuedFrames(t, observer)

	stranger := f.connect(t) // never authenticates

	f.router.handleFrame(context.Background(), sender, ChatFrame{Text: "hey @aria"})

	if len(f.chat.messages) != 1 {
		t.Fatalf("persisted messages = %d, want 1", len(f.chat.messages))
	}
	msg := f.chat.messages[0]
	if msg.User != "alice" {
		t.Errorf("author = %q, want alice", msg.User)
	}
	if len(msg.Mentions) != 1 || msg.Mentions[0] != "ARIA" {
		t.Errorf("mentions = %v, want [ARIA]", msg.Mentions)
	}

	for name, c := range map[string]*Conn{"sender": sender, "observer": observer} {
		got := frameTypes(queuedFrames(t, c))
		if len(got) != 1 || got[0] != "message" {
			t.Errorf("%s frames = %v, want [message]", name, got)
		}
	}
	if got := queuedFrames(t, stranger); len(got) != 0 {
		t.Errorf("unauthenticated connection received %v", got)
	}
}

func TestRouter_ChatFromUnauthenticatedDropped(t *testing.T) {
	f := newRouterFixture(t)
	c := f.connect(t)

	f.router.handleFrame(context.Background(), c, ChatFrame{Text: "hello?"})

	if len(f.chat.messages) != 0 {
		t.Errorf("persisted %d messages from unauthenticated sender", len(f.chat.messages))
	}
}

func TestRouter_CommandAckFromNonAgentDropped(t *testing.T) {
	f := newRouterFixture(t)

	agent := f.connect(t)
	f.router.handleFrame(context.Background(), agent, AgentAuthFrame{Token: "aria-tok"})
	queuedFrames(t, agent)

	errs := make(chan error, 1)
	go func() {
		_, err := f.router.dispatcher.Send(context.Background(), "aria", "ping", nil)
		errs <- err
	}()
	waitFor(t, func() bool { return f.router.dispatcher.PendingCount() == 1 })
	queuedFrames(t, agent) // drain the command frame

	human := f.connect(t)
	f.router.handleFrame(context.Background(), human, AuthFrame{Token: "human-tok"})
	queuedFrames(t, human)

	// A human forging an ack must not resolve the command.
	f.router.handleFrame(context.Background(), human, CommandAckFrame{ID: "cmd-1"})
	if f.router.dispatcher.PendingCount() != 1 {
		t.Fatal("forged ack resolved a pending command")
	}

	f.router.handleFrame(context.Background(), agent, CommandAckFrame{
		ID: "cmd-1", Result: json.RawMessage(`"pong"`),
	})
	if err := <-errs; err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

func TestRouter_AgentCloseEmitsOneOffline(t *testing.T) {
	f := newRouterFixture(t)

	agent := f.connect(t)
	f.router.handleFrame(context.Background(), agent, AgentAuthFrame{Token: "aria-tok"})

	observer := f.connect(t)
	f.router.handleFrame(context.Background(), observer, AuthFrame{Token: "human-tok"})
	queuedFrames(t, observer)

	f.router.handleClose(agent)

	if len(f.presence.disconnects) != 1 || f.presence.disconnects[0] != "aria" {
		t.Errorf("disconnects = %v, want [aria]", f.presence.disconnects)
	}
	if f.registry.LookupLive("aria") != nil {
		t.Error("identity must be unregistered after close")
	}

	frames := queuedFrames(t, observer)
	if len(frames) != 1 || frames[0]["type"] != "agent_status" || frames[0]["status"] != store.StatusOffline {
		t.Errorf("observer frames = %v, want one offline agent_status", frames)
	}
}

func TestRouter_HumanCloseIsSilent(t *testing.T) {
	f := newRouterFixture(t)

	human := f.connect(t)
	f.router.handleFrame(context.Background(), human, AuthFrame{Token: "human-tok"})

	f.router.handleClose(human)

	if len(f.presence.disconnects) != 0 {
		t.Errorf("disconnects = %v, want none for operator close", f.presence.disconnects)
	}
}

func TestRouter_SystemMessage(t *testing.T) {
	f := newRouterFixture(t)

	observer := f.connect(t)
	f.router.handleFrame(context.Background(), observer, AuthFrame{Token: "human-tok"})
	queuedFrames(t, observer)

	if err := f.router.SystemMessage(context.Background(), "[Task Reminder] ping", []string{"ARIA"}); err != nil {
		t.Fatalf("SystemMessage() error = %v", err)
	}

	if len(f.chat.messages) != 1 || f.chat.messages[0].User != "OIS System" {
		t.Fatalf("messages = %+v, want one system-authored message", f.chat.messages)
	}

	got := frameTypes(queuedFrames(t, observer))
	if len(got) != 1 || got[0] != "message" {
		t.Errorf("observer frames = %v, want [message]", got)
	}
}
