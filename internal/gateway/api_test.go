// ABOUTME: Tests for the HTTP API: login, auth middleware, presence, and tasks
// ABOUTME: Drives the fully wired mux through httptest with an in-memory store

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2389/ois-gateway/internal/auth"
	"github.com/2389/ois-gateway/internal/config"
	"github.com/2389/ois-gateway/internal/store"
)

const testPassword = "correct horse"

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing test password: %v", err)
	}

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: ":memory:", MaxHistory: 500},
		Auth: config.AuthConfig{
			JWTSecret:    "test-secret",
			PasswordHash: hash,
		},
		Agents: config.AgentsConfig{
			Tokens: []config.AgentEntry{
				{Token: "aria-tok", ID: "aria", DisplayName: "ARIA Assistant"},
			},
			HeartbeatInterval: 30 * time.Second,
			CommandTimeout:    time.Second,
		},
		Scheduler: config.SchedulerConfig{Interval: time.Minute},
	}

	gw, err := New(cfg, slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = gw.store.Close() })
	return gw
}

func (g *Gateway) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	g.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func (g *Gateway) login(t *testing.T) string {
	t.Helper()

	rec := g.do(t, http.MethodPost, "/api/login", "", LoginRequest{
		Username: "alice", Password: testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	return resp.Token
}

func TestLogin(t *testing.T) {
	gw := newTestGateway(t)

	t.Run("success", func(t *testing.T) {
		token := gw.login(t)
		if token == "" {
			t.Fatal("expected non-empty session token")
		}
		if user, err := gw.sessions.Verify(token); err != nil || user != "alice" {
			t.Errorf("Verify(token) = (%q, %v), want alice", user, err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := gw.do(t, http.MethodPost, "/api/login", "", LoginRequest{
			Username: "alice", Password: "nope",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("missing username", func(t *testing.T) {
		rec := gw.do(t, http.MethodPost, "/api/login", "", LoginRequest{Password: testPassword})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestAuthMiddleware(t *testing.T) {
	gw := newTestGateway(t)

	tests := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"garbage token", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := gw.do(t, http.MethodGet, "/api/messages", tt.token, nil)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestAgentStatuses(t *testing.T) {
	gw := newTestGateway(t)
	token := gw.login(t)

	if err := gw.presence.OnConnect(t.Context(), "aria", "ARIA Assistant"); err != nil {
		t.Fatalf("OnConnect() error = %v", err)
	}

	rec := gw.do(t, http.MethodGet, "/api/agents/status", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp struct {
		Agents []AgentStatusResponse `json:"agents"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Agents) != 1 {
		t.Fatalf("agents = %d, want 1", len(resp.Agents))
	}
	agent := resp.Agents[0]
	if agent.Name != "aria" || agent.Status != store.StatusOnline {
		t.Errorf("agent = %+v, want aria online", agent)
	}
	// Online in the durable record, but no live transport on this instance.
	if agent.Connected {
		t.Error("Connected = true without a registered transport")
	}
}

func TestConnectedAgentsEmpty(t *testing.T) {
	gw := newTestGateway(t)
	token := gw.login(t)

	rec := gw.do(t, http.MethodGet, "/api/agents/connected", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"agents\":[]}\n" {
		t.Errorf("body = %q, want empty agents array", got)
	}
}

func TestCommandEndpoint(t *testing.T) {
	gw := newTestGateway(t)
	token := gw.login(t)

	t.Run("disallowed command", func(t *testing.T) {
		rec := gw.do(t, http.MethodPost, "/api/agents/aria/command", token,
			CommandRequest{Command: "rm_rf"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("agent not connected", func(t *testing.T) {
		rec := gw.do(t, http.MethodPost, "/api/agents/aria/command", token,
			CommandRequest{Command: "ping"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestMessagesEndpoint(t *testing.T) {
	gw := newTestGateway(t)
	token := gw.login(t)

	for i := 1; i <= 3; i++ {
		_, err := gw.store.AppendMessage(t.Context(), &store.Message{
			User: "alice",
			Text: fmt.Sprintf("message %d", i),
			Time: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	rec := gw.do(t, http.MethodGet, "/api/messages?limit=2", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Messages []*store.Message `json:"messages"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(resp.Messages))
	}
	// Most recent two, oldest first.
	if resp.Messages[0].Text != "message 2" || resp.Messages[1].Text != "message 3" {
		t.Errorf("messages = [%s, %s], want [message 2, message 3]",
			resp.Messages[0].Text, resp.Messages[1].Text)
	}

	t.Run("bad limit", func(t *testing.T) {
		rec := gw.do(t, http.MethodGet, "/api/messages?limit=zero", token, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestTaskLifecycle(t *testing.T) {
	gw := newTestGateway(t)
	token := gw.login(t)

	rec := gw.do(t, http.MethodPost, "/api/tasks", token, CreateTaskRequest{
		Title:            "rotate credentials",
		Assignee:         "aria",
		Priority:         "high",
		FollowUpInterval: "2h",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body)
	}
	var created store.Task
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decoding created task: %v", err)
	}
	if created.ID == 0 || created.Status != store.TaskPending {
		t.Errorf("created = %+v, want pending task with id", created)
	}

	path := fmt.Sprintf("/api/tasks/%d", created.ID)

	rec = gw.do(t, http.MethodGet, path, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	status := store.TaskInProgress
	rec = gw.do(t, http.MethodPatch, path, token, UpdateTaskRequest{Status: &status})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body = %s", rec.Code, rec.Body)
	}
	var updated store.Task
	if err := json.NewDecoder(rec.Body).Decode(&updated); err != nil {
		t.Fatalf("decoding updated task: %v", err)
	}
	if updated.Status != store.TaskInProgress {
		t.Errorf("status = %q, want in_progress", updated.Status)
	}

	rec = gw.do(t, http.MethodGet, "/api/tasks?status=in_progress", token, nil)
	var listed struct {
		Tasks []*store.Task `json:"tasks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decoding task list: %v", err)
	}
	if len(listed.Tasks) != 1 {
		t.Errorf("filtered tasks = %d, want 1", len(listed.Tasks))
	}

	rec = gw.do(t, http.MethodDelete, path, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = gw.do(t, http.MethodGet, path, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestTaskValidation(t *testing.T) {
	gw := newTestGateway(t)
	token := gw.login(t)

	t.Run("missing title", func(t *testing.T) {
		rec := gw.do(t, http.MethodPost, "/api/tasks", token, CreateTaskRequest{Assignee: "aria"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("invalid follow-up interval", func(t *testing.T) {
		rec := gw.do(t, http.MethodPost, "/api/tasks", token, CreateTaskRequest{
			Title: "t", FollowUpInterval: "whenever",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("invalid status on update", func(t *testing.T) {
		rec := gw.do(t, http.MethodPost, "/api/tasks", token, CreateTaskRequest{Title: "t"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create status = %d", rec.Code)
		}
		var created store.Task
		if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
			t.Fatalf("decoding created task: %v", err)
		}

		bogus := "paused"
		rec = gw.do(t, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", created.ID), token,
			UpdateTaskRequest{Status: &bogus})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		rec := gw.do(t, http.MethodGet, "/api/tasks/99999", token, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	gw := newTestGateway(t)

	for _, path := range []string{"/health", "/health/ready"} {
		rec := gw.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
