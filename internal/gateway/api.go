// ABOUTME: HTTP API handlers for login, presence, command dispatch, and tasks
// ABOUTME: All routes except login require a Bearer session token

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/ois-gateway/internal/auth"
	"github.com/2389/ois-gateway/internal/hub"
	"github.com/2389/ois-gateway/internal/store"
)

// sessionTTL is the lifetime of an operator session token.
const sessionTTL = 24 * time.Hour

// allowedCommands is the set of commands dispatchable to agents over
// the HTTP API.
var allowedCommands = map[string]bool{
	"status":        true,
	"restart":       true,
	"ping":          true,
	"execute":       true,
	"config_update": true,
}

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token string `json:"token"`
	User  string `json:"user"`
}

// AgentStatusResponse is one entry in GET /api/agents/status. Connected
// reflects a live transport on this instance; Status is the merged
// presence view.
type AgentStatusResponse struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Status      string     `json:"status"`
	Connected   bool       `json:"connected"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	ErrorCount  int        `json:"error_count"`
}

// CommandRequest is the JSON request body for POST /api/agents/{name}/command.
type CommandRequest struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CommandResponse is the JSON response for a completed command.
type CommandResponse struct {
	Agent   string          `json:"agent"`
	Command string          `json:"command"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// CreateTaskRequest is the JSON request body for POST /api/tasks.
type CreateTaskRequest struct {
	Title            string     `json:"title"`
	Assignee         string     `json:"assignee,omitempty"`
	Priority         string     `json:"priority,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	FollowUpInterval string     `json:"follow_up_interval,omitempty"`
}

// UpdateTaskRequest is the JSON request body for PATCH /api/tasks/{id}.
// Absent fields are left unchanged.
type UpdateTaskRequest struct {
	Title    *string    `json:"title,omitempty"`
	Assignee *string    `json:"assignee,omitempty"`
	Status   *string    `json:"status,omitempty"`
	Priority *string    `json:"priority,omitempty"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// registerAPIRoutes attaches the REST API to the mux.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/login", g.handleLogin)

	mux.HandleFunc("GET /api/agents/status", g.requireAuth(g.handleAgentStatuses))
	mux.HandleFunc("GET /api/agents/connected", g.requireAuth(g.handleConnectedAgents))
	mux.HandleFunc("POST /api/agents/{name}/command", g.requireAuth(g.handleCommand))
	mux.HandleFunc("GET /api/messages", g.requireAuth(g.handleMessages))

	mux.HandleFunc("POST /api/tasks", g.requireAuth(g.handleCreateTask))
	mux.HandleFunc("GET /api/tasks", g.requireAuth(g.handleListTasks))
	mux.HandleFunc("GET /api/tasks/{id}", g.requireAuth(g.handleGetTask))
	mux.HandleFunc("PATCH /api/tasks/{id}", g.requireAuth(g.handleUpdateTask))
	mux.HandleFunc("DELETE /api/tasks/{id}", g.requireAuth(g.handleDeleteTask))
}

// requireAuth validates the Bearer session token before dispatching.
func (g *Gateway) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			g.sendJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := g.sessions.Verify(token); err != nil {
			g.sendJSONError(w, http.StatusUnauthorized, "invalid session token")
			return
		}
		next(w, r)
	}
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" {
		g.sendJSONError(w, http.StatusBadRequest, "username is required")
		return
	}

	if err := auth.CheckPassword(g.config.Auth.PasswordHash, req.Password); err != nil {
		g.logger.Info("login failed", "user", req.Username)
		g.sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := g.sessions.Generate(req.Username, sessionTTL)
	if err != nil {
		g.logger.Error("generating session token", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	g.logger.Info("operator logged in", "user", req.Username)
	g.writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: req.Username})
}

func (g *Gateway) handleAgentStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := g.presence.Statuses(r.Context())
	if err != nil {
		g.logger.Error("loading agent statuses", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load agent statuses")
		return
	}

	resp := make([]AgentStatusResponse, 0, len(statuses))
	for _, s := range statuses {
		resp = append(resp, AgentStatusResponse{
			Name:        s.Name,
			DisplayName: s.DisplayName,
			Status:      s.Status,
			Connected:   g.registry.LookupLive(s.Name) != nil,
			LastSeen:    s.LastSeen,
			ConnectedAt: s.ConnectedAt,
			ErrorCount:  s.ErrorCount,
		})
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"agents": resp})
}

func (g *Gateway) handleConnectedAgents(w http.ResponseWriter, r *http.Request) {
	ids := g.registry.LiveIdentities()
	if ids == nil {
		ids = []string{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"agents": ids})
}

func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req CommandRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !allowedCommands[req.Command] {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("command %q is not allowed", req.Command))
		return
	}

	result, err := g.dispatcher.Send(r.Context(), name, req.Command, req.Payload)
	switch {
	case errors.Is(err, hub.ErrNotConnected):
		g.sendJSONError(w, http.StatusNotFound, fmt.Sprintf("agent %q is not connected", name))
		return
	case errors.Is(err, hub.ErrTimeout):
		g.presence.IncrementError(r.Context(), name)
		g.sendJSONError(w, http.StatusGatewayTimeout, "agent did not acknowledge the command")
		return
	case err != nil:
		g.logger.Error("dispatching command", "agent", name, "command", req.Command, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "failed to deliver command")
		return
	}

	g.writeJSON(w, http.StatusOK, CommandResponse{Agent: name, Command: req.Command, Result: result})
}

func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > g.config.Database.MaxHistory {
		limit = g.config.Database.MaxHistory
	}

	messages, err := g.store.RecentMessages(r.Context(), limit)
	if err != nil {
		g.logger.Error("loading messages", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (g *Gateway) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == "" {
		g.sendJSONError(w, http.StatusBadRequest, "title is required")
		return
	}

	task := &store.Task{
		Title:    req.Title,
		Assignee: req.Assignee,
		Priority: req.Priority,
		Deadline: req.Deadline,
	}
	if req.FollowUpInterval != "" {
		interval, err := time.ParseDuration(req.FollowUpInterval)
		if err != nil || interval < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "invalid follow_up_interval")
			return
		}
		task.FollowUpInterval = interval
	}

	created, err := g.store.CreateTask(r.Context(), task)
	if err != nil {
		g.logger.Error("creating task", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	g.writeJSON(w, http.StatusCreated, created)
}

func (g *Gateway) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskFilter{
		Status:   r.URL.Query().Get("status"),
		Assignee: r.URL.Query().Get("assignee"),
	}

	tasks, err := g.store.ListTasks(r.Context(), filter)
	if err != nil {
		g.logger.Error("listing tasks", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*store.Task{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (g *Gateway) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := g.taskID(w, r)
	if !ok {
		return
	}

	task, err := g.store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		g.logger.Error("loading task", "id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	g.writeJSON(w, http.StatusOK, task)
}

func (g *Gateway) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := g.taskID(w, r)
	if !ok {
		return
	}

	var req UpdateTaskRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status != nil && !validTaskStatus(*req.Status) {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", *req.Status))
		return
	}

	task, err := g.store.UpdateTask(r.Context(), id, store.TaskUpdate{
		Title:    req.Title,
		Assignee: req.Assignee,
		Status:   req.Status,
		Priority: req.Priority,
		Deadline: req.Deadline,
	})
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		g.logger.Error("updating task", "id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to update task")
		return
	}
	g.writeJSON(w, http.StatusOK, task)
}

func (g *Gateway) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := g.taskID(w, r)
	if !ok {
		return
	}

	err := g.store.DeleteTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		g.logger.Error("deleting task", "id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}

func validTaskStatus(status string) bool {
	switch status {
	case store.TaskPending, store.TaskInProgress, store.TaskCompleted, store.TaskOverdue:
		return true
	}
	return false
}

func decodeJSON(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("encoding response", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
