// ABOUTME: Store interface and data types for ois-gateway persistence
// ABOUTME: Defines Message, AgentStatus, Task structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Presence status values persisted in agent_status rows.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Task status values. The scheduler moves pending/in_progress tasks to
// overdue exactly once when their deadline passes.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskOverdue    = "overdue"
)

// Attachment describes a file referenced by a chat message.
type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is one entry in the append-only chat log. Mentions and
// Attachments are metadata only; delivery is always to every client.
type Message struct {
	ID          int64        `json:"id"`
	User        string       `json:"user"`
	Text        string       `json:"text"`
	Time        time.Time    `json:"time"`
	Mentions    []string     `json:"mentions,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// AgentStatus is the durable presence record for one agent identity.
type AgentStatus struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Status      string     `json:"status"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	ErrorCount  int        `json:"error_count"`
}

// Task is a tracked work item. FollowUpInterval of zero disables reminders.
type Task struct {
	ID               int64         `json:"id"`
	Title            string        `json:"title"`
	Assignee         string        `json:"assignee,omitempty"`
	Creator          string        `json:"creator,omitempty"`
	Status           string        `json:"status"`
	Priority         string        `json:"priority"`
	Deadline         *time.Time    `json:"deadline,omitempty"`
	FollowUpInterval time.Duration `json:"follow_up_interval"`
	LastFollowUp     *time.Time    `json:"last_follow_up,omitempty"`
	FollowUpCount    int           `json:"follow_up_count"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// TaskUpdate is a partial update; nil fields are left unchanged.
type TaskUpdate struct {
	Title            *string
	Assignee         *string
	Status           *string
	Priority         *string
	Deadline         *time.Time
	FollowUpInterval *time.Duration
	LastFollowUp     *time.Time
	FollowUpCount    *int
}

// TaskFilter narrows ListTasks results. Zero values match everything.
type TaskFilter struct {
	Status   string
	Assignee string
}

// Store defines the interface for chat, presence, and task persistence
type Store interface {
	// Chat log
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	RecentMessages(ctx context.Context, limit int) ([]*Message, error)

	// Presence records
	UpsertAgentStatus(ctx context.Context, name, displayName, status string) error
	ListAgentStatuses(ctx context.Context) ([]*AgentStatus, error)
	IncrementAgentErrors(ctx context.Context, name string) error

	// Tasks
	CreateTask(ctx context.Context, task *Task) (*Task, error)
	GetTask(ctx context.Context, id int64) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	UpdateTask(ctx context.Context, id int64, update TaskUpdate) (*Task, error)
	DeleteTask(ctx context.Context, id int64) error
	TasksNeedingFollowUp(ctx context.Context, now time.Time) ([]*Task, error)
	OverdueTasks(ctx context.Context, now time.Time) ([]*Task, error)

	Close() error
}
