// ABOUTME: Periodic task scanner emitting follow-up reminders and overdue notices
// ABOUTME: Runs two independent scans on a fixed tick and persists task mutations

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/ois-gateway/internal/store"
)

// TaskStore is the subset of the durable store the scheduler reads and mutates.
type TaskStore interface {
	TasksNeedingFollowUp(ctx context.Context, now time.Time) ([]*store.Task, error)
	OverdueTasks(ctx context.Context, now time.Time) ([]*store.Task, error)
	UpdateTask(ctx context.Context, id int64, update store.TaskUpdate) (*store.Task, error)
}

// Broadcaster delivers system-authored chat messages to connected clients.
type Broadcaster interface {
	SystemMessage(ctx context.Context, text string, mentions []string) error
}

// Scheduler periodically scans tasks and emits reminder messages into chat.
type Scheduler struct {
	tasks    TaskStore
	bus      Broadcaster
	interval time.Duration
	logger   *slog.Logger
}

func New(tasks TaskStore, bus Broadcaster, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:    tasks,
		bus:      bus,
		interval: interval,
		logger:   logger.With("component", "scheduler"),
	}
}

// Run ticks until ctx is canceled. Each tick performs an overdue scan and a
// follow-up scan; failures are logged and the next tick proceeds normally.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("task scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("task scheduler stopped")
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now.UTC())
		}
	}
}

// Sweep runs both scans once. Exposed separately so callers and tests can
// drive the scheduler without waiting on the ticker.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) {
	if err := s.scanOverdue(ctx, now); err != nil {
		s.logger.Error("overdue scan failed", "error", err)
	}
	if err := s.scanFollowUps(ctx, now); err != nil {
		s.logger.Error("follow-up scan failed", "error", err)
	}
}

// scanOverdue transitions tasks past their deadline to overdue and announces
// each transition. The status change is persisted before the announcement so
// a task is never announced twice even if delivery fails.
func (s *Scheduler) scanOverdue(ctx context.Context, now time.Time) error {
	tasks, err := s.tasks.OverdueTasks(ctx, now)
	if err != nil {
		return fmt.Errorf("listing overdue tasks: %w", err)
	}

	for _, task := range tasks {
		status := store.TaskOverdue
		if _, err := s.tasks.UpdateTask(ctx, task.ID, store.TaskUpdate{Status: &status}); err != nil {
			s.logger.Error("marking task overdue", "task", task.ID, "error", err)
			continue
		}

		text := fmt.Sprintf("[Task Overdue] %q assigned to %s has passed its deadline!",
			task.Title, assigneeLabel(task))
		if err := s.bus.SystemMessage(ctx, text, mentionsFor(task)); err != nil {
			s.logger.Warn("delivering overdue notice", "task", task.ID, "error", err)
		}
		s.logger.Info("task overdue", "task", task.ID, "title", task.Title)
	}
	return nil
}

// scanFollowUps reminds assignees about tasks that have gone quiet longer
// than their follow-up interval, then records the reminder so the next one
// waits a full interval.
func (s *Scheduler) scanFollowUps(ctx context.Context, now time.Time) error {
	tasks, err := s.tasks.TasksNeedingFollowUp(ctx, now)
	if err != nil {
		return fmt.Errorf("listing follow-up tasks: %w", err)
	}

	for _, task := range tasks {
		count := task.FollowUpCount + 1
		text := fmt.Sprintf("[Task Reminder] %q assigned to %s is awaiting response. (Follow-up #%d)",
			task.Title, assigneeLabel(task), count)
		if err := s.bus.SystemMessage(ctx, text, mentionsFor(task)); err != nil {
			s.logger.Warn("delivering follow-up reminder", "task", task.ID, "error", err)
		}

		at := now
		if _, err := s.tasks.UpdateTask(ctx, task.ID, store.TaskUpdate{
			LastFollowUp:  &at,
			FollowUpCount: &count,
		}); err != nil {
			s.logger.Error("recording follow-up", "task", task.ID, "error", err)
		}
	}
	return nil
}

func assigneeLabel(task *store.Task) string {
	if task.Assignee == "" {
		return "nobody"
	}
	return task.Assignee
}

func mentionsFor(task *store.Task) []string {
	if task.Assignee == "" {
		return nil
	}
	return []string{task.Assignee}
}
