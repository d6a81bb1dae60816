// ABOUTME: Task persistence for SQLiteStore
// ABOUTME: CRUD plus the follow-up and overdue scan queries used by the scheduler

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultFollowUpInterval is applied to tasks created without one.
const DefaultFollowUpInterval = time.Hour

// CreateTask inserts a task and returns it with its assigned id.
// Status defaults to pending, priority to normal.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *Task) (*Task, error) {
	now := time.Now().UTC()

	saved := *task
	if saved.Status == "" {
		saved.Status = TaskPending
	}
	if saved.Priority == "" {
		saved.Priority = "normal"
	}
	if saved.FollowUpInterval == 0 {
		saved.FollowUpInterval = DefaultFollowUpInterval
	}
	saved.CreatedAt = now
	saved.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (title, assignee, creator, status, priority, deadline,
			follow_up_interval_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		saved.Title, saved.Assignee, saved.Creator, saved.Status, saved.Priority,
		nullableTime(saved.Deadline), saved.FollowUpInterval.Milliseconds(), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading task id: %w", err)
	}
	saved.ID = id
	return &saved, nil
}

// GetTask returns the task with the given id, or ErrNotFound.
func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	query := taskSelect
	var conditions []string
	var args []any
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Assignee != "" {
		conditions = append(conditions, "assignee = ?")
		args = append(args, filter.Assignee)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	return s.queryTasks(ctx, query, args...)
}

// UpdateTask applies a partial update and returns the updated task.
// Returns ErrNotFound if the task does not exist.
func (s *SQLiteStore) UpdateTask(ctx context.Context, id int64, update TaskUpdate) (*Task, error) {
	var sets []string
	var args []any

	appendSet := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if update.Title != nil {
		appendSet("title", *update.Title)
	}
	if update.Assignee != nil {
		appendSet("assignee", *update.Assignee)
	}
	if update.Status != nil {
		appendSet("status", *update.Status)
	}
	if update.Priority != nil {
		appendSet("priority", *update.Priority)
	}
	if update.Deadline != nil {
		appendSet("deadline", update.Deadline.UTC())
	}
	if update.FollowUpInterval != nil {
		appendSet("follow_up_interval_ms", update.FollowUpInterval.Milliseconds())
	}
	if update.LastFollowUp != nil {
		appendSet("last_follow_up", update.LastFollowUp.UTC())
	}
	if update.FollowUpCount != nil {
		appendSet("follow_up_count", *update.FollowUpCount)
	}

	if len(sets) == 0 {
		return s.GetTask(ctx, id)
	}

	appendSet("updated_at", time.Now().UTC())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking affected rows: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetTask(ctx, id)
}

// DeleteTask removes a task. Returns ErrNotFound if it does not exist.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TasksNeedingFollowUp returns open tasks with a positive follow-up
// interval whose elapsed time since the last follow-up (or creation)
// has reached that interval.
func (s *SQLiteStore) TasksNeedingFollowUp(ctx context.Context, now time.Time) ([]*Task, error) {
	tasks, err := s.queryTasks(ctx, taskSelect+`
		WHERE status IN ('pending', 'in_progress') AND follow_up_interval_ms > 0`)
	if err != nil {
		return nil, err
	}

	var due []*Task
	for _, task := range tasks {
		last := task.CreatedAt
		if task.LastFollowUp != nil {
			last = *task.LastFollowUp
		}
		if now.Sub(last) >= task.FollowUpInterval {
			due = append(due, task)
		}
	}
	return due, nil
}

// OverdueTasks returns open tasks whose deadline has passed. Tasks
// already marked overdue are excluded, which makes the scheduler's
// overdue alert exactly-once per task.
func (s *SQLiteStore) OverdueTasks(ctx context.Context, now time.Time) ([]*Task, error) {
	return s.queryTasks(ctx, taskSelect+`
		WHERE status IN ('pending', 'in_progress')
		AND deadline IS NOT NULL AND deadline < ?`, now.UTC())
}

const taskSelect = `
	SELECT id, title, assignee, creator, status, priority, deadline,
		follow_up_interval_ms, last_follow_up, follow_up_count, created_at, updated_at
	FROM tasks`

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return tasks, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var (
		task         Task
		assignee     sql.NullString
		creator      sql.NullString
		deadline     sql.NullTime
		intervalMS   int64
		lastFollowUp sql.NullTime
	)
	err := row.Scan(&task.ID, &task.Title, &assignee, &creator, &task.Status,
		&task.Priority, &deadline, &intervalMS, &lastFollowUp,
		&task.FollowUpCount, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	task.Assignee = assignee.String
	task.Creator = creator.String
	if deadline.Valid {
		t := deadline.Time
		task.Deadline = &t
	}
	task.FollowUpInterval = time.Duration(intervalMS) * time.Millisecond
	if lastFollowUp.Valid {
		t := lastFollowUp.Time
		task.LastFollowUp = &t
	}
	return &task, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
