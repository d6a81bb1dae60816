// ABOUTME: Tests for task persistence and the scheduler scan queries
// ABOUTME: Covers CRUD, partial updates, follow-up elapsed logic, and overdue filtering

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateTask_Defaults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, &Task{Title: "deploy staging"})
	require.NoError(t, err)

	assert.Greater(t, task.ID, int64(0))
	assert.Equal(t, TaskPending, task.Status)
	assert.Equal(t, "normal", task.Priority)
	assert.Equal(t, DefaultFollowUpInterval, task.FollowUpInterval)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploy staging", got.Title)
}

func TestStore_GetTask_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetTask(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListTasks_Filter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.CreateTask(ctx, &Task{Title: "a", Assignee: "ARIA"})
	require.NoError(t, err)
	_, err = store.CreateTask(ctx, &Task{Title: "b", Assignee: "HKH", Status: TaskInProgress})
	require.NoError(t, err)

	all, err := store.ListTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := store.ListTasks(ctx, TaskFilter{Status: TaskPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].Title)

	hkh, err := store.ListTasks(ctx, TaskFilter{Assignee: "HKH"})
	require.NoError(t, err)
	require.Len(t, hkh, 1)
	assert.Equal(t, "b", hkh[0].Title)
}

func TestStore_UpdateTask_Partial(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, &Task{Title: "fix bug", Assignee: "ARIA"})
	require.NoError(t, err)

	status := TaskInProgress
	count := 3
	now := time.Now().UTC().Truncate(time.Second)
	updated, err := store.UpdateTask(ctx, task.ID, TaskUpdate{
		Status:        &status,
		FollowUpCount: &count,
		LastFollowUp:  &now,
	})
	require.NoError(t, err)

	assert.Equal(t, TaskInProgress, updated.Status)
	assert.Equal(t, 3, updated.FollowUpCount)
	require.NotNil(t, updated.LastFollowUp)
	// Untouched fields survive
	assert.Equal(t, "fix bug", updated.Title)
	assert.Equal(t, "ARIA", updated.Assignee)
}

func TestStore_UpdateTask_NotFound(t *testing.T) {
	store := setupTestStore(t)

	status := TaskOverdue
	_, err := store.UpdateTask(context.Background(), 404, TaskUpdate{Status: &status})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteTask(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, &Task{Title: "temp"})
	require.NoError(t, err)

	require.NoError(t, store.DeleteTask(ctx, task.ID))
	assert.ErrorIs(t, store.DeleteTask(ctx, task.ID), ErrNotFound)
}

func TestStore_TasksNeedingFollowUp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	interval := 30 * time.Minute
	due, err := store.CreateTask(ctx, &Task{Title: "due", FollowUpInterval: interval})
	require.NoError(t, err)

	_, err = store.CreateTask(ctx, &Task{Title: "fresh", FollowUpInterval: 2 * time.Hour})
	require.NoError(t, err)

	disabled := time.Duration(0)
	noFollowUp, err := store.CreateTask(ctx, &Task{Title: "no follow-up"})
	require.NoError(t, err)
	_, err = store.UpdateTask(ctx, noFollowUp.ID, TaskUpdate{FollowUpInterval: &disabled})
	require.NoError(t, err)

	completedStatus := TaskCompleted
	completed, err := store.CreateTask(ctx, &Task{Title: "done", FollowUpInterval: interval})
	require.NoError(t, err)
	_, err = store.UpdateTask(ctx, completed.ID, TaskUpdate{Status: &completedStatus})
	require.NoError(t, err)

	// One hour later: only "due" has an elapsed interval among open tasks
	result, err := store.TasksNeedingFollowUp(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, due.ID, result[0].ID)

	// Just after creation nothing is due yet
	result, err = store.TasksNeedingFollowUp(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestStore_TasksNeedingFollowUp_UsesLastFollowUp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task, err := store.CreateTask(ctx, &Task{Title: "tracked", FollowUpInterval: 30 * time.Minute})
	require.NoError(t, err)

	// A recent follow-up resets the elapsed clock
	recent := now.Add(50 * time.Minute)
	_, err = store.UpdateTask(ctx, task.ID, TaskUpdate{LastFollowUp: &recent})
	require.NoError(t, err)

	result, err := store.TasksNeedingFollowUp(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, result)

	result, err = store.TasksNeedingFollowUp(ctx, now.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, task.ID, result[0].ID)
}

func TestStore_OverdueTasks(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	late, err := store.CreateTask(ctx, &Task{Title: "late", Deadline: &past})
	require.NoError(t, err)
	_, err = store.CreateTask(ctx, &Task{Title: "on time", Deadline: &future})
	require.NoError(t, err)
	_, err = store.CreateTask(ctx, &Task{Title: "no deadline"})
	require.NoError(t, err)

	overdue, err := store.OverdueTasks(ctx, now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)

	// Once transitioned, the task stops appearing in the scan
	status := TaskOverdue
	_, err = store.UpdateTask(ctx, late.ID, TaskUpdate{Status: &status})
	require.NoError(t, err)

	overdue, err = store.OverdueTasks(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, overdue)
}
