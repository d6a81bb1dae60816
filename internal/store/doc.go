// Package store provides persistence for ois-gateway.
//
// # Overview
//
// The Store interface covers the three durable collaborators of the
// realtime hub:
//
//   - the append-only chat log (messages)
//   - durable presence records (agent_status)
//   - tracked tasks with follow-up bookkeeping (tasks)
//
// SQLiteStore is the only implementation, built on modernc.org/sqlite
// with WAL mode and schema creation on open.
//
// # Presence Semantics
//
// UpsertAgentStatus implements the reconnect contract: connected_at is
// preserved when an already-online agent reconnects, and error_count
// resets on every successful connect. See status.go.
//
// # Scheduler Queries
//
// TasksNeedingFollowUp and OverdueTasks back the reminder scheduler.
// The overdue query excludes tasks already in the overdue status, which
// is what makes the overdue transition (and its alert) exactly-once.
package store
