// ABOUTME: Package documentation for the task reminder scheduler
// ABOUTME: Describes the tick loop and ordering guarantees of the two scans

// Package scheduler drives time-based task notifications.
//
// A single goroutine ticks at a fixed interval and runs two independent
// scans against the task store:
//
//   - Overdue: pending or in-progress tasks whose deadline has passed are
//     transitioned to overdue and announced once. The status change is
//     written before the announcement, so a crash or delivery failure can
//     suppress the notice but never duplicate it.
//
//   - Follow-up: tasks that have not seen a reminder within their
//     follow-up interval get a reminder message mentioning the assignee,
//     after which last_follow_up and follow_up_count are advanced.
//
// Announcements go through the hub as system-authored chat messages, so
// they land in history and fan out to every connected client like any
// other message.
package scheduler
