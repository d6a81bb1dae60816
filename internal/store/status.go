// ABOUTME: Durable presence records for SQLiteStore
// ABOUTME: Upsert preserves connected_at across reconnects while already online

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertAgentStatus records a presence transition for an agent. The
// connected_at timestamp only advances when the row moves from a
// non-online status to online, so reconnecting while already online
// keeps the original connect time. A successful connect resets the
// error counter. An empty displayName keeps the stored one.
func (s *SQLiteStore) UpsertAgentStatus(ctx context.Context, name, displayName, status string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_status (name, display_name, status, last_seen, connected_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = COALESCE(NULLIF(excluded.display_name, ''), display_name),
			status = excluded.status,
			last_seen = excluded.last_seen,
			connected_at = CASE
				WHEN excluded.status = 'online' AND status != 'online' THEN excluded.connected_at
				ELSE connected_at
			END,
			error_count = CASE WHEN excluded.status = 'online' THEN 0 ELSE error_count END
	`, name, displayName, status, now, now)
	if err != nil {
		return fmt.Errorf("upserting agent status: %w", err)
	}
	return nil
}

// ListAgentStatuses returns all durable presence records ordered by name.
func (s *SQLiteStore) ListAgentStatuses(ctx context.Context) ([]*AgentStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, display_name, status, last_seen, connected_at, error_count
		FROM agent_status ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying agent statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*AgentStatus
	for rows.Next() {
		var (
			st          AgentStatus
			displayName sql.NullString
			lastSeen    sql.NullTime
			connectedAt sql.NullTime
		)
		if err := rows.Scan(&st.Name, &displayName, &st.Status, &lastSeen, &connectedAt, &st.ErrorCount); err != nil {
			return nil, fmt.Errorf("scanning agent status: %w", err)
		}
		st.DisplayName = displayName.String
		if lastSeen.Valid {
			t := lastSeen.Time
			st.LastSeen = &t
		}
		if connectedAt.Valid {
			t := connectedAt.Time
			st.ConnectedAt = &t
		}
		statuses = append(statuses, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent statuses: %w", err)
	}
	return statuses, nil
}

// IncrementAgentErrors bumps the error counter for external health
// reporting. The counter is reset by the next successful connect.
func (s *SQLiteStore) IncrementAgentErrors(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_status SET error_count = error_count + 1 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("incrementing agent errors: %w", err)
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
