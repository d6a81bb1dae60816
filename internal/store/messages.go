// ABOUTME: Chat log persistence for SQLiteStore
// ABOUTME: Append-only message storage with mentions/attachments as JSON columns

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AppendMessage inserts a message into the chat log and returns it with
// its assigned id. Messages are never mutated after insertion.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	mentions, err := marshalNullable(msg.Mentions)
	if err != nil {
		return nil, fmt.Errorf("encoding mentions: %w", err)
	}
	attachments, err := marshalNullable(msg.Attachments)
	if err != nil {
		return nil, fmt.Errorf("encoding attachments: %w", err)
	}

	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user, text, time, mentions, attachments) VALUES (?, ?, ?, ?, ?)`,
		msg.User, msg.Text, msg.Time.UTC(), mentions, attachments,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading message id: %w", err)
	}

	saved := *msg
	saved.ID = id
	return &saved, nil
}

// RecentMessages returns up to limit messages in insertion order,
// ending with the most recent.
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user, text, time, mentions, attachments
		 FROM messages ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	// Reverse to insertion order (oldest first)
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var (
		msg         Message
		mentions    sql.NullString
		attachments sql.NullString
	)
	if err := rows.Scan(&msg.ID, &msg.User, &msg.Text, &msg.Time, &mentions, &attachments); err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	if mentions.Valid {
		if err := json.Unmarshal([]byte(mentions.String), &msg.Mentions); err != nil {
			return nil, fmt.Errorf("decoding mentions: %w", err)
		}
	}
	if attachments.Valid {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments: %w", err)
		}
	}
	return &msg, nil
}

// marshalNullable JSON-encodes a slice, returning NULL for empty sets.
func marshalNullable[T any](v []T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
