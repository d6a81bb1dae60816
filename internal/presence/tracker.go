// ABOUTME: Presence tracking merging a live in-memory overlay with durable records
// ABOUTME: Live state wins on read; connected_at survives reconnect-while-online

package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/ois-gateway/internal/store"
)

// Store is the durable presence collaborator.
type Store interface {
	UpsertAgentStatus(ctx context.Context, name, displayName, status string) error
	ListAgentStatuses(ctx context.Context) ([]*store.AgentStatus, error)
	IncrementAgentErrors(ctx context.Context, name string) error
}

// liveEntry is the in-memory overlay for one identity.
type liveEntry struct {
	status      string
	displayName string
	connectedAt time.Time
	lastSeen    time.Time
}

// Tracker is the authoritative presence record. Reads merge durable
// rows with the live overlay, live state taking precedence: a durable
// "online" left over from a prior process lifetime is masked once the
// identity has any live entry.
type Tracker struct {
	store  Store
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]liveEntry
}

// NewTracker creates a tracker over the durable store.
func NewTracker(s Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  s,
		logger: logger,
		live:   make(map[string]liveEntry),
	}
}

// OnConnect records an identity coming online. connected_at is set
// only if the identity was not already online, so reconnecting while
// online preserves the original connect time in both the overlay and
// the durable record.
func (t *Tracker) OnConnect(ctx context.Context, name, displayName string) error {
	now := time.Now().UTC()

	t.mu.Lock()
	entry, ok := t.live[name]
	if !ok || entry.status != store.StatusOnline {
		entry.connectedAt = now
	}
	entry.status = store.StatusOnline
	entry.displayName = displayName
	entry.lastSeen = now
	t.live[name] = entry
	t.mu.Unlock()

	return t.store.UpsertAgentStatus(ctx, name, displayName, store.StatusOnline)
}

// OnDisconnect records an identity going offline. The error counter is
// untouched.
func (t *Tracker) OnDisconnect(ctx context.Context, name string) error {
	now := time.Now().UTC()

	t.mu.Lock()
	if entry, ok := t.live[name]; ok {
		entry.status = store.StatusOffline
		entry.lastSeen = now
		t.live[name] = entry
	}
	t.mu.Unlock()

	return t.store.UpsertAgentStatus(ctx, name, "", store.StatusOffline)
}

// Statuses returns durable records overlaid with live state.
func (t *Tracker) Statuses(ctx context.Context) ([]*store.AgentStatus, error) {
	durable, err := t.store.ListAgentStatuses(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, st := range durable {
		entry, ok := t.live[st.Name]
		if !ok {
			continue
		}
		st.Status = entry.status
		lastSeen := entry.lastSeen
		st.LastSeen = &lastSeen
		connectedAt := entry.connectedAt
		st.ConnectedAt = &connectedAt
	}
	return durable, nil
}

// IsOnline reports whether the identity has a live online entry.
func (t *Tracker) IsOnline(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.live[name]
	return ok && entry.status == store.StatusOnline
}

// IncrementError bumps the durable error counter, best-effort.
func (t *Tracker) IncrementError(ctx context.Context, name string) {
	if err := t.store.IncrementAgentErrors(ctx, name); err != nil {
		t.logger.Warn("incrementing agent errors", "identity", name, "error", err)
	}
}
