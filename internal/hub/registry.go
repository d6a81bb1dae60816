// ABOUTME: Maps agent identities to their current live connection
// ABOUTME: Enforces at most one live transport per identity via eviction

package hub

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry is the authoritative identity → transport map. At any
// instant at most one live connection is registered per identity.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	logger *slog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		logger: logger,
	}
}

// Register stores the connection for an identity. Any previously
// registered connection for the same identity is forcibly terminated.
// The evicted connection's own close handling is a no-op against the
// registry because Unregister compares instances.
func (r *Registry) Register(identity string, c *Conn) {
	r.mu.Lock()
	prev := r.conns[identity]
	r.conns[identity] = c
	total := len(r.conns)
	r.mu.Unlock()

	if prev != nil && prev != c {
		r.logger.Info("evicting superseded connection", "identity", identity)
		prev.Terminate()
	}

	r.logger.Info("agent registered", "identity", identity, "total_agents", total)
}

// Unregister removes the mapping only if the stored connection is the
// same instance. Reports whether the mapping was removed, so a stale
// connection's close handler cannot unregister its replacement.
func (r *Registry) Unregister(identity string, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[identity] != c {
		return false
	}
	delete(r.conns, identity)
	r.logger.Info("agent unregistered", "identity", identity, "total_agents", len(r.conns))
	return true
}

// LookupLive returns the registered connection iff it is still open.
func (r *Registry) LookupLive(identity string) *Conn {
	r.mu.RLock()
	c := r.conns[identity]
	r.mu.RUnlock()

	if c == nil || c.Closed() {
		return nil
	}
	return c
}

// LiveIdentities returns a sorted snapshot of identities with an open
// connection.
func (r *Registry) LiveIdentities() []string {
	r.mu.RLock()
	identities := make([]string, 0, len(r.conns))
	for identity, c := range r.conns {
		if !c.Closed() {
			identities = append(identities, identity)
		}
	}
	r.mu.RUnlock()

	sort.Strings(identities)
	return identities
}
