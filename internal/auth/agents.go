// ABOUTME: Static agent token registry resolving bearer tokens to agent identities
// ABOUTME: Built from config entries; preserves declaration order for mention scanning

package auth

import (
	"strings"

	"github.com/2389/ois-gateway/internal/config"
)

// AgentIdentity is a stable agent identifier plus its display name.
type AgentIdentity struct {
	ID          string
	DisplayName string
}

// ShortName returns the first whitespace-delimited token of the display
// name, used for @mention matching. Falls back to the identifier when
// the display name is empty.
func (a AgentIdentity) ShortName() string {
	fields := strings.Fields(a.DisplayName)
	if len(fields) == 0 {
		return a.ID
	}
	return fields[0]
}

// AgentRegistry resolves agent tokens to identities.
type AgentRegistry struct {
	byToken map[string]AgentIdentity
	ordered []AgentIdentity
}

// NewAgentRegistry builds a registry from config agent entries.
// Declaration order is preserved by Agents().
func NewAgentRegistry(entries []config.AgentEntry) *AgentRegistry {
	r := &AgentRegistry{
		byToken: make(map[string]AgentIdentity, len(entries)),
		ordered: make([]AgentIdentity, 0, len(entries)),
	}
	for _, entry := range entries {
		identity := AgentIdentity{ID: entry.ID, DisplayName: entry.DisplayName}
		if identity.DisplayName == "" {
			identity.DisplayName = entry.ID
		}
		r.byToken[entry.Token] = identity
		r.ordered = append(r.ordered, identity)
	}
	return r
}

// VerifyToken resolves an agent token. Returns false for unknown tokens.
func (r *AgentRegistry) VerifyToken(token string) (AgentIdentity, bool) {
	identity, ok := r.byToken[token]
	return identity, ok
}

// Agents returns all known identities in declaration order.
func (r *AgentRegistry) Agents() []AgentIdentity {
	out := make([]AgentIdentity, len(r.ordered))
	copy(out, r.ordered)
	return out
}
