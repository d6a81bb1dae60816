// ABOUTME: Mention detection for chat message text
// ABOUTME: Case-insensitive @shortName scan against the known agent set

package hub

import (
	"strings"

	"github.com/2389/ois-gateway/internal/auth"
)

// MentionAll is the distinguished marker contributed by the broadcast
// keyword. Mentions are message metadata only; they never affect
// delivery.
const MentionAll = "all"

// DetectMentions scans text for @shortName references against the
// known agents. Matching is case-insensitive; each match contributes
// the canonical short name at most once, in agent declaration order.
// "@all" (or the CJK broadcast form) contributes the MentionAll marker.
func DetectMentions(text string, agents []auth.AgentIdentity) []string {
	lower := strings.ToLower(text)

	var mentions []string
	seen := make(map[string]bool)
	for _, agent := range agents {
		short := agent.ShortName()
		if short == "" {
			continue
		}
		key := strings.ToLower(short)
		if seen[key] {
			continue
		}
		if strings.Contains(lower, "@"+key) {
			mentions = append(mentions, short)
			seen[key] = true
		}
	}

	if strings.Contains(lower, "@all") || strings.Contains(text, "@所有人") {
		mentions = append(mentions, MentionAll)
	}
	return mentions
}
