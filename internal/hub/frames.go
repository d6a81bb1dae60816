// ABOUTME: Wire protocol frames exchanged over the WebSocket hub
// ABOUTME: Inbound frames decode into a closed variant set; unknown tags are malformed

package hub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/ois-gateway/internal/store"
)

// ErrMalformedFrame indicates a frame that failed to decode or carried
// an unknown type tag. Malformed frames are logged and dropped; they
// never close the connection.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one decoded client-to-server protocol frame.
type Frame interface {
	frameType() string
}

// PingFrame is an application-level keepalive, valid in any state.
type PingFrame struct{}

// AuthFrame authenticates a human operator with a session token.
type AuthFrame struct {
	Token string `json:"token"`
}

// AgentAuthFrame authenticates an agent process with its static token.
type AgentAuthFrame struct {
	Token string `json:"token"`
}

// ChatFrame carries a chat message from an authenticated participant.
// The mention set is computed server-side; any client-supplied mentions
// are ignored.
type ChatFrame struct {
	Text        string             `json:"text"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
}

// CommandAckFrame resolves a previously dispatched command by id.
type CommandAckFrame struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

func (PingFrame) frameType() string       { return "ping" }
func (AuthFrame) frameType() string       { return "auth" }
func (AgentAuthFrame) frameType() string  { return "agent_auth" }
func (ChatFrame) frameType() string       { return "chat" }
func (CommandAckFrame) frameType() string { return "command_ack" }

// DecodeFrame parses raw frame bytes into the closed frame variant set.
// Unknown type tags and invalid JSON return ErrMalformedFrame.
func DecodeFrame(data []byte) (Frame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch envelope.Type {
	case "ping":
		return PingFrame{}, nil
	case "auth":
		var f AuthFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return f, nil
	case "agent_auth":
		var f AgentAuthFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return f, nil
	case "chat", "message":
		var f ChatFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return f, nil
	case "command_ack":
		var f CommandAckFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, envelope.Type)
	}
}

// Server-to-client frames.

// PongFrame answers a client ping.
type PongFrame struct {
	Type string `json:"type"`
}

// AuthOKFrame confirms a successful authentication.
type AuthOKFrame struct {
	Type    string `json:"type"`
	User    string `json:"user"`
	IsAgent bool   `json:"isAgent,omitempty"`
}

// AuthFailFrame reports a failed authentication; the connection stays open.
type AuthFailFrame struct {
	Type string `json:"type"`
}

// HistoryFrame replays recent chat history after authentication.
type HistoryFrame struct {
	Type     string           `json:"type"`
	Messages []*store.Message `json:"messages"`
}

// AgentStatusesFrame is the presence snapshot sent on human auth.
type AgentStatusesFrame struct {
	Type   string               `json:"type"`
	Agents []*store.AgentStatus `json:"agents"`
}

// AgentStatusFrame is the unsolicited presence broadcast on connect,
// disconnect, or reap.
type AgentStatusFrame struct {
	Type   string `json:"type"`
	Agent  string `json:"agent"`
	Status string `json:"status"`
}

// MessageFrame is the chat broadcast.
type MessageFrame struct {
	Type    string         `json:"type"`
	Message *store.Message `json:"message"`
}

// CommandFrame is a server-initiated command, answered by command_ack.
type CommandFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Cmd     string          `json:"cmd"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newPong() PongFrame         { return PongFrame{Type: "pong"} }
func newAuthFail() AuthFailFrame { return AuthFailFrame{Type: "auth_fail"} }

func newAuthOK(user string, isAgent bool) AuthOKFrame {
	return AuthOKFrame{Type: "auth_ok", User: user, IsAgent: isAgent}
}

func newHistory(messages []*store.Message) HistoryFrame {
	if messages == nil {
		messages = []*store.Message{}
	}
	return HistoryFrame{Type: "history", Messages: messages}
}

func newAgentStatuses(agents []*store.AgentStatus) AgentStatusesFrame {
	if agents == nil {
		agents = []*store.AgentStatus{}
	}
	return AgentStatusesFrame{Type: "agent_statuses", Agents: agents}
}

func newAgentStatus(agent, status string) AgentStatusFrame {
	return AgentStatusFrame{Type: "agent_status", Agent: agent, Status: status}
}

func newMessage(msg *store.Message) MessageFrame {
	return MessageFrame{Type: "message", Message: msg}
}
