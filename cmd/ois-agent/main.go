// ABOUTME: Companion agent process that connects to the gateway over websocket
// ABOUTME: Authenticates with its token, answers commands, and reconnects on drop

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// reconnectDelay is the flat wait between connection attempts.
const reconnectDelay = 5 * time.Second

var startTime = time.Now()

type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Cmd     string          `json:"cmd,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Token   string          `json:"token,omitempty"`
	User    string          `json:"user,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "gateway websocket URL")
	token := flag.String("token", os.Getenv("OIS_AGENT_TOKEN"), "agent auth token")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "agent token required (-token or OIS_AGENT_TOKEN)")
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for {
		if err := runSession(ctx, *url, *token, logger); err != nil {
			logger.Warn("session ended", "error", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-time.After(reconnectDelay):
			logger.Info("reconnecting", "url", *url)
		}
	}
}

// runSession dials the gateway, authenticates, and serves frames until
// the connection drops. Protocol-level pings from the gateway's
// heartbeat are answered by the websocket library while Read is pending.
func runSession(ctx context.Context, url, token string, logger *slog.Logger) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, frame{Type: "agent_auth", Token: token}); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}

		switch f.Type {
		case "auth_ok":
			logger.Info("authenticated", "identity", f.User)
		case "auth_fail":
			conn.Close(websocket.StatusPolicyViolation, "auth rejected")
			return fmt.Errorf("gateway rejected agent token")
		case "command":
			result := handleCommand(f.Cmd, f.Payload, logger)
			ack := frame{Type: "command_ack", ID: f.ID, Result: result}
			if err := wsjson.Write(ctx, conn, ack); err != nil {
				return fmt.Errorf("sending ack: %w", err)
			}
		case "message":
			var msg struct {
				User string `json:"user"`
				Text string `json:"text"`
			}
			if err := json.Unmarshal(f.Message, &msg); err == nil {
				logger.Info("chat", "from", msg.User, "text", msg.Text)
			}
		case "history", "agent_statuses", "agent_status":
			// Informational; nothing to do.
		default:
			logger.Debug("ignoring frame", "type", f.Type)
		}
	}
}

// handleCommand produces the ack result for a gateway command. Unknown
// or unsupported commands report an error in the result rather than
// failing the session.
func handleCommand(cmd string, payload json.RawMessage, logger *slog.Logger) json.RawMessage {
	logger.Info("command received", "cmd", cmd)

	switch cmd {
	case "ping":
		return mustJSON(map[string]string{"reply": "pong"})
	case "status":
		hostname, _ := os.Hostname()
		return mustJSON(map[string]any{
			"hostname":       hostname,
			"pid":            os.Getpid(),
			"uptime_seconds": int(time.Since(startTime).Seconds()),
		})
	case "config_update":
		logger.Info("config update", "payload", string(payload))
		return mustJSON(map[string]string{"status": "applied"})
	case "restart":
		// A real agent would re-exec itself here.
		return mustJSON(map[string]string{"status": "restart scheduled"})
	default:
		return mustJSON(map[string]string{"error": fmt.Sprintf("unsupported command %q", cmd)})
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"error":"internal encoding failure"}`)
	}
	return data
}
