// ABOUTME: Periodic heartbeat across all connections; reaps unresponsive transports
// ABOUTME: Detection latency is bounded between one and two intervals

package hub

import (
	"context"
	"log/slog"
	"time"
)

// ConnLister provides the set of connections to heartbeat.
type ConnLister interface {
	Connections() []*Conn
}

// LivenessMonitor pings every open connection on a fixed interval. A
// connection that has not ponged by the next tick is terminated; its
// read loop then runs the normal disconnect path, so a reaped agent
// produces exactly one offline transition.
type LivenessMonitor struct {
	interval time.Duration
	conns    ConnLister
	logger   *slog.Logger
}

// NewLivenessMonitor creates a monitor over the given connection set.
func NewLivenessMonitor(interval time.Duration, conns ConnLister, logger *slog.Logger) *LivenessMonitor {
	return &LivenessMonitor{
		interval: interval,
		conns:    conns,
		logger:   logger,
	}
}

// Run ticks until the context is cancelled.
func (m *LivenessMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one heartbeat round: terminate connections that never
// answered the previous ping, then ping the rest.
func (m *LivenessMonitor) Sweep(ctx context.Context) {
	for _, c := range m.conns.Connections() {
		if c.Closed() {
			continue
		}

		if !c.Alive() {
			m.logger.Info("terminating unresponsive connection",
				"user", c.User(),
				"last_pong", c.LastPong(),
			)
			c.Terminate()
			continue
		}

		c.ClearAlive()
		go func(c *Conn) {
			pctx, cancel := context.WithTimeout(ctx, m.interval)
			defer cancel()
			// A completed ping marks the connection alive again.
			if err := c.Ping(pctx); err != nil {
				m.logger.Debug("ping failed", "user", c.User(), "error", err)
			}
		}(c)
	}
}
