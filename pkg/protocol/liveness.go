package protocol

import (
	"context"
	"time"

	"github.com/toolgate/toolgate/pkg/wire"
)

// Run drives the heartbeat and sweep loops until the context is cancelled
// or Close is called.
func (e *Engine) Run(ctx context.Context) {
	interval := e.pingInterval()
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(e.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case now := <-heartbeat.C:
			e.heartbeat(now)
			if next := e.pingInterval(); next != interval {
				interval = next
				heartbeat.Reset(interval)
			}
		case now := <-sweep.C:
			e.sweepStale(now)
		}
	}
}

// heartbeat pings every connection and force-closes those whose last pong
// is older than the grace window.
func (e *Engine) heartbeat(now time.Time) {
	grace := e.pongTimeout() + e.pingInterval()

	for _, c := range e.snapshot() {
		if now.Sub(c.LastPong()) > grace {
			e.logger.Warn("connection unresponsive", "id", c.id, "lastPong", c.LastPong())
			e.remove(c, wire.CloseGoingAway, "ping timeout")
			continue
		}
		_ = c.ping()
	}
}

// sweepStale reaps connections the heartbeat missed: already-closed sockets
// still in the registry, or peers silent for twice the grace window.
func (e *Engine) sweepStale(now time.Time) {
	cutoff := 2 * (e.pongTimeout() + e.pingInterval())

	for _, c := range e.snapshot() {
		if c.IsClosed() || now.Sub(c.LastPong()) > cutoff {
			e.remove(c, wire.CloseGoingAway, "stale connection")
		}
	}
}

func (e *Engine) snapshot() []*Connection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	conns := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	return conns
}
