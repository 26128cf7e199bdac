package protocol

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/wire"
)

func TestHeartbeatClosesUnresponsive(t *testing.T) {
	engine, srv := newTestServer(t, Config{})
	conn := dial(t, srv)

	sendJSON(t, conn, map[string]any{"type": "subscribe", "room": "jobs", "id": 1})
	msg := readMsg(t, conn)
	require.Equal(t, "subscribed", msg["type"])
	require.Equal(t, 1, engine.ConnectionCount())
	require.Equal(t, 1, engine.RoomCount())

	// A peer whose last pong is older than pongTimeout+pingInterval is
	// force-closed and reaped from every room it had joined.
	grace := engine.pongTimeout() + engine.pingInterval()
	engine.heartbeat(time.Now().Add(2 * grace))

	assert.Equal(t, 0, engine.ConnectionCount())
	assert.Equal(t, 0, engine.RoomCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway),
		"expected close 1001, got %v", err)
}

func TestHeartbeatKeepsResponsivePeer(t *testing.T) {
	engine, srv := newTestServer(t, Config{})
	conn := dial(t, srv)

	sendJSON(t, conn, map[string]any{"type": "ping", "id": 1})
	require.Equal(t, "pong", readMsg(t, conn)["type"])

	engine.heartbeat(time.Now())
	assert.Equal(t, 1, engine.ConnectionCount())
}

func TestSetLivenessTightensGrace(t *testing.T) {
	engine, srv := newTestServer(t, Config{})
	conn := dial(t, srv)

	sendJSON(t, conn, map[string]any{"type": "ping", "id": 1})
	require.Equal(t, "pong", readMsg(t, conn)["type"])

	// One second of silence is fine under the default grace window.
	probe := time.Now().Add(time.Second)
	engine.heartbeat(probe)
	require.Equal(t, 1, engine.ConnectionCount())

	// After shrinking the window at runtime the same silence is fatal.
	engine.SetLiveness(time.Millisecond, time.Millisecond)
	engine.heartbeat(probe)
	assert.Equal(t, 0, engine.ConnectionCount())
}

func TestSweepReapsClosedConnections(t *testing.T) {
	engine, srv := newTestServer(t, Config{})
	conn := dial(t, srv)

	sendJSON(t, conn, map[string]any{"type": "ping", "id": 1})
	require.Equal(t, "pong", readMsg(t, conn)["type"])

	for _, c := range engine.snapshot() {
		c.close(wire.CloseNormal, "")
	}
	require.Equal(t, 1, engine.ConnectionCount())

	engine.sweepStale(time.Now())
	assert.Equal(t, 0, engine.ConnectionCount())
}
