// Package protocol terminates raw socket connections: the upgrade
// handshake, per-connection read loops over the wire codec, authentication
// gating, room membership, liveness pings, and broadcast fan-out.
package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/pkg/wire"
)

// ErrConnectionClosed is returned by writes on a closed connection.
var ErrConnectionClosed = errors.New("protocol: connection closed")

// User is the authenticated identity attached to a connection.
type User struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether the user carries the scope or wildcard.
func (u *User) HasPermission(scope string) bool {
	for _, p := range u.Permissions {
		if p == "*" || p == scope {
			return true
		}
	}
	return false
}

// Connection is one live socket connection. The engine owns its transport;
// all writes serialize through the write mutex because the read loop,
// heartbeat, and broadcasts write concurrently.
type Connection struct {
	id        string
	conn      net.Conn
	reader    *bufio.Reader
	createdAt time.Time
	remoteIP  string
	userAgent string

	messages atomic.Int64
	closed   atomic.Bool

	writeMu sync.Mutex

	stateMu       sync.RWMutex
	authenticated bool
	user          *User
	rooms         map[string]struct{}
	lastPing      time.Time
	lastPong      time.Time
}

func newConnection(conn net.Conn, reader *bufio.Reader, remoteIP, userAgent string) *Connection {
	now := time.Now()
	return &Connection{
		id:        uuid.NewString(),
		conn:      conn,
		reader:    reader,
		createdAt: now,
		remoteIP:  remoteIP,
		userAgent: userAgent,
		rooms:     make(map[string]struct{}),
		lastPing:  now,
		lastPong:  now,
	}
}

// ID returns the opaque connection id.
func (c *Connection) ID() string { return c.id }

// RemoteIP returns the peer address captured at upgrade time.
func (c *Connection) RemoteIP() string { return c.remoteIP }

// CreatedAt returns the connection establishment time.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// Messages returns the number of frames processed on this connection.
func (c *Connection) Messages() int64 { return c.messages.Load() }

// Authenticated reports whether the auth exchange has completed.
func (c *Connection) Authenticated() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.authenticated
}

// User returns the authenticated identity, or nil.
func (c *Connection) User() *User {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.user
}

func (c *Connection) setAuthenticated(u *User) {
	c.stateMu.Lock()
	c.authenticated = true
	c.user = u
	c.stateMu.Unlock()
}

// Rooms returns the rooms this connection has joined.
func (c *Connection) Rooms() []string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

func (c *Connection) joinRoom(room string) {
	c.stateMu.Lock()
	c.rooms[room] = struct{}{}
	c.stateMu.Unlock()
}

func (c *Connection) leaveRoom(room string) {
	c.stateMu.Lock()
	delete(c.rooms, room)
	c.stateMu.Unlock()
}

// InRoom reports membership in one room.
func (c *Connection) InRoom(room string) bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Connection) touchPong() {
	c.stateMu.Lock()
	c.lastPong = time.Now()
	c.stateMu.Unlock()
}

func (c *Connection) touchPing() {
	c.stateMu.Lock()
	c.lastPing = time.Now()
	c.stateMu.Unlock()
}

// LastPong returns the time of the most recent pong (or creation).
func (c *Connection) LastPong() time.Time {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastPong
}

// IsClosed reports whether the transport has been torn down.
func (c *Connection) IsClosed() bool { return c.closed.Load() }

// writeFrame sends one unmasked frame. Server frames are never masked.
func (c *Connection) writeFrame(f wire.Frame) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.conn, f, false)
}

// SendJSON marshals v and sends it as a text frame.
func (c *Connection) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeFrame(wire.Frame{FIN: true, Opcode: wire.OpText, Payload: data})
}

// SendBinary sends a binary frame.
func (c *Connection) SendBinary(data []byte) error {
	return c.writeFrame(wire.Frame{FIN: true, Opcode: wire.OpBinary, Payload: data})
}

// ping sends a liveness ping and stamps lastPing.
func (c *Connection) ping() error {
	c.touchPing()
	return c.writeFrame(wire.Frame{FIN: true, Opcode: wire.OpPing})
}

// close sends a best-effort close frame and tears down the transport.
// Safe to call more than once.
func (c *Connection) close(code uint16, reason string) {
	if c.closed.Swap(true) {
		return
	}
	c.writeMu.Lock()
	_ = wire.WriteFrame(c.conn, wire.Frame{
		FIN:     true,
		Opcode:  wire.OpClose,
		Payload: wire.EncodeClose(code, reason),
	}, false)
	c.writeMu.Unlock()
	_ = c.conn.Close()
}
