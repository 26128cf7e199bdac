package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolgate/toolgate/pkg/wire"
)

// ErrUpgradeRejected is returned when a handshake is refused. The transport
// is closed without an HTTP response body, per the rejection contract.
var ErrUpgradeRejected = errors.New("protocol: upgrade rejected")

// Config tunes the engine.
type Config struct {
	MaxConnections int
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
	SweepInterval  time.Duration
	RequireAuth    bool
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 1000
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = wire.DefaultMaxPayload
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	return c
}

// Authenticator validates the key presented in an auth message.
type Authenticator interface {
	Authenticate(key string) (*User, error)
}

// Message is the JSON envelope carried in text frames. Raw preserves the
// full payload for handlers that need fields beyond the envelope.
type Message struct {
	Type string          `json:"type"`
	ID   any             `json:"id,omitempty"`
	Room string          `json:"room,omitempty"`
	Key  string          `json:"key,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// HandlerFunc processes one inbound message of a registered type.
type HandlerFunc func(c *Connection, msg *Message)

// BinaryHandler receives raw binary frames for external consumers.
type BinaryHandler func(c *Connection, data []byte)

// Engine owns all live connections, their rooms, and message dispatch.
type Engine struct {
	cfg    Config
	auth   Authenticator
	logger *slog.Logger

	// liveness intervals, runtime-tunable
	pingNanos atomic.Int64
	pongNanos atomic.Int64

	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[string]map[string]*Connection

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc
	onBinary   BinaryHandler

	stop chan struct{}
	once sync.Once
}

// NewEngine creates an engine and registers the built-in message types.
func NewEngine(cfg Config, auth Authenticator, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		auth:     auth,
		logger:   logger,
		conns:    make(map[string]*Connection),
		rooms:    make(map[string]map[string]*Connection),
		handlers: make(map[string]HandlerFunc),
		stop:     make(chan struct{}),
	}
	e.pingNanos.Store(int64(e.cfg.PingInterval))
	e.pongNanos.Store(int64(e.cfg.PongTimeout))
	e.registerBuiltins()
	return e
}

// SetLiveness updates the heartbeat interval and pong grace at runtime.
// Non-positive values leave the corresponding setting unchanged.
func (e *Engine) SetLiveness(pingInterval, pongTimeout time.Duration) {
	if pingInterval > 0 {
		e.pingNanos.Store(int64(pingInterval))
	}
	if pongTimeout > 0 {
		e.pongNanos.Store(int64(pongTimeout))
	}
}

func (e *Engine) pingInterval() time.Duration {
	return time.Duration(e.pingNanos.Load())
}

func (e *Engine) pongTimeout() time.Duration {
	return time.Duration(e.pongNanos.Load())
}

// Handle registers a handler for a message type, replacing any previous one.
func (e *Engine) Handle(msgType string, h HandlerFunc) {
	e.handlersMu.Lock()
	e.handlers[msgType] = h
	e.handlersMu.Unlock()
}

// HandleBinary registers the consumer for raw binary frames.
func (e *Engine) HandleBinary(h BinaryHandler) {
	e.handlersMu.Lock()
	e.onBinary = h
	e.handlersMu.Unlock()
}

// HandleUpgrade performs the opening handshake on an upgrade request.
// Rejections (missing key, capacity, bad origin) close the transport
// without a response body.
func (e *Engine) HandleUpgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return nil, errors.New("protocol: response writer cannot hijack")
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	origin := r.Header.Get("Origin")

	var reason string
	switch {
	case key == "":
		reason = "missing Sec-WebSocket-Key"
	case e.ConnectionCount() >= e.cfg.MaxConnections:
		reason = "connection capacity reached"
	case origin != "" && !originAllowed(origin, e.cfg.AllowedOrigins):
		reason = "origin not allowed"
	}

	netConn, rw, err := hj.Hijack()
	if err != nil {
		return nil, fmt.Errorf("protocol: hijack failed: %w", err)
	}

	if reason != "" {
		e.logger.Warn("upgrade rejected", "reason", reason, "remote", r.RemoteAddr)
		_ = netConn.Close()
		return nil, fmt.Errorf("%w: %s", ErrUpgradeRejected, reason)
	}

	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + wire.AcceptKey(key) + "\r\n\r\n"
	if _, err := rw.WriteString(response); err != nil {
		_ = netConn.Close()
		return nil, err
	}
	if err := rw.Flush(); err != nil {
		_ = netConn.Close()
		return nil, err
	}

	conn := newConnection(netConn, rw.Reader, remoteIP(r), r.UserAgent())

	e.mu.Lock()
	e.conns[conn.id] = conn
	e.mu.Unlock()

	e.logger.Info("connection opened", "id", conn.id, "remote", conn.remoteIP)
	go e.readLoop(conn)
	return conn, nil
}

// readLoop processes frames for one connection until teardown. Messages on
// a single connection are handled in arrival order.
func (e *Engine) readLoop(c *Connection) {
	defer e.remove(c, wire.CloseNormal, "")

	for {
		f, err := wire.ReadFrame(c.reader, e.cfg.MaxMessageSize)
		if err != nil {
			switch {
			case errors.Is(err, wire.ErrTooLarge):
				c.close(wire.CloseMessageTooBig, "message too large")
			case errors.Is(err, wire.ErrReservedBits):
				c.close(wire.CloseProtocolError, "reserved bits set")
			}
			return
		}

		if f.Fragmented() {
			// Structurally parsed but never reassembled; reject instead of
			// silently dropping partial messages.
			c.close(wire.CloseUnsupportedData, wire.ErrFragmentNotSupported.Error())
			return
		}

		c.messages.Add(1)

		switch f.Opcode {
		case wire.OpText:
			e.handleText(c, f.Payload)
		case wire.OpBinary:
			e.handlersMu.RLock()
			h := e.onBinary
			e.handlersMu.RUnlock()
			if h != nil {
				h(c, f.Payload)
			}
		case wire.OpClose:
			code, _ := wire.ParseClose(f.Payload)
			e.logger.Debug("close frame received", "id", c.id, "code", code)
			c.close(wire.CloseNormal, "")
			return
		case wire.OpPing:
			_ = c.writeFrame(wire.Frame{FIN: true, Opcode: wire.OpPong, Payload: f.Payload})
		case wire.OpPong:
			c.touchPong()
		default:
			c.close(wire.CloseProtocolError, "unknown opcode")
			return
		}
	}
}

// handleText parses the envelope, applies auth gating, and dispatches.
func (e *Engine) handleText(c *Connection, payload []byte) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Type == "" {
		e.sendError(c, nil, "invalid message envelope")
		return
	}
	msg.Raw = payload

	if e.cfg.RequireAuth && !c.Authenticated() {
		if msg.Type == "auth" {
			e.handleAuth(c, &msg)
			return
		}
		e.sendError(c, msg.ID, "authentication required")
		return
	}

	e.handlersMu.RLock()
	h := e.handlers[msg.Type]
	e.handlersMu.RUnlock()
	if h == nil {
		e.sendError(c, msg.ID, "unknown message type: "+msg.Type)
		return
	}
	h(c, &msg)
}

// handleAuth validates the presented key. A failure leaves the connection
// open and unauthenticated so the client can retry.
func (e *Engine) handleAuth(c *Connection, msg *Message) {
	user, err := e.auth.Authenticate(msg.Key)
	if err != nil {
		e.logger.Warn("socket auth failed", "id", c.id, "remote", c.remoteIP)
		_ = c.SendJSON(map[string]any{
			"type":  "auth_failed",
			"error": "invalid API key",
			"id":    msg.ID,
		})
		return
	}

	c.setAuthenticated(user)
	_ = c.SendJSON(map[string]any{
		"type":         "welcome",
		"connectionId": c.id,
		"user":         user.Name,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"id":           msg.ID,
	})
}

func (e *Engine) sendError(c *Connection, id any, message string) {
	_ = c.SendJSON(map[string]any{"type": "error", "error": message, "id": id})
}

// remove tears down a connection: transport closed, registry entry and all
// room memberships dropped.
func (e *Engine) remove(c *Connection, code uint16, reason string) {
	c.close(code, reason)

	e.mu.Lock()
	delete(e.conns, c.id)
	for room, members := range e.rooms {
		delete(members, c.id)
		if len(members) == 0 {
			delete(e.rooms, room)
		}
	}
	e.mu.Unlock()

	e.logger.Info("connection closed", "id", c.id)
}

// ConnectionCount returns the number of live connections.
func (e *Engine) ConnectionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.conns)
}

// RoomCount returns the number of rooms with at least one member.
func (e *Engine) RoomCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rooms)
}

// Stats summarizes engine state for the stats surfaces.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

// Stats returns connection/room counts.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connections: len(e.conns), Rooms: len(e.rooms)}
}

// Close force-closes every connection and stops background loops.
func (e *Engine) Close() {
	e.once.Do(func() { close(e.stop) })

	e.mu.Lock()
	conns := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		e.remove(c, wire.CloseGoingAway, "server shutting down")
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
