package protocol

import "time"

// AlertsRoom receives alert broadcasts. Joining it requires the wildcard
// permission so alert payloads only reach privileged connections.
const AlertsRoom = "alerts"

// registerBuiltins wires the message types every deployment gets: ping,
// room subscription management, and live stats.
func (e *Engine) registerBuiltins() {
	e.Handle("ping", func(c *Connection, msg *Message) {
		_ = c.SendJSON(map[string]any{
			"type":      "pong",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"id":        msg.ID,
		})
	})

	e.Handle("subscribe", func(c *Connection, msg *Message) {
		if msg.Room == "" {
			e.sendError(c, msg.ID, "subscribe requires a room")
			return
		}
		if msg.Room == AlertsRoom {
			if u := c.User(); u == nil || !u.HasPermission("*") {
				e.sendError(c, msg.ID, "room requires admin permission")
				return
			}
		}
		e.JoinRoom(c, msg.Room)
		_ = c.SendJSON(map[string]any{
			"type": "subscribed",
			"room": msg.Room,
			"id":   msg.ID,
		})
	})

	e.Handle("unsubscribe", func(c *Connection, msg *Message) {
		if msg.Room == "" {
			e.sendError(c, msg.ID, "unsubscribe requires a room")
			return
		}
		e.LeaveRoom(c, msg.Room)
		_ = c.SendJSON(map[string]any{
			"type": "unsubscribed",
			"room": msg.Room,
			"id":   msg.ID,
		})
	})

	e.Handle("stats", func(c *Connection, msg *Message) {
		stats := e.Stats()
		_ = c.SendJSON(map[string]any{
			"type":        "stats",
			"connections": stats.Connections,
			"rooms":       stats.Rooms,
			"id":          msg.ID,
		})
	})
}
