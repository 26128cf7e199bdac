package protocol

// JoinRoom adds a connection to a room, creating the room on first join.
func (e *Engine) JoinRoom(c *Connection, room string) {
	e.mu.Lock()
	members, ok := e.rooms[room]
	if !ok {
		members = make(map[string]*Connection)
		e.rooms[room] = members
	}
	members[c.id] = c
	e.mu.Unlock()

	c.joinRoom(room)
}

// LeaveRoom removes a connection from a room. The last member out deletes
// the room.
func (e *Engine) LeaveRoom(c *Connection, room string) {
	e.mu.Lock()
	if members, ok := e.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(e.rooms, room)
		}
	}
	e.mu.Unlock()

	c.leaveRoom(room)
}

// Broadcast sends a payload to every authenticated connection matching the
// optional predicate. Send failures are dropped; the next liveness pass
// reaps dead connections. Returns the number of successful sends.
func (e *Engine) Broadcast(payload any, pred func(*Connection) bool) int {
	e.mu.RLock()
	targets := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		targets = append(targets, c)
	}
	e.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if e.cfg.RequireAuth && !c.Authenticated() {
			continue
		}
		if pred != nil && !pred(c) {
			continue
		}
		if err := c.SendJSON(payload); err == nil {
			sent++
		}
	}
	return sent
}

// BroadcastToRoom sends a payload to every member of a room.
func (e *Engine) BroadcastToRoom(room string, payload any) int {
	e.mu.RLock()
	members := make([]*Connection, 0, len(e.rooms[room]))
	for _, c := range e.rooms[room] {
		members = append(members, c)
	}
	e.mu.RUnlock()

	sent := 0
	for _, c := range members {
		if err := c.SendJSON(payload); err == nil {
			sent++
		}
	}
	return sent
}

// Publish broadcasts a server-originated event to all authenticated
// connections.
func (e *Engine) Publish(event string, data map[string]any) int {
	return e.Broadcast(map[string]any{"type": event, "data": data}, nil)
}

// PublishToRoom broadcasts a server-originated event to one room.
func (e *Engine) PublishToRoom(room, event string, data map[string]any) int {
	return e.BroadcastToRoom(room, map[string]any{"type": event, "data": data})
}
