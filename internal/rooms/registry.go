// Package rooms implements the broadcast-group registry: roomID mapped to
// the set of active connection handles. Join and leave are set operations;
// broadcast is an iteration over the set. The registry knows nothing about
// membership rules or transports, which keeps the gateway independently
// testable.
package rooms

import "sync"

// Member is a connection handle that can receive room broadcasts.
type Member interface {
	SessionID() string
	Write(data []byte) error
}

// room holds one broadcast group. The write mutex is held across a full
// broadcast iteration so events reach current members in the order the
// gateway processed them.
type room struct {
	mu      sync.Mutex
	members map[string]Member // session id -> member
}

// Registry maps room ids to member sets, with a reverse index so a
// disconnecting session can be swept out of all its rooms.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	sessions map[string]map[string]struct{} // session id -> room ids
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]*room),
		sessions: make(map[string]map[string]struct{}),
	}
}

// Join adds a member to a room. It reports whether the room came into
// existence with this join, which callers use to start cross-instance
// subscriptions. Joining twice is a no-op.
func (r *Registry) Join(roomID string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[string]Member)}
		r.rooms[roomID] = rm
	}
	created := !ok

	rm.mu.Lock()
	rm.members[m.SessionID()] = m
	rm.mu.Unlock()

	if _, ok := r.sessions[m.SessionID()]; !ok {
		r.sessions[m.SessionID()] = make(map[string]struct{})
	}
	r.sessions[m.SessionID()][roomID] = struct{}{}
	return created
}

// Leave removes a session from a room. It reports whether the room is now
// empty and has been dropped. Leaving a room the session is not in is a
// no-op.
func (r *Registry) Leave(roomID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomID, sessionID)
}

// LeaveAll removes a session from every room it joined and returns the
// rooms that emptied as a result. Called on disconnect.
func (r *Registry) LeaveAll(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var emptied []string
	for roomID := range r.sessions[sessionID] {
		if r.leaveLocked(roomID, sessionID) {
			emptied = append(emptied, roomID)
		}
	}
	delete(r.sessions, sessionID)
	return emptied
}

// leaveLocked removes the session from one room. Callers hold r.mu.
func (r *Registry) leaveLocked(roomID, sessionID string) bool {
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}

	rm.mu.Lock()
	delete(rm.members, sessionID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if set, ok := r.sessions[sessionID]; ok {
		delete(set, roomID)
	}
	if empty {
		delete(r.rooms, roomID)
	}
	return empty
}

// Broadcast writes data to every current member of the room. Individual
// write failures are ignored; dead connections are cleaned up by the
// gateway's read path. Delivery order within a room follows call order.
func (r *Registry) Broadcast(roomID string, data []byte) {
	r.BroadcastExcept(roomID, "", data)
}

// BroadcastExcept is Broadcast minus one session, used so a sender does
// not receive its own typing signals.
func (r *Registry) BroadcastExcept(roomID, exceptSessionID string, data []byte) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for sid, m := range rm.members {
		if sid == exceptSessionID {
			continue
		}
		_ = m.Write(data)
	}
}

// Count returns the current number of members in a room.
func (r *Registry) Count(roomID string) int {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// RoomsOf returns a snapshot of the rooms a session currently belongs to.
func (r *Registry) RoomsOf(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions[sessionID]))
	for roomID := range r.sessions[sessionID] {
		out = append(out, roomID)
	}
	return out
}
