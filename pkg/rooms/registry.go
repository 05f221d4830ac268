// Package rooms is the unscoped room registry: plain sets of connection
// ids keyed by room id, with no permission gating. Rooms are created
// lazily on first join and deleted when empty.
package rooms

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[uuid.UUID]struct{}
	// byConn tracks each connection's current room so a new join can force
	// departure from the previous one.
	byConn map[uuid.UUID]string

	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]map[uuid.UUID]struct{}),
		byConn: make(map[uuid.UUID]string),
		logger: logger.With(slog.String("component", "room_registry")),
	}
}

// Join adds the connection to the room, removing it from any prior room
// first. Returns the room left (if any) and the other members of the new
// room.
func (r *Registry) Join(connID uuid.UUID, roomID string) (left string, members []uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok && prev != roomID {
		r.leaveLocked(connID, prev)
		left = prev
	}

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[uuid.UUID]struct{})
		r.rooms[roomID] = room
	}
	room[connID] = struct{}{}
	r.byConn[connID] = roomID

	members = make([]uuid.UUID, 0, len(room)-1)
	for id := range room {
		if id != connID {
			members = append(members, id)
		}
	}

	r.logger.Debug("joined room", slog.String("roomID", roomID), slog.String("connID", connID.String()))
	return left, members
}

// Leave removes the connection from the named room. Reports whether the
// connection was a member.
func (r *Registry) Leave(connID uuid.UUID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, member := room[connID]; !member {
		return false
	}
	r.leaveLocked(connID, roomID)
	return true
}

// Remove drops the connection from whatever room it is in. Returns the
// room id it left, if any.
func (r *Registry) Remove(connID uuid.UUID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	r.leaveLocked(connID, roomID)
	return roomID, true
}

// Members returns the connections in a room.
func (r *Registry) Members(roomID string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(room))
	for id := range room {
		out = append(out, id)
	}
	return out
}

// EachMember visits every member of a room while holding the registry
// lock, so two concurrent visits can never interleave. Callbacks must not
// block; broadcast enqueues are fine, registry calls are not.
func (r *Registry) EachMember(roomID string, fn func(connID uuid.UUID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.rooms[roomID] {
		fn(id)
	}
}

// RoomOf returns the room the connection currently occupies.
func (r *Registry) RoomOf(connID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.byConn[connID]
	return roomID, ok
}

// Count reports the number of rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Clear drops all membership state.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[string]map[uuid.UUID]struct{})
	r.byConn = make(map[uuid.UUID]string)
}

func (r *Registry) leaveLocked(connID uuid.UUID, roomID string) {
	if room, ok := r.rooms[roomID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, roomID)
			r.logger.Debug("removed empty room", slog.String("roomID", roomID))
		}
	}
	delete(r.byConn, connID)
}
