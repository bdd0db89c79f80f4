package presence

import (
	"sync"
	"time"

	"messenger-service/internal/observability"
)

type entry struct {
	conn        Conn
	connectedAt time.Time
}

// Registry maps a user id to its single live connection. It is the
// authoritative source of who is online. All operations are atomic with
// respect to concurrent connect/disconnect.
type Registry struct {
	mu      sync.RWMutex
	entries map[int]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int]entry)}
}

// Register binds the connection to the user. A new connection from an already
// online user supersedes the previous one; the superseded handle is returned
// so the caller can close it. wasOnline reports whether the user already had
// an active connection, which callers use to suppress duplicate online
// broadcasts.
func (r *Registry) Register(userID int, conn Conn) (superseded Conn, wasOnline bool) {
	r.mu.Lock()
	prev, ok := r.entries[userID]
	r.entries[userID] = entry{conn: conn, connectedAt: time.Now()}
	count := len(r.entries)
	r.mu.Unlock()

	observability.SetOnlineUsers(count)
	if ok && prev.conn != conn {
		return prev.conn, true
	}
	return nil, ok
}

// Unregister removes the user's entry only if the given connection is still
// the active one. A stale unregister from a superseded connection is a no-op
// and returns false.
func (r *Registry) Unregister(userID int, conn Conn) bool {
	r.mu.Lock()
	cur, ok := r.entries[userID]
	if !ok || cur.conn != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, userID)
	count := len(r.entries)
	r.mu.Unlock()

	observability.SetOnlineUsers(count)
	return true
}

// Lookup returns the user's live connection, if any.
func (r *Registry) Lookup(userID int) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// IsOnline reports whether the user has a live connection.
func (r *Registry) IsOnline(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[userID]
	return ok
}

// Snapshot returns the ids of all online users.
func (r *Registry) Snapshot() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// ConnsExcept copies out every live connection except the given user's own.
// Callers push to the returned handles outside of any registry lock.
func (r *Registry) ConnsExcept(userID int) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Conn, 0, len(r.entries))
	for id, e := range r.entries {
		if id == userID {
			continue
		}
		conns = append(conns, e.conn)
	}
	return conns
}
