// Package realtime fans chat messages out to the live websocket connections
// watching a chat session.
package realtime

import "sync"

// Conn is a live connection that can be handed a serialized event. Send must
// not block on the network.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

// Registry tracks, per chat session, the live connections interested in
// that session's messages. A session id is present only while at least one
// connection is registered for it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[Conn]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[Conn]struct{}),
	}
}

// Register makes conn a broadcast target for sessionID
func (r *Registry) Register(sessionID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[sessionID]
	if !ok {
		conns = make(map[Conn]struct{})
		r.sessions[sessionID] = conns
	}
	conns[conn] = struct{}{}
}

// Unregister removes conn from sessionID and drops the session entry once it
// is empty. Unregistering an unknown connection is a no-op.
func (r *Registry) Unregister(sessionID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(r.sessions, sessionID)
	}
}

// BroadcastTargets returns a snapshot of the connections registered for
// sessionID. The slice is owned by the caller.
func (r *Registry) BroadcastTargets(sessionID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.sessions[sessionID]
	targets := make([]Conn, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	return targets
}

// Len returns how many connections are registered for sessionID
func (r *Registry) Len(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// Sessions returns how many sessions currently have live connections
func (r *Registry) Sessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// HasSession reports whether sessionID has a registry entry
func (r *Registry) HasSession(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// CloseAll closes every registered connection, used on server shutdown. The
// connections unregister themselves as their read loops end.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	var conns []Conn
	for _, set := range r.sessions {
		for c := range set {
			conns = append(conns, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
