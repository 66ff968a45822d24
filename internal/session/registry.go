package session

import (
	"log/slog"
	"sync"
	"time"
)

// Member is one live session's registry entry. The registry tracks
// membership for accounting and broadcast only; it never owns a
// session's buffers.
type Member struct {
	Conn        Conn
	ClientID    string
	ConnectedAt time.Time
}

// Registry tracks live streaming sessions. Add and Remove are called
// from independent session lifecycles concurrently.
type Registry struct {
	mu      sync.Mutex
	members map[string]Member
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[string]Member)}
}

func (r *Registry) Add(id string, m Member) {
	r.mu.Lock()
	r.members[id] = m
	total := len(r.members)
	r.mu.Unlock()
	slog.Info("client connected", "session_id", id, "client_id", m.ClientID, "total_connections", total)
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	m, ok := r.members[id]
	if ok {
		delete(r.members, id)
	}
	total := len(r.members)
	r.mu.Unlock()
	if ok {
		slog.Info("client disconnected", "session_id", id, "client_id", m.ClientID, "total_connections", total)
	}
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Broadcast sends v to a snapshot of the current members. A failed send
// removes that member but never aborts delivery to the rest.
func (r *Registry) Broadcast(v any) {
	r.mu.Lock()
	snapshot := make(map[string]Member, len(r.members))
	for id, m := range r.members {
		snapshot[id] = m
	}
	r.mu.Unlock()

	for id, m := range snapshot {
		if err := m.Conn.WriteJSON(v); err != nil {
			slog.Warn("broadcast send failed; removing member", "session_id", id, "error", err)
			r.Remove(id)
		}
	}
}
