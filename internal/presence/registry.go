// Package presence maps user identities to their single live connection.
package presence

import (
	"sort"
	"sync"
)

// Registry holds at most one connection id per user. A later connection from
// the same user replaces the earlier one.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]string)}
}

// Register binds userID to connID, overwriting any earlier binding.
func (r *Registry) Register(userID, connID string) {
	r.mu.Lock()
	r.conns[userID] = connID
	r.mu.Unlock()
}

// Unregister removes userID only while it is still bound to connID, so a
// stale close cannot evict a newer connection of the same user.
func (r *Registry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[userID]; !ok || cur != connID {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Lookup returns the connection currently bound to userID.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	connID, ok := r.conns[userID]
	r.mu.RUnlock()
	return connID, ok
}

// ListOnline returns the online user ids in ascending order.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		out = append(out, userID)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
