package realtime

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// SessionRegistry maps each user to the set of live connections it owns.
// A user may hold several connections at once (tabs, devices).
type SessionRegistry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{}
	byConn map[string]string
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// Register attaches connID to userID. Registering the same pair twice is a
// no-op; registering a known connID under another user moves it.
func (r *SessionRegistry) Register(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok && prev != userID {
		r.detachLocked(connID, prev)
	}
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	r.byConn[connID] = userID
}

// Unregister removes connID and reports the user that owned it.
// Unknown connections are ignored.
func (r *SessionRegistry) Unregister(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	r.detachLocked(connID, userID)
	return userID, true
}

func (r *SessionRegistry) detachLocked(connID, userID string) {
	delete(r.byConn, connID)
	if conns, ok := r.byUser[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// HasOtherConnections reports whether userID still owns a connection other
// than excludingConnID.
func (r *SessionRegistry) HasOtherConnections(userID, excludingConnID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for connID := range r.byUser[userID] {
		if connID != excludingConnID {
			return true
		}
	}
	return false
}

// Listeners returns the live connections of userID, sorted. Empty when the
// user has none.
func (r *SessionRegistry) Listeners(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.byUser[userID])
	sort.Strings(ids)
	return ids
}

// Owner returns the user a connection is registered to.
func (r *SessionRegistry) Owner(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byConn[connID]
	return userID, ok
}

// Connections returns a copy of the connID -> userID index.
func (r *SessionRegistry) Connections() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.byConn))
	for connID, userID := range r.byConn {
		out[connID] = userID
	}
	return out
}
