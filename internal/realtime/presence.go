package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// PresenceChange is emitted once per Offline->Online or Online->Offline edge.
type PresenceChange struct {
	UserID string
	Online bool
	At     time.Time
}

// PresenceObserver receives presence edges. Observers run outside the
// tracker's lock and must not block for long.
type PresenceObserver func(PresenceChange)

// PresenceTracker holds the online/offline state of every user.
type PresenceTracker struct {
	mu        sync.RWMutex
	online    map[string]time.Time
	observers []PresenceObserver
	now       func() time.Time
}

// NewPresenceTracker creates a tracker in which every user starts offline.
func NewPresenceTracker(observers ...PresenceObserver) *PresenceTracker {
	return &PresenceTracker{
		online:    make(map[string]time.Time),
		observers: observers,
		now:       time.Now,
	}
}

// Observe registers an additional observer.
func (p *PresenceTracker) Observe(o PresenceObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// MarkOnline moves userID to online. It returns false and notifies nobody
// when the user was already online.
func (p *PresenceTracker) MarkOnline(userID string) bool {
	return p.transition(userID, true)
}

// MarkOffline moves userID to offline. It returns false and notifies nobody
// when the user was already offline.
func (p *PresenceTracker) MarkOffline(userID string) bool {
	return p.transition(userID, false)
}

func (p *PresenceTracker) transition(userID string, online bool) bool {
	p.mu.Lock()
	_, isOnline := p.online[userID]
	if isOnline == online {
		p.mu.Unlock()
		return false
	}
	at := p.now()
	if online {
		p.online[userID] = at
	} else {
		delete(p.online, userID)
	}
	observers := append([]PresenceObserver(nil), p.observers...)
	p.mu.Unlock()

	change := PresenceChange{UserID: userID, Online: online, At: at}
	for _, o := range observers {
		o(change)
	}
	return true
}

// IsOnline reports the current state of userID.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Snapshot returns every online user, sorted.
func (p *PresenceTracker) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := lo.Keys(p.online)
	sort.Strings(users)
	return users
}
