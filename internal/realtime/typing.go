package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// TypingChange is emitted when a (chat, user) typing flag flips.
// Expired is set when the flag was cleared by the TTL rather than by the
// client or a disconnect.
type TypingChange struct {
	ChatID  string
	UserID  string
	Typing  bool
	Expired bool
}

// TypingObserver receives typing flips. It may be called from a timer
// goroutine.
type TypingObserver func(TypingChange)

type typingKey struct {
	chatID string
	userID string
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// TypingTracker keeps the ephemeral "is typing" flag per chat and user.
// A flag that is not refreshed within ttl clears itself; a ttl of zero
// disables expiry.
type TypingTracker struct {
	mu        sync.Mutex
	ttl       time.Duration
	active    map[typingKey]*typingEntry
	byUser    map[string]map[string]struct{}
	observers []TypingObserver
	gen       uint64
}

// NewTypingTracker creates a tracker with the given expiry.
func NewTypingTracker(ttl time.Duration, observers ...TypingObserver) *TypingTracker {
	return &TypingTracker{
		ttl:       ttl,
		active:    make(map[typingKey]*typingEntry),
		byUser:    make(map[string]map[string]struct{}),
		observers: observers,
	}
}

// Observe registers an additional observer.
func (t *TypingTracker) Observe(o TypingObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// SetTyping marks userID as typing in chatID and restarts its expiry.
// Only the first call of a run notifies observers.
func (t *TypingTracker) SetTyping(chatID, userID string) bool {
	key := typingKey{chatID: chatID, userID: userID}

	t.mu.Lock()
	t.gen++
	gen := t.gen
	entry, exists := t.active[key]
	if exists {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.gen = gen
	} else {
		entry = &typingEntry{gen: gen}
		t.active[key] = entry
		chats, ok := t.byUser[userID]
		if !ok {
			chats = make(map[string]struct{})
			t.byUser[userID] = chats
		}
		chats[chatID] = struct{}{}
	}
	if t.ttl > 0 {
		entry.timer = time.AfterFunc(t.ttl, func() { t.expire(key, gen) })
	}
	observers := t.snapshotObservers()
	t.mu.Unlock()

	if exists {
		return false
	}
	notify(observers, TypingChange{ChatID: chatID, UserID: userID, Typing: true})
	return true
}

// ClearTyping marks userID as not typing in chatID.
func (t *TypingTracker) ClearTyping(chatID, userID string) bool {
	t.mu.Lock()
	removed := t.removeLocked(typingKey{chatID: chatID, userID: userID})
	observers := t.snapshotObservers()
	t.mu.Unlock()

	if !removed {
		return false
	}
	notify(observers, TypingChange{ChatID: chatID, UserID: userID})
	return true
}

// ClearAllFor clears every typing flag held by userID and returns the
// affected chats, sorted.
func (t *TypingTracker) ClearAllFor(userID string) []string {
	t.mu.Lock()
	chats := lo.Keys(t.byUser[userID])
	sort.Strings(chats)
	for _, chatID := range chats {
		t.removeLocked(typingKey{chatID: chatID, userID: userID})
	}
	observers := t.snapshotObservers()
	t.mu.Unlock()

	for _, chatID := range chats {
		notify(observers, TypingChange{ChatID: chatID, UserID: userID})
	}
	return chats
}

// IsTyping reports the flag for one chat and user.
func (t *TypingTracker) IsTyping(chatID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[typingKey{chatID: chatID, userID: userID}]
	return ok
}

// Typists returns the users currently typing in chatID, sorted.
func (t *TypingTracker) Typists(chatID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var users []string
	for key := range t.active {
		if key.chatID == chatID {
			users = append(users, key.userID)
		}
	}
	sort.Strings(users)
	return users
}

// Stop cancels all pending expiry timers.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range t.active {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
}

func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.active[key]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	t.removeLocked(key)
	observers := t.snapshotObservers()
	t.mu.Unlock()

	notify(observers, TypingChange{ChatID: key.chatID, UserID: key.userID, Expired: true})
}

func (t *TypingTracker) removeLocked(key typingKey) bool {
	entry, ok := t.active[key]
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(t.active, key)
	if chats, ok := t.byUser[key.userID]; ok {
		delete(chats, key.chatID)
		if len(chats) == 0 {
			delete(t.byUser, key.userID)
		}
	}
	return true
}

func (t *TypingTracker) snapshotObservers() []TypingObserver {
	return append([]TypingObserver(nil), t.observers...)
}

func notify(observers []TypingObserver, change TypingChange) {
	for _, o := range observers {
		o(change)
	}
}
