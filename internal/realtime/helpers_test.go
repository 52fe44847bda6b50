package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-realtime/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Outbound
	closed bool
	full   bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(evt Outbound) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.full {
		return false
	}
	f.events = append(f.events, evt)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) setFull() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// received returns the events named name, in arrival order.
func (f *fakeConn) received(name string) []Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Outbound
	for _, e := range f.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

type fakeChats struct {
	mu       sync.Mutex
	chats    map[string][]string
	err      error
	onLookup func()
	lookups  int
}

func newFakeChats() *fakeChats {
	return &fakeChats{chats: make(map[string][]string)}
}

func (f *fakeChats) add(chatID string, users ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[chatID] = users
}

func (f *fakeChats) Participants(_ context.Context, chatID string) ([]string, error) {
	f.mu.Lock()
	f.lookups++
	hook := f.onLookup
	users, ok := f.chats[chatID]
	err := f.err
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errChatMissing
	}
	return users, nil
}

var (
	errChatMissing    = errors.New("chat missing")
	errMessageMissing = errors.New("message missing")
)

type fakeMessages struct {
	mu   sync.Mutex
	msgs map[string]models.Message
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{msgs: make(map[string]models.Message)}
}

func (f *fakeMessages) put(m models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[m.ID] = m
}

func (f *fakeMessages) GetMessage(_ context.Context, id string) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return models.Message{}, errMessageMissing
	}
	return m, nil
}

type harness struct {
	sessions *SessionRegistry
	presence *PresenceTracker
	rooms    *RoomManager
	typing   *TypingTracker
	board    *Switchboard
	relay    *Relay
	ctrl     *Controller
	chats    *fakeChats
	messages *fakeMessages
}

func newHarness(t *testing.T, typingTTL time.Duration) *harness {
	t.Helper()
	log := discardLogger()
	h := &harness{
		sessions: NewSessionRegistry(),
		presence: NewPresenceTracker(),
		rooms:    NewRoomManager(),
		typing:   NewTypingTracker(typingTTL),
		board:    NewSwitchboard(log),
		chats:    newFakeChats(),
		messages: newFakeMessages(),
	}
	h.relay = NewRelay(h.sessions, h.board, h.chats, 128, log)
	h.ctrl = NewController(h.sessions, h.presence, h.rooms, h.typing, h.relay, h.board, h.messages, log)
	t.Cleanup(h.typing.Stop)
	return h
}

// connect opens connID and, when userID is set, completes setup.
func (h *harness) connect(t *testing.T, connID, userID string) *fakeConn {
	t.Helper()
	conn := newFakeConn(connID)
	h.ctrl.Open(conn, "")
	if userID != "" {
		require.NoError(t, h.ctrl.Setup(connID, userID))
	}
	return conn
}
