package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/models"
)

func TestPresenceSurvivesUntilLastConnectionCloses(t *testing.T) {
	h := newHarness(t, 0)
	rec := &presenceRecorder{}
	h.presence.Observe(rec.observe)

	h.connect(t, "c1", "u")
	h.connect(t, "c2", "u")
	assert.Equal(t, 1, rec.count("u", true))

	h.ctrl.Close("c1")
	assert.True(t, h.presence.IsOnline("u"))
	assert.Equal(t, 0, rec.count("u", false))

	h.ctrl.Close("c2")
	assert.False(t, h.presence.IsOnline("u"))
	assert.Equal(t, 1, rec.count("u", false))

	h.ctrl.Close("c2")
	assert.Equal(t, 1, rec.count("u", false))
}

func TestSetupBroadcastsPresenceToOthers(t *testing.T) {
	h := newHarness(t, 0)
	peer := h.connect(t, "p1", "peer")
	anon := h.connect(t, "x1", "")

	own1 := h.connect(t, "u1", "u")
	got := peer.received(EventUserConnected)
	require.Len(t, got, 1)
	assert.Equal(t, models.Ref{ID: "u"}, got[0].Data)
	assert.Empty(t, own1.received(EventUserConnected))
	assert.Empty(t, anon.received(EventUserConnected))
	require.Len(t, own1.received(EventConnected), 1)

	// A second device of an online user is not a presence change.
	h.connect(t, "u2", "u")
	assert.Len(t, peer.received(EventUserConnected), 1)

	h.ctrl.Close("u1")
	h.ctrl.Close("u2")
	off := peer.received(EventUserDisconnected)
	require.Len(t, off, 1)
	assert.Equal(t, "u", off[0].Data)
}

func TestSetupIsIdempotentAndBindsOnce(t *testing.T) {
	h := newHarness(t, 0)
	conn := h.connect(t, "c1", "u")

	require.NoError(t, h.ctrl.Setup("c1", "u"))
	assert.Len(t, conn.received(EventConnected), 2)
	assert.Equal(t, []string{"c1"}, h.sessions.Listeners("u"))

	err := h.ctrl.Setup("c1", "other")
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	assert.Empty(t, h.sessions.Listeners("other"))
}

func TestSetupMustMatchHandshakeIdentity(t *testing.T) {
	h := newHarness(t, 0)
	conn := newFakeConn("c1")
	h.ctrl.Open(conn, "alice")

	assert.ErrorIs(t, h.ctrl.Setup("c1", "mallory"), ErrIdentityMismatch)
	assert.False(t, h.presence.IsOnline("mallory"))

	require.NoError(t, h.ctrl.Setup("c1", "alice"))
	assert.True(t, h.presence.IsOnline("alice"))
}

func TestOperationsOnUnknownConnection(t *testing.T) {
	h := newHarness(t, 0)

	assert.ErrorIs(t, h.ctrl.Setup("ghost", "u"), ErrUnknownConnection)
	assert.ErrorIs(t, h.ctrl.Join("ghost", "chat"), ErrUnknownConnection)
	assert.ErrorIs(t, h.ctrl.StartTyping("ghost", "chat", ""), ErrUnknownConnection)
	assert.ErrorIs(t, h.ctrl.SendOnlineUsers("ghost"), ErrUnknownConnection)
	assert.NotPanics(t, func() { h.ctrl.Close("ghost") })
	assert.Empty(t, h.presence.Snapshot())
}

func TestTypingRequiresIdentity(t *testing.T) {
	h := newHarness(t, 0)
	h.connect(t, "c1", "")

	assert.ErrorIs(t, h.ctrl.StartTyping("c1", "chat", ""), ErrNotIdentified)
	assert.Empty(t, h.typing.Typists("chat"))
}

func TestTypingBroadcastsToRoomPeers(t *testing.T) {
	h := newHarness(t, 0)
	u1 := h.connect(t, "u1", "u")
	u2 := h.connect(t, "u2", "u")
	peer := h.connect(t, "p1", "peer")
	outsider := h.connect(t, "o1", "outsider")
	for _, id := range []string{"u1", "u2", "p1"} {
		require.NoError(t, h.ctrl.Join(id, "chat"))
	}

	require.NoError(t, h.ctrl.StartTyping("u1", "chat", "u"))
	require.NoError(t, h.ctrl.StartTyping("u1", "chat", ""))
	require.NoError(t, h.ctrl.StopTyping("u2", "chat", "u"))

	typing := peer.received(EventTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, map[string]string{"chatId": "chat", "userId": "u"}, typing[0].Data)
	assert.Len(t, peer.received(EventStopTyping), 1)
	assert.Empty(t, u1.received(EventTyping))
	assert.Empty(t, u2.received(EventTyping))
	assert.Empty(t, outsider.received(EventTyping))
}

func TestTypingForSomeoneElseIsRejected(t *testing.T) {
	h := newHarness(t, 0)
	h.connect(t, "c1", "u")

	assert.ErrorIs(t, h.ctrl.StartTyping("c1", "chat", "victim"), ErrIdentityMismatch)
	assert.False(t, h.typing.IsTyping("chat", "victim"))
}

func TestAbruptDisconnectClearsTyping(t *testing.T) {
	h := newHarness(t, 0)
	h.connect(t, "u1", "u")
	peer := h.connect(t, "p1", "peer")
	require.NoError(t, h.ctrl.Join("u1", "chat"))
	require.NoError(t, h.ctrl.Join("p1", "chat"))
	require.NoError(t, h.ctrl.StartTyping("u1", "chat", ""))

	h.ctrl.Close("u1")

	stop := peer.received(EventStopTyping)
	require.Len(t, stop, 1)
	assert.Equal(t, map[string]string{"chatId": "chat", "userId": "u"}, stop[0].Data)
	assert.False(t, h.typing.IsTyping("chat", "u"))
}

func TestTypingSurvivesWhileAnotherDeviceIsOpen(t *testing.T) {
	h := newHarness(t, 0)
	h.connect(t, "u1", "u")
	h.connect(t, "u2", "u")
	require.NoError(t, h.ctrl.StartTyping("u1", "chat", ""))

	h.ctrl.Close("u1")
	assert.True(t, h.typing.IsTyping("chat", "u"))

	h.ctrl.Close("u2")
	assert.False(t, h.typing.IsTyping("chat", "u"))
}

func TestTypingExpiryReachesPeers(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.connect(t, "u1", "u")
	peer := h.connect(t, "p1", "peer")
	require.NoError(t, h.ctrl.Join("u1", "chat"))
	require.NoError(t, h.ctrl.Join("p1", "chat"))

	require.NoError(t, h.ctrl.StartTyping("u1", "chat", ""))
	require.Eventually(t, func() bool {
		return len(peer.received(EventStopTyping)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCloseLeavesRooms(t *testing.T) {
	h := newHarness(t, 0)
	h.connect(t, "c1", "u")
	require.NoError(t, h.ctrl.Join("c1", "a"))
	require.NoError(t, h.ctrl.Join("c1", "b"))

	h.ctrl.Close("c1")
	assert.Empty(t, h.rooms.RoomsOf("c1"))
	assert.Empty(t, h.rooms.MembersOf("a"))
	assert.Empty(t, h.sessions.Listeners("u"))
	_, attached := h.board.Get("c1")
	assert.False(t, attached)
}

func TestJoinAcksAndLeave(t *testing.T) {
	h := newHarness(t, 0)
	conn := h.connect(t, "c1", "")

	require.NoError(t, h.ctrl.Join("c1", "chat"))
	ack := conn.received(EventJoinedChat)
	require.Len(t, ack, 1)
	assert.Equal(t, "chat", ack[0].Data)

	require.NoError(t, h.ctrl.Leave("c1", "chat"))
	assert.Empty(t, h.rooms.MembersOf("chat"))
}

func TestSlowConsumerIsClosed(t *testing.T) {
	h := newHarness(t, 0)
	h.chats.add("chat1", "u", "a")
	slow := h.connect(t, "a1", "a")
	slow.setFull()

	n, err := h.relay.Deliver(context.Background(), models.Message{ID: "m1", ChatID: "chat1", SenderID: "u"})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, slow.isClosed())

	// The transport reacts to the close by running the normal teardown.
	h.ctrl.Close("a1")
	assert.False(t, h.presence.IsOnline("a"))
}

func TestSocketNewMessageRelaysStoredRecord(t *testing.T) {
	h := newHarness(t, 0)
	h.chats.add("chat1", "u", "a")
	h.messages.put(models.Message{ID: "m1", ChatID: "chat1", SenderID: "u", Content: "stored"})
	h.connect(t, "u1", "u")
	a1 := h.connect(t, "a1", "a")

	n, err := h.ctrl.RelayMessage(context.Background(), "u1", NewMessage{MessageID: "m1", ChatID: "chat1", SenderID: "u"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got := a1.received(EventReceiveMessage)
	require.Len(t, got, 1)
	assert.Equal(t, "stored", got[0].Data.(models.MessageView).Content)
}

func TestSocketNewMessageRejections(t *testing.T) {
	h := newHarness(t, 0)
	h.chats.add("chat1", "u", "a")
	h.messages.put(models.Message{ID: "m1", ChatID: "chat1", SenderID: "u"})
	h.connect(t, "u1", "u")
	a1 := h.connect(t, "a1", "a")
	ctx := context.Background()

	_, err := h.ctrl.RelayMessage(ctx, "a1", NewMessage{MessageID: "m1", ChatID: "chat1", SenderID: "u"})
	assert.ErrorIs(t, err, ErrIdentityMismatch)

	_, err = h.ctrl.RelayMessage(ctx, "u1", NewMessage{MessageID: "m1", ChatID: "other", SenderID: "u"})
	assert.ErrorIs(t, err, ErrIdentityMismatch)

	_, err = h.ctrl.RelayMessage(ctx, "u1", NewMessage{MessageID: "never-stored", ChatID: "chat1", SenderID: "u"})
	assert.ErrorIs(t, err, errMessageMissing)

	assert.Empty(t, a1.received(EventReceiveMessage))
}

func TestRestThenSocketDeliveryReachesListenerOnce(t *testing.T) {
	h := newHarness(t, 0)
	h.chats.add("chat1", "u", "a")
	msg := models.Message{ID: "m1", ChatID: "chat1", SenderID: "u"}
	h.messages.put(msg)
	h.connect(t, "u1", "u")
	a1 := h.connect(t, "a1", "a")

	_, err := h.relay.Deliver(context.Background(), msg)
	require.NoError(t, err)
	_, err = h.ctrl.RelayMessage(context.Background(), "u1", NewMessage{MessageID: "m1", ChatID: "chat1", SenderID: "u"})
	require.NoError(t, err)

	assert.Len(t, a1.received(EventReceiveMessage), 1)
}

func TestMessageReadGoesToRoomPeers(t *testing.T) {
	h := newHarness(t, 0)
	reader := h.connect(t, "u1", "u")
	peer := h.connect(t, "p1", "peer")
	require.NoError(t, h.ctrl.Join("u1", "chat"))
	require.NoError(t, h.ctrl.Join("p1", "chat"))

	require.NoError(t, h.ctrl.MarkRead("u1", "chat", "m1", ""))

	got := peer.received(EventMessageRead)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]string{"chatId": "chat", "messageId": "m1", "userId": "u"}, got[0].Data)
	assert.Empty(t, reader.received(EventMessageRead))

	h.ctrl.NotifyRead("chat", "", "u")
	got = peer.received(EventMessageRead)
	require.Len(t, got, 2)
	assert.Equal(t, map[string]string{"chatId": "chat", "userId": "u"}, got[1].Data)
}

func TestDispatchRoutesEvents(t *testing.T) {
	h := newHarness(t, 0)
	conn := newFakeConn("c1")
	h.ctrl.Open(conn, "")
	ctx := context.Background()

	require.NoError(t, h.ctrl.Dispatch(ctx, "c1", Setup{UserID: "u"}))
	require.NoError(t, h.ctrl.Dispatch(ctx, "c1", JoinChat{ChatID: "chat"}))
	require.NoError(t, h.ctrl.Dispatch(ctx, "c1", Typing{ChatID: "chat"}))
	assert.True(t, h.typing.IsTyping("chat", "u"))
	require.NoError(t, h.ctrl.Dispatch(ctx, "c1", StopTyping{ChatID: "chat"}))
	assert.False(t, h.typing.IsTyping("chat", "u"))
	require.NoError(t, h.ctrl.Dispatch(ctx, "c1", LeaveChat{ChatID: "chat"}))
	assert.Empty(t, h.rooms.RoomsOf("c1"))

	conn.reset()
	require.NoError(t, h.ctrl.Dispatch(ctx, "c1", GetOnlineUsers{}))
	snap := conn.received(EventOnlineUsers)
	require.Len(t, snap, 1)
	assert.Equal(t, []string{"u"}, snap[0].Data)
	assert.Equal(t, []string{"u"}, h.ctrl.OnlineUsers())
}

func TestShutdownClosesEveryConnection(t *testing.T) {
	h := newHarness(t, 0)
	c1 := h.connect(t, "c1", "u")
	c2 := h.connect(t, "c2", "")

	h.ctrl.Shutdown()
	assert.True(t, c1.isClosed())
	assert.True(t, c2.isClosed())
}

func TestDispatchUnknownEvent(t *testing.T) {
	h := newHarness(t, 0)
	h.connect(t, "c1", "u")

	err := h.ctrl.Dispatch(context.Background(), "c1", nil)
	assert.True(t, errors.Is(err, ErrUnknownEvent))
}
