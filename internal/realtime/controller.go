package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrNotIdentified     = errors.New("connection has not completed setup")
	ErrIdentityMismatch  = errors.New("identity does not match connection")
)

// MessageSource loads persisted messages by id.
type MessageSource interface {
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
}

type connState struct {
	userID     string
	authUserID string
	openedAt   time.Time
}

// Controller drives every connection through
// open -> identified -> closed and keeps the registries consistent with it.
// Lifecycle transitions are serialized so teardown observes a stable view
// of the user's remaining connections.
type Controller struct {
	mu    sync.Mutex
	conns map[string]*connState

	sessions *SessionRegistry
	presence *PresenceTracker
	rooms    *RoomManager
	typing   *TypingTracker
	relay    *Relay
	board    *Switchboard
	messages MessageSource
	log      *slog.Logger
}

// NewController wires the registries together and subscribes to presence
// and typing changes so they are broadcast to peers.
func NewController(
	sessions *SessionRegistry,
	presence *PresenceTracker,
	rooms *RoomManager,
	typing *TypingTracker,
	relay *Relay,
	board *Switchboard,
	messages MessageSource,
	log *slog.Logger,
) *Controller {
	c := &Controller{
		conns:    make(map[string]*connState),
		sessions: sessions,
		presence: presence,
		rooms:    rooms,
		typing:   typing,
		relay:    relay,
		board:    board,
		messages: messages,
		log:      log.With("component", "controller"),
	}
	presence.Observe(c.broadcastPresence)
	typing.Observe(c.broadcastTyping)
	return c
}

// Open registers a freshly connected, not yet identified link. authUserID is
// the identity proven during the handshake, empty when none was offered.
func (c *Controller) Open(conn Conn, authUserID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.board.Attach(conn)
	c.conns[conn.ID()] = &connState{authUserID: authUserID, openedAt: time.Now()}
	c.log.Debug("connection opened", "conn_id", conn.ID())
}

// Setup binds connID to userID and marks the user online.
func (c *Controller) Setup(connID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if st.authUserID != "" && st.authUserID != userID {
		return fmt.Errorf("%w: setup as %s", ErrIdentityMismatch, userID)
	}
	if st.userID != "" && st.userID != userID {
		return fmt.Errorf("%w: already set up as %s", ErrIdentityMismatch, st.userID)
	}

	st.userID = userID
	c.sessions.Register(connID, userID)
	if c.presence.MarkOnline(userID) {
		c.log.Info("user online", "user_id", userID, "conn_id", connID)
	}
	c.board.Send(connID, Outbound{Event: EventConnected, Data: models.Ref{ID: userID}})
	return nil
}

// Join subscribes connID to chatID.
func (c *Controller) Join(connID, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Under the lock so a concurrent Close cannot run LeaveAll in between.
	if _, ok := c.conns[connID]; !ok {
		return ErrUnknownConnection
	}
	c.rooms.Join(connID, chatID)
	c.board.Send(connID, Outbound{Event: EventJoinedChat, Data: chatID})
	return nil
}

// Leave unsubscribes connID from chatID.
func (c *Controller) Leave(connID, chatID string) error {
	if !c.known(connID) {
		return ErrUnknownConnection
	}
	c.rooms.Leave(connID, chatID)
	return nil
}

// StartTyping records the connection's user as typing in chatID.
func (c *Controller) StartTyping(connID, chatID, claimedUserID string) error {
	userID, err := c.identity(connID, claimedUserID)
	if err != nil {
		return err
	}
	c.typing.SetTyping(chatID, userID)
	return nil
}

// StopTyping clears the connection's user typing flag in chatID.
func (c *Controller) StopTyping(connID, chatID, claimedUserID string) error {
	userID, err := c.identity(connID, claimedUserID)
	if err != nil {
		return err
	}
	c.typing.ClearTyping(chatID, userID)
	return nil
}

// MarkRead tells the room that the connection's user read messageID.
func (c *Controller) MarkRead(connID, chatID, messageID, claimedUserID string) error {
	userID, err := c.identity(connID, claimedUserID)
	if err != nil {
		return err
	}
	c.NotifyRead(chatID, messageID, userID)
	return nil
}

// NotifyRead broadcasts a read receipt to the room, skipping the reader's
// own connections. An empty messageID means the whole chat was read.
func (c *Controller) NotifyRead(chatID, messageID, userID string) {
	payload := map[string]string{"chatId": chatID, "userId": userID}
	if messageID != "" {
		payload["messageId"] = messageID
	}
	c.board.Broadcast(c.roomPeers(chatID, userID), Outbound{Event: EventMessageRead, Data: payload})
}

// RelayMessage relays a message the client reports having persisted. The
// stored record is relayed, never the client's copy, and only when the
// connection's user is its sender.
func (c *Controller) RelayMessage(ctx context.Context, connID string, evt NewMessage) (int, error) {
	userID, err := c.identity(connID, evt.SenderID)
	if err != nil {
		return 0, err
	}
	if c.messages == nil {
		return 0, errors.New("no message source configured")
	}

	msg, err := c.messages.GetMessage(ctx, evt.MessageID)
	if err != nil {
		return 0, fmt.Errorf("load message %s: %w", evt.MessageID, err)
	}
	if msg.SenderID != userID || msg.ChatID != evt.ChatID {
		return 0, fmt.Errorf("%w: message %s", ErrIdentityMismatch, evt.MessageID)
	}
	return c.relay.Deliver(ctx, msg)
}

// SendOnlineUsers pushes the presence snapshot to connID.
func (c *Controller) SendOnlineUsers(connID string) error {
	if !c.known(connID) {
		return ErrUnknownConnection
	}
	c.board.Send(connID, Outbound{Event: EventOnlineUsers, Data: c.presence.Snapshot()})
	return nil
}

// Dispatch routes one decoded inbound event.
func (c *Controller) Dispatch(ctx context.Context, connID string, evt Inbound) error {
	switch e := evt.(type) {
	case Setup:
		return c.Setup(connID, e.UserID)
	case JoinChat:
		return c.Join(connID, e.ChatID)
	case LeaveChat:
		return c.Leave(connID, e.ChatID)
	case Typing:
		return c.StartTyping(connID, e.ChatID, e.UserID)
	case StopTyping:
		return c.StopTyping(connID, e.ChatID, e.UserID)
	case MessageRead:
		return c.MarkRead(connID, e.ChatID, e.MessageID, e.UserID)
	case NewMessage:
		_, err := c.RelayMessage(ctx, connID, e)
		return err
	case GetOnlineUsers:
		return c.SendOnlineUsers(connID)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, evt)
	}
}

// Close tears connID down. It is safe to call more than once and from any
// disconnect path, graceful or not.
func (c *Controller) Close(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.conns[connID]
	if !ok {
		return
	}
	delete(c.conns, connID)
	c.board.Detach(connID)

	// Order matters: the last-connection check must run before the session
	// is removed, and presence flips only once no session remains.
	c.rooms.LeaveAll(connID)
	if st.userID != "" && !c.sessions.HasOtherConnections(st.userID, connID) {
		c.typing.ClearAllFor(st.userID)
	}
	c.sessions.Unregister(connID)
	if st.userID != "" && len(c.sessions.Listeners(st.userID)) == 0 {
		if c.presence.MarkOffline(st.userID) {
			c.log.Info("user offline", "user_id", st.userID, "conn_id", connID)
		}
	}
	c.log.Debug("connection closed", "conn_id", connID, "user_id", st.userID, "duration", time.Since(st.openedAt))
}

// Shutdown closes every live link; each one then runs through Close.
func (c *Controller) Shutdown() {
	c.board.CloseAll()
	c.typing.Stop()
}

// OnlineUsers returns the presence snapshot.
func (c *Controller) OnlineUsers() []string {
	return c.presence.Snapshot()
}

func (c *Controller) known(connID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.conns[connID]
	return ok
}

// identity returns the user bound to connID, rejecting payloads that claim
// to act for somebody else.
func (c *Controller) identity(connID, claimedUserID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.conns[connID]
	if !ok {
		return "", ErrUnknownConnection
	}
	if st.userID == "" {
		return "", ErrNotIdentified
	}
	if claimedUserID != "" && claimedUserID != st.userID {
		return "", fmt.Errorf("%w: claimed %s", ErrIdentityMismatch, claimedUserID)
	}
	return st.userID, nil
}

func (c *Controller) roomPeers(chatID, userID string) []string {
	members := c.rooms.MembersOf(chatID)
	peers := make([]string, 0, len(members))
	for _, connID := range members {
		if owner, ok := c.sessions.Owner(connID); ok && owner == userID {
			continue
		}
		peers = append(peers, connID)
	}
	return peers
}

func (c *Controller) broadcastPresence(change PresenceChange) {
	observability.SetPresenceOnline(len(c.presence.Snapshot()))

	var (
		targets []string
		evt     Outbound
	)
	for connID, owner := range c.sessions.Connections() {
		if change.Online && owner == change.UserID {
			continue
		}
		targets = append(targets, connID)
	}
	if change.Online {
		evt = Outbound{Event: EventUserConnected, Data: models.Ref{ID: change.UserID}}
	} else {
		evt = Outbound{Event: EventUserDisconnected, Data: change.UserID}
	}
	c.board.Broadcast(targets, evt)
}

func (c *Controller) broadcastTyping(change TypingChange) {
	name := EventStopTyping
	if change.Typing {
		name = EventTyping
	}
	if change.Expired {
		observability.IncTypingExpired()
	}
	payload := map[string]string{"chatId": change.ChatID, "userId": change.UserID}
	c.board.Broadcast(c.roomPeers(change.ChatID, change.UserID), Outbound{Event: name, Data: payload})
}
