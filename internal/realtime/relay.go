package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// ParticipantSource resolves the participants of a persisted chat.
type ParticipantSource interface {
	Participants(ctx context.Context, chatID string) ([]string, error)
}

// Relay pushes persisted messages to the live connections of every chat
// participant except the sender. Delivery is best effort: offline users are
// skipped and catch up through the history endpoint.
type Relay struct {
	sessions *SessionRegistry
	board    *Switchboard
	chats    ParticipantSource
	log      *slog.Logger

	mu     sync.Mutex
	window int
	seen   map[string]struct{}
	order  []string
	next   int
}

// NewRelay builds a Relay. window bounds how many recent message ids are
// remembered to keep a message from being relayed twice; zero disables it.
func NewRelay(sessions *SessionRegistry, board *Switchboard, chats ParticipantSource, window int, log *slog.Logger) *Relay {
	return &Relay{
		sessions: sessions,
		board:    board,
		chats:    chats,
		log:      log.With("component", "relay"),
		window:   window,
		seen:     make(map[string]struct{}),
	}
}

// Deliver fans msg out and returns how many connections accepted it.
func (r *Relay) Deliver(ctx context.Context, msg models.Message) (int, error) {
	ctx, span := otel.Tracer("chat-realtime/realtime").Start(ctx, "relay.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.id", msg.ChatID),
		attribute.String("message.id", msg.ID),
	)

	if !r.claim(msg.ID) {
		r.log.Debug("message already relayed", "message_id", msg.ID, "chat_id", msg.ChatID)
		observability.IncRelayDelivery("duplicate")
		return 0, nil
	}

	participants, err := r.chats.Participants(ctx, msg.ChatID)
	if err != nil {
		r.release(msg.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "participant lookup failed")
		return 0, fmt.Errorf("load participants of chat %s: %w", msg.ChatID, err)
	}

	// Listeners are read only now, after the lookup, so connections that
	// opened or closed while it was in flight are accounted for.
	evt := Outbound{Event: EventReceiveMessage, Data: msg.View(participants)}
	delivered := 0
	for _, userID := range participants {
		if userID == msg.SenderID {
			continue
		}
		listeners := r.sessions.Listeners(userID)
		if len(listeners) == 0 {
			observability.IncRelayDelivery("offline")
			continue
		}
		for _, connID := range listeners {
			if r.board.Send(connID, evt) {
				delivered++
				observability.IncRelayDelivery("delivered")
			} else {
				observability.IncRelayDelivery("dropped")
			}
		}
	}

	span.SetAttributes(attribute.Int("relay.delivered", delivered))
	r.log.Debug("message relayed", "message_id", msg.ID, "chat_id", msg.ChatID, "connections", delivered)
	return delivered, nil
}

func (r *Relay) claim(messageID string) bool {
	if r.window <= 0 || messageID == "" {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[messageID]; ok {
		return false
	}
	if len(r.order) < r.window {
		r.order = append(r.order, messageID)
	} else {
		delete(r.seen, r.order[r.next])
		r.order[r.next] = messageID
		r.next = (r.next + 1) % r.window
	}
	r.seen[messageID] = struct{}{}
	return true
}

func (r *Relay) release(messageID string) {
	if r.window <= 0 || messageID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, messageID)
}
