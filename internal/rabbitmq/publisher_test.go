package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/observability"
)

func TestNoopPublisherWithoutURL(t *testing.T) {
	p := NewPublisher("", "chat.events", slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, "noop", PublisherMode(p))
	assert.Equal(t, "empty amqp url", PublisherNoopReason(p))

	err := p.Publish(context.Background(), "presence_events.realtime", observability.EventEnvelope{
		EventType: observability.EventTypePresence,
		EventName: "user_online",
	}, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
