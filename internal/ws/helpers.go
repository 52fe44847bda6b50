package ws

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chat-realtime/internal/observability"
)

const (
	wsKind       = "realtime"
	wsRoutingKey = "ws_events.realtime"
)

func newConnID() string {
	return uuid.NewString()
}

// publishLifecycle emits a ws_connect, ws_disconnect or ws_error envelope.
func publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(wsKind, event)
	duration := int64(0)
	if event != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: observability.EventTypeWS,
		EventName: event,
		Payload: map[string]any{
			"ws": map[string]any{
				"kind":        wsKind,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": info.identity(),
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func countInbound(event string) {
	observability.IncWSEvent(wsKind, "in_"+event)
}
