package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/realtime"
)

// Lifecycle is the part of the core a transport drives.
type Lifecycle interface {
	Open(conn realtime.Conn, authUserID string)
	Dispatch(ctx context.Context, connID string, evt realtime.Inbound) error
	Close(connID string)
}

// Handler upgrades GET /ws requests and runs one Client per connection.
type Handler struct {
	lifecycle     Lifecycle
	authenticator auth.Authenticator
	opts          Options
	upgrader      websocket.Upgrader
	log           *slog.Logger
}

// NewHandler builds a Handler. A nil authenticator disables handshake
// tokens entirely.
func NewHandler(lifecycle Lifecycle, authenticator auth.Authenticator, opts Options, log *slog.Logger) *Handler {
	h := &Handler{
		lifecycle:     lifecycle,
		authenticator: authenticator,
		opts:          opts,
		log:           log.With("component", "ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || lo.Contains(h.opts.AllowedOrigins, origin)
}

// Handle authenticates the optional handshake token, upgrades the
// connection and starts its pumps.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	authUserID, ok := h.authenticate(ctx, c)
	if !ok {
		span.SetStatus(codes.Error, "invalid token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("upgrade failed", "error", err)
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		AuthUserID:  authUserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     observability.TraceID(ctx),
		ConnectedAt: time.Now(),
	}
	h.serve(context.WithoutCancel(ctx), conn, info)
}

func (h *Handler) authenticate(ctx context.Context, c *gin.Context) (string, bool) {
	token := c.Query("token")
	if token == "" {
		if bearer, ok := auth.BearerToken(c.GetHeader("Authorization")); ok {
			token = bearer
		}
	}
	if token == "" || h.authenticator == nil {
		return "", true
	}
	userID, err := h.authenticator.Authenticate(ctx, token)
	if err != nil {
		h.log.Debug("handshake token rejected", "error", err)
		return "", false
	}
	return userID, true
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, info ConnInfo) {
	client := newClient(conn, info, h.opts, h.log)
	h.lifecycle.Open(client, info.AuthUserID)

	observability.IncWSActive(wsKind)
	publishLifecycle(ctx, "ws_connect", info, "")
	h.log.Info("websocket connected", "conn_id", info.ConnID, "ip", info.IP)

	go client.writePump()
	go func() {
		err := client.readPump(ctx, h.lifecycle)

		// Every way out of readPump, graceful or not, ends here.
		h.lifecycle.Close(info.ConnID)
		client.Close()
		observability.DecWSActive(wsKind)

		reason := err.Error()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			publishLifecycle(ctx, "ws_error", info, reason)
		}
		publishLifecycle(ctx, "ws_disconnect", info, reason)
		h.log.Info("websocket disconnected", "conn_id", info.ConnID, "reason", reason,
			"duration", time.Since(info.ConnectedAt))
	}()
}
