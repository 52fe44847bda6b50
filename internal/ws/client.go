package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-realtime/internal/realtime"
)

// Options tune the per-connection transport.
type Options struct {
	SendQueueSize  int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

// DefaultOptions returns the transport defaults.
func DefaultOptions() Options {
	return Options{
		SendQueueSize:  64,
		PingInterval:   25 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 64 << 10,
	}
}

// Client is one websocket link. It implements realtime.Conn: Send never
// blocks and Close only signals, so both are safe to call while the core
// holds its locks.
type Client struct {
	info ConnInfo
	conn *websocket.Conn
	opts Options
	log  *slog.Logger

	send      chan realtime.Outbound
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, info ConnInfo, opts Options, log *slog.Logger) *Client {
	return &Client{
		info: info,
		conn: conn,
		opts: opts,
		log:  log.With("conn_id", info.ConnID),
		send: make(chan realtime.Outbound, opts.SendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.info.ConnID }

// Send queues evt. It reports false when the client is closed or its queue
// is full.
func (c *Client) Send(evt realtime.Outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

// Close asks the pumps to stop. The socket itself is closed by writePump.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case evt := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				c.log.Debug("write failed", "event", evt.Event, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.log.Debug("ping failed", "error", err)
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
			return
		}
	}
}

// readPump decodes inbound frames and hands them to the lifecycle until the
// socket fails. It returns the error that ended the read loop.
func (c *Client) readPump(ctx context.Context, lifecycle Lifecycle) error {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}

		evt, err := realtime.Decode(raw)
		if err != nil {
			c.log.Debug("dropping inbound frame", "error", err)
			countInbound("malformed")
			continue
		}
		countInbound(evt.Name())
		if err := lifecycle.Dispatch(ctx, c.info.ConnID, evt); err != nil {
			level := slog.LevelDebug
			if !errors.Is(err, realtime.ErrIdentityMismatch) && !errors.Is(err, realtime.ErrNotIdentified) {
				level = slog.LevelWarn
			}
			c.log.Log(ctx, level, "event ignored", "event", evt.Name(), "error", err)
		}
	}
}
