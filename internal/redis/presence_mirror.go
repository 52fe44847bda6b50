package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"chat-realtime/internal/realtime"
)

// DefaultPresenceKey is the set holding the ids of online users.
const DefaultPresenceKey = "realtime:online_users"

// SetStore is the subset of the go-redis client the mirror writes through.
type SetStore interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *goredis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *goredis.IntCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// PresenceMirror copies presence transitions into a Redis set so other
// processes can read who is online. Writes happen on a single worker in
// transition order; Observe never blocks the caller.
type PresenceMirror struct {
	store   SetStore
	key     string
	updates chan realtime.PresenceChange
	log     *slog.Logger
}

func NewPresenceMirror(store SetStore, key string, buffer int, log *slog.Logger) *PresenceMirror {
	if key == "" {
		key = DefaultPresenceKey
	}
	return &PresenceMirror{
		store:   store,
		key:     key,
		updates: make(chan realtime.PresenceChange, buffer),
		log:     log.With("component", "presence_mirror"),
	}
}

// Observe queues change for the worker. It is a realtime.PresenceObserver.
func (m *PresenceMirror) Observe(change realtime.PresenceChange) {
	select {
	case m.updates <- change:
	default:
		m.log.Warn("presence mirror queue full, dropping update", "user_id", change.UserID, "online", change.Online)
	}
}

// Reset empties the set. Presence lives in process memory, so whatever a
// previous run left behind is stale.
func (m *PresenceMirror) Reset(ctx context.Context) error {
	return m.store.Del(ctx, m.key).Err()
}

// Run applies queued changes until ctx is done.
func (m *PresenceMirror) Run(ctx context.Context) {
	if err := m.Reset(ctx); err != nil {
		m.log.Warn("reset presence set failed", "key", m.key, "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-m.updates:
			m.apply(ctx, change)
		}
	}
}

func (m *PresenceMirror) apply(ctx context.Context, change realtime.PresenceChange) {
	var err error
	if change.Online {
		err = m.store.SAdd(ctx, m.key, change.UserID).Err()
	} else {
		err = m.store.SRem(ctx, m.key, change.UserID).Err()
	}
	if err != nil {
		m.log.Warn("mirror presence failed", "user_id", change.UserID, "online", change.Online, "error", err)
	}
}
