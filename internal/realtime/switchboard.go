package realtime

import (
	"log/slog"
	"sync"

	"chat-realtime/internal/observability"
)

// Conn is one live transport link as seen by the core.
type Conn interface {
	ID() string
	// Send enqueues evt without blocking. It returns false when the
	// connection is closed or its queue is full.
	Send(evt Outbound) bool
	Close()
}

// Switchboard resolves connection ids to live transport links and pushes
// events to them.
type Switchboard struct {
	mu    sync.RWMutex
	conns map[string]Conn
	log   *slog.Logger
}

// NewSwitchboard creates an empty switchboard.
func NewSwitchboard(log *slog.Logger) *Switchboard {
	return &Switchboard{
		conns: make(map[string]Conn),
		log:   log.With("component", "switchboard"),
	}
}

// Attach makes conn addressable by its id.
func (s *Switchboard) Attach(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn.ID()] = conn
}

// Detach removes connID. Unknown ids are ignored.
func (s *Switchboard) Detach(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, connID)
}

// Get returns the link registered under connID.
func (s *Switchboard) Get(connID string) (Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[connID]
	return conn, ok
}

// Len returns the number of attached links.
func (s *Switchboard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Send pushes evt to one connection. A connection that cannot take the
// event is closed; its transport then runs the normal disconnect path.
func (s *Switchboard) Send(connID string, evt Outbound) bool {
	conn, ok := s.Get(connID)
	if !ok {
		return false
	}
	if conn.Send(evt) {
		return true
	}
	s.log.Warn("dropping slow connection", "conn_id", connID, "event", evt.Event)
	observability.IncWSEvent("realtime", "send_dropped")
	conn.Close()
	return false
}

// Broadcast pushes evt to every listed connection and returns how many
// accepted it.
func (s *Switchboard) Broadcast(connIDs []string, evt Outbound) int {
	sent := 0
	for _, id := range connIDs {
		if s.Send(id, evt) {
			sent++
		}
	}
	return sent
}

// CloseAll closes every attached link.
func (s *Switchboard) CloseAll() {
	s.mu.RLock()
	conns := make([]Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}
