package realtime

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// RoomManager tracks which connections are subscribed to which chat rooms.
// Both directions are indexed so that teardown does not scan every room.
type RoomManager struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]struct{}
	byConn map[string]map[string]struct{}
}

// NewRoomManager creates an empty manager.
func NewRoomManager() *RoomManager {
	return &RoomManager{
		byRoom: make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join subscribes connID to roomID. It reports whether the membership is new.
func (m *RoomManager) Join(connID, roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.byRoom[roomID]
	if !ok {
		members = make(map[string]struct{})
		m.byRoom[roomID] = members
	}
	if _, exists := members[connID]; exists {
		return false
	}
	members[connID] = struct{}{}

	rooms, ok := m.byConn[connID]
	if !ok {
		rooms = make(map[string]struct{})
		m.byConn[connID] = rooms
	}
	rooms[roomID] = struct{}{}
	return true
}

// Leave unsubscribes connID from roomID. Absent memberships are ignored.
func (m *RoomManager) Leave(connID, roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(connID, roomID)
}

func (m *RoomManager) leaveLocked(connID, roomID string) bool {
	members, ok := m.byRoom[roomID]
	if !ok {
		return false
	}
	if _, exists := members[connID]; !exists {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(m.byRoom, roomID)
	}
	if rooms, ok := m.byConn[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(m.byConn, connID)
		}
	}
	return true
}

// LeaveAll removes connID from every room and returns the rooms it left.
func (m *RoomManager) LeaveAll(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	left := lo.Keys(m.byConn[connID])
	for _, roomID := range left {
		m.leaveLocked(connID, roomID)
	}
	sort.Strings(left)
	return left
}

// MembersOf returns the connections currently in roomID, sorted.
func (m *RoomManager) MembersOf(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := lo.Keys(m.byRoom[roomID])
	sort.Strings(ids)
	return ids
}

// RoomsOf returns the rooms connID is subscribed to, sorted.
func (m *RoomManager) RoomsOf(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := lo.Keys(m.byConn[connID])
	sort.Strings(ids)
	return ids
}
