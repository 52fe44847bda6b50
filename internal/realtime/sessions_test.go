package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistryTracksConnectionsPerUser(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("c2", "u1")
	r.Register("c1", "u1")
	r.Register("c3", "u2")

	assert.Equal(t, []string{"c1", "c2"}, r.Listeners("u1"))
	assert.True(t, r.HasOtherConnections("u1", "c1"))
	assert.False(t, r.HasOtherConnections("u2", "c3"))

	owner, ok := r.Owner("c3")
	assert.True(t, ok)
	assert.Equal(t, "u2", owner)

	userID, ok := r.Unregister("c1")
	assert.True(t, ok)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, []string{"c2"}, r.Listeners("u1"))
	assert.False(t, r.HasOtherConnections("u1", "c2"))
}

func TestSessionRegistryUnknownConnectionIsNoop(t *testing.T) {
	r := NewSessionRegistry()
	_, ok := r.Unregister("nope")
	assert.False(t, ok)
	assert.Empty(t, r.Listeners("nobody"))
	assert.False(t, r.HasOtherConnections("nobody", ""))
}

func TestSessionRegistryRegisterIsIdempotentAndMoves(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("c1", "u1")
	r.Register("c1", "u1")
	assert.Equal(t, []string{"c1"}, r.Listeners("u1"))

	r.Register("c1", "u2")
	assert.Empty(t, r.Listeners("u1"))
	assert.Equal(t, []string{"c1"}, r.Listeners("u2"))
	assert.Equal(t, map[string]string{"c1": "u2"}, r.Connections())
}
