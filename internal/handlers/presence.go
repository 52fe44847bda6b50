package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PresenceSource reports who is online.
type PresenceSource interface {
	OnlineUsers() []string
}

// OnlineUsers serves the presence snapshot.
func OnlineUsers(presence PresenceSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"users": presence.OnlineUsers()})
	}
}

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
