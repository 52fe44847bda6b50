package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/repositories"
)

const (
	requestIDContextKey = "request_id"
	userIDContextKey    = "userID"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if id := c.GetString(userIDContextKey); id != "" {
		return &id
	}
	return nil
}

// chatErrorStatus maps repository errors to HTTP status codes.
func chatErrorStatus(err error) int {
	switch {
	case errors.Is(err, repositories.ErrChatNotFound), errors.Is(err, repositories.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, repositories.ErrNotSender):
		return http.StatusForbidden
	case errors.Is(err, repositories.ErrSelfChat),
		errors.Is(err, repositories.ErrNotGroupChat),
		errors.Is(err, repositories.ErrGroupTooSmall):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
