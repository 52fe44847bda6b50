package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"chat-realtime/internal/repositories"
)

// ChatHandler manages chat endpoints.
type ChatHandler struct {
	chatRepo repositories.ChatRepository
	log      *slog.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chatRepo repositories.ChatRepository, log *slog.Logger) *ChatHandler {
	return &ChatHandler{chatRepo: chatRepo, log: log.With("component", "chat_handler")}
}

// ListChats returns the chats of the authenticated user.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	chats, err := h.chatRepo.ListChats(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("list chats failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// AccessChat returns the one-to-one chat with another user, creating it on
// first access.
func (h *ChatHandler) AccessChat(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(userIDContextKey)
	chat, created, err := h.chatRepo.AccessDirectChat(c.Request.Context(), userID, req.UserID)
	if err != nil {
		h.respondError(c, err, "could not access chat")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"chat": chat})
}

// CreateGroupChat creates a group administered by the caller.
func (h *ChatHandler) CreateGroupChat(c *gin.Context) {
	var req struct {
		Name  string   `json:"name" binding:"required"`
		Users []string `json:"users" binding:"required,min=2,dive,required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(userIDContextKey)
	chat, err := h.chatRepo.CreateGroupChat(c.Request.Context(), req.Name, userID, req.Users)
	if err != nil {
		h.respondError(c, err, "could not create group chat")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"chat": chat})
}

// RenameGroup renames a group chat. Only the admin may do so.
func (h *ChatHandler) RenameGroup(c *gin.Context) {
	var req struct {
		ChatName string `json:"chatName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chatID, ok := h.requireAdmin(c)
	if !ok {
		return
	}

	chat, err := h.chatRepo.RenameGroup(c.Request.Context(), chatID, req.ChatName)
	if err != nil {
		h.respondError(c, err, "could not rename group")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// AddToGroup adds a user to a group chat.
func (h *ChatHandler) AddToGroup(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chatID, ok := h.requireAdmin(c)
	if !ok {
		return
	}

	chat, err := h.chatRepo.AddToGroup(c.Request.Context(), chatID, req.UserID)
	if err != nil {
		h.respondError(c, err, "could not add user to group")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// RemoveFromGroup removes a user from a group chat.
func (h *ChatHandler) RemoveFromGroup(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chatID, ok := h.requireAdmin(c)
	if !ok {
		return
	}

	chat, err := h.chatRepo.RemoveFromGroup(c.Request.Context(), chatID, req.UserID)
	if err != nil {
		h.respondError(c, err, "could not remove user from group")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (h *ChatHandler) requireAdmin(c *gin.Context) (string, bool) {
	chatID := c.Param("chatId")
	chat, err := h.chatRepo.GetChat(c.Request.Context(), chatID)
	if err != nil {
		h.respondError(c, err, "chat not found")
		return "", false
	}
	if !chat.IsGroupChat {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat is not a group chat"})
		return "", false
	}
	if chat.GroupAdmin != c.GetString(userIDContextKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the group admin can change the group"})
		return "", false
	}
	return chatID, true
}

func (h *ChatHandler) respondError(c *gin.Context, err error, msg string) {
	status := chatErrorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error(msg, "error", err)
	} else {
		msg = err.Error()
	}
	c.JSON(status, gin.H{"error": msg})
}

// participantsOrAbort loads the participants of chatID and
// aborts unless the caller is one of them.
func participantsOrAbort(c *gin.Context, chats repositories.ChatRepository, chatID string) ([]string, bool) {
	participants, err := chats.Participants(c.Request.Context(), chatID)
	if err != nil {
		status := chatErrorStatus(err)
		msg := "failed to verify membership"
		if status == http.StatusNotFound {
			msg = "chat not found"
		}
		c.JSON(status, gin.H{"error": msg})
		return nil, false
	}
	if lo.Contains(participants, c.GetString(userIDContextKey)) {
		return participants, true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
	return nil, false
}
