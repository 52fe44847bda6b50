package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
)

const messageRoutingKey = "message_events.realtime"

// MessageRelay pushes a stored message to the live connections of the chat.
type MessageRelay interface {
	Deliver(ctx context.Context, msg models.Message) (int, error)
}

// ReadNotifier tells a chat room that a user read its messages.
type ReadNotifier interface {
	NotifyRead(chatID, messageID, userID string)
}

// MessageHandler serves the message write and history endpoints.
type MessageHandler struct {
	messageRepo repositories.MessageRepository
	chatRepo    repositories.ChatRepository
	relay       MessageRelay
	reads       ReadNotifier
	audit       *telemetry.AuditEmitter
	log         *slog.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(
	messageRepo repositories.MessageRepository,
	chatRepo repositories.ChatRepository,
	relay MessageRelay,
	reads ReadNotifier,
	audit *telemetry.AuditEmitter,
	log *slog.Logger,
) *MessageHandler {
	return &MessageHandler{
		messageRepo: messageRepo,
		chatRepo:    chatRepo,
		relay:       relay,
		reads:       reads,
		audit:       audit,
		log:         log.With("component", "message_handler"),
	}
}

type sendMessageRequest struct {
	ChatID        string `json:"chatId" binding:"required"`
	Content       string `json:"content"`
	IsFileMessage bool   `json:"isFileMessage"`
	FileURL       string `json:"fileUrl" binding:"required_if=IsFileMessage true"`
	FileType      string `json:"fileType"`
	FileName      string `json:"fileName"`
}

// SendMessage persists a message and then relays it. A relay failure does
// not fail the request: the message is stored and reachable through history.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Content == "" && !req.IsFileMessage {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message cannot be empty"})
		return
	}

	ctx, span := otel.Tracer("chat-realtime/handlers").Start(c.Request.Context(), "message.send")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", req.ChatID))

	participants, ok := participantsOrAbort(c, h.chatRepo, req.ChatID)
	if !ok {
		return
	}

	userID := c.GetString(userIDContextKey)
	msg, err := h.messageRepo.CreateMessage(ctx, models.NewMessage{
		ChatID:        req.ChatID,
		SenderID:      userID,
		Content:       req.Content,
		IsFileMessage: req.IsFileMessage,
		FileURL:       req.FileURL,
		FileType:      req.FileType,
		FileName:      req.FileName,
	})
	if err != nil {
		h.log.Error("store message failed", "chat_id", req.ChatID, "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	if err := h.chatRepo.SetLatestMessage(ctx, req.ChatID, msg.ID); err != nil {
		h.log.Warn("update latest message failed", "chat_id", req.ChatID, "message_id", msg.ID, "error", err)
	}
	delivered, err := h.relay.Deliver(ctx, msg)
	if err != nil {
		h.log.Warn("relay failed", "chat_id", req.ChatID, "message_id", msg.ID, "error", err)
		h.audit.Emit(ctx, "WARN", "relay failed for message "+msg.ID, requestIDFromContext(c), userIDFromContext(c))
	}
	_ = observability.PublishEvent(ctx, messageRoutingKey, observability.EventEnvelope{
		EventType: observability.EventTypeMessage,
		EventName: "message_sent",
		Payload: map[string]any{
			"message_id":  msg.ID,
			"chat_id":     msg.ChatID,
			"sender_id":   msg.SenderID,
			"is_file":     msg.IsFileMessage,
			"delivered":   delivered,
			"relay_error": err != nil,
		},
	}, observability.BuildHeaders(requestIDFromContext(c), observability.TraceID(ctx)))

	c.JSON(http.StatusCreated, gin.H{"message": msg.View(participants)})
}

// GetMessages returns the stored history of a chat, oldest first.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	chatID := c.Param("chatId")
	participants, ok := participantsOrAbort(c, h.chatRepo, chatID)
	if !ok {
		return
	}

	msgs, err := h.messageRepo.ListChatMessages(c.Request.Context(), chatID)
	if err != nil {
		h.log.Error("list messages failed", "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, m.View(participants))
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

// MarkRead marks every message of the chat as read by the caller and tells
// the other participants.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	chatID := c.Param("chatId")
	if _, ok := participantsOrAbort(c, h.chatRepo, chatID); !ok {
		return
	}

	userID := c.GetString(userIDContextKey)
	updated, err := h.messageRepo.MarkChatRead(c.Request.Context(), chatID, userID)
	if err != nil {
		h.log.Error("mark read failed", "chat_id", chatID, "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages as read"})
		return
	}
	if updated > 0 {
		h.reads.NotifyRead(chatID, "", userID)
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// DeleteMessage deletes a message sent by the caller.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID := c.Param("messageId")
	userID := c.GetString(userIDContextKey)

	if err := h.messageRepo.DeleteMessage(c.Request.Context(), messageID, userID); err != nil {
		status := chatErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error("delete message failed", "message_id", messageID, "error", err)
			c.JSON(status, gin.H{"error": "could not delete message"})
			return
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
