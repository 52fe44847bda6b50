package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotSender       = errors.New("only the sender can delete a message")
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListChatMessages(ctx context.Context, chatID string) ([]models.Message, error)
	MarkChatRead(ctx context.Context, chatID, userID string) (int64, error)
	DeleteMessage(ctx context.Context, messageID, userID string) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, chat_id, sender_id, content, is_file_message, file_url, file_type, file_name, read_by, created_at`

// CreateMessage stores a message and returns the persisted record.
func (r *MessageRepo) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO messages (id, chat_id, sender_id, content, is_file_message, file_url, file_type, file_name)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+messageColumns,
		uuid.NewString(), in.ChatID, in.SenderID, in.Content, in.IsFileMessage, in.FileURL, in.FileType, in.FileName)
	return msg, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListChatMessages returns the messages of a chat in the order they were
// stored.
func (r *MessageRepo) ListChatMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE chat_id=$1 ORDER BY seq ASC`, chatID)
	return msgs, err
}

// MarkChatRead adds userID to read_by of every message in the chat that it
// has not read yet and returns how many changed.
func (r *MessageRepo) MarkChatRead(ctx context.Context, chatID, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read_by = array_append(read_by, $2)
        WHERE chat_id=$1 AND NOT ($2 = ANY(read_by))`, chatID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteMessage removes a message sent by userID.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID, userID string) error {
	msg, err := r.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return ErrNotSender
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE chats SET latest_message_id=NULL WHERE latest_message_id=$1`, messageID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id=$1 AND sender_id=$2`, messageID, userID); err != nil {
		return err
	}
	return tx.Commit()
}
