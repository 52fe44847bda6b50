package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"chat-realtime/internal/models"
)

var (
	ErrChatNotFound  = errors.New("chat not found")
	ErrSelfChat      = errors.New("cannot create chat with self")
	ErrNotGroupChat  = errors.New("chat is not a group chat")
	ErrGroupTooSmall = errors.New("group chat needs at least 3 participants")
)

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	AccessDirectChat(ctx context.Context, userID, peerID string) (models.Chat, bool, error)
	CreateGroupChat(ctx context.Context, name, adminID string, users []string) (models.Chat, error)
	RenameGroup(ctx context.Context, chatID, name string) (models.Chat, error)
	AddToGroup(ctx context.Context, chatID, userID string) (models.Chat, error)
	RemoveFromGroup(ctx context.Context, chatID, userID string) (models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	ListChats(ctx context.Context, userID string) ([]models.Chat, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	Participants(ctx context.Context, chatID string) ([]string, error)
	SetLatestMessage(ctx context.Context, chatID, messageID string) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

const chatColumns = `id, chat_name, is_group_chat, group_admin, latest_message_id, created_at, updated_at`

func directKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// AccessDirectChat returns the one-to-one chat between userID and peerID,
// creating it when missing. The bool reports whether it was created.
func (r *ChatRepo) AccessDirectChat(ctx context.Context, userID, peerID string) (models.Chat, bool, error) {
	if userID == peerID {
		return models.Chat{}, false, ErrSelfChat
	}
	key := directKey(userID, peerID)

	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE direct_key=$1`, key)
	if err == nil {
		chat, err = r.withUsers(ctx, chat)
		return chat, false, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, false, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.NewString()
	res, err := tx.ExecContext(ctx, `INSERT INTO chats (id, chat_name, is_group_chat, direct_key) VALUES ($1, 'sender', FALSE, $2)
        ON CONFLICT (direct_key) DO NOTHING`, id, key)
	if err != nil {
		return models.Chat{}, false, err
	}
	created, _ := res.RowsAffected()
	if created == 1 {
		if err := insertMembers(ctx, tx, id, []string{userID, peerID}); err != nil {
			return models.Chat{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Chat{}, false, err
	}

	// A concurrent caller may have won the insert; read whichever row exists.
	if err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE direct_key=$1`, key); err != nil {
		return models.Chat{}, false, err
	}
	chat, err = r.withUsers(ctx, chat)
	return chat, created == 1, err
}

// CreateGroupChat stores a group chat administered by adminID. The admin is
// always a participant.
func (r *ChatRepo) CreateGroupChat(ctx context.Context, name, adminID string, users []string) (models.Chat, error) {
	members := lo.Uniq(append(lo.Filter(users, func(u string, _ int) bool { return u != "" }), adminID))
	if len(members) < 3 {
		return models.Chat{}, ErrGroupTooSmall
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO chats (id, chat_name, is_group_chat, group_admin) VALUES ($1, $2, TRUE, $3)`, id, name, adminID); err != nil {
		return models.Chat{}, err
	}
	if err := insertMembers(ctx, tx, id, members); err != nil {
		return models.Chat{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, id)
}

func insertMembers(ctx context.Context, tx *sqlx.Tx, chatID string, users []string) error {
	for _, u := range users {
		member := models.ChatMember{ChatID: chatID, UserID: u}
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO chat_users (chat_id, user_id) VALUES (:chat_id, :user_id)
            ON CONFLICT DO NOTHING`, member); err != nil {
			return err
		}
	}
	return nil
}

// RenameGroup changes the name of a group chat.
func (r *ChatRepo) RenameGroup(ctx context.Context, chatID, name string) (models.Chat, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET chat_name=$2, updated_at=NOW() WHERE id=$1 AND is_group_chat`, chatID, name)
	if err != nil {
		return models.Chat{}, err
	}
	if err := r.requireGroupUpdated(ctx, res, chatID); err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

// AddToGroup adds userID to a group chat. Adding an existing member is a no-op.
func (r *ChatRepo) AddToGroup(ctx context.Context, chatID, userID string) (models.Chat, error) {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.IsGroupChat {
		return models.Chat{}, ErrNotGroupChat
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO chat_users (chat_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, chatID, userID); err != nil {
		return models.Chat{}, err
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE chats SET updated_at=NOW() WHERE id=$1`, chatID); err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

// RemoveFromGroup removes userID from a group chat.
func (r *ChatRepo) RemoveFromGroup(ctx context.Context, chatID, userID string) (models.Chat, error) {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.IsGroupChat {
		return models.Chat{}, ErrNotGroupChat
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_users WHERE chat_id=$1 AND user_id=$2`, chatID, userID); err != nil {
		return models.Chat{}, err
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE chats SET updated_at=NOW() WHERE id=$1`, chatID); err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

func (r *ChatRepo) requireGroupUpdated(ctx context.Context, res sql.Result, chatID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetChat(ctx, chatID); err != nil {
		return err
	}
	return ErrNotGroupChat
}

// GetChat fetches a chat by id with its participants.
func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}
	return r.withUsers(ctx, chat)
}

func (r *ChatRepo) withUsers(ctx context.Context, chat models.Chat) (models.Chat, error) {
	users, err := r.Participants(ctx, chat.ID)
	if err != nil {
		return models.Chat{}, err
	}
	chat.Users = users
	return chat, nil
}

// ListChats returns the chats userID takes part in, most recently updated
// first.
func (r *ChatRepo) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.SelectContext(ctx, &chats, `SELECT c.id, c.chat_name, c.is_group_chat, c.group_admin, c.latest_message_id, c.created_at, c.updated_at
        FROM chats c JOIN chat_users cu ON cu.chat_id = c.id
        WHERE cu.user_id=$1
        ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return []models.Chat{}, nil
	}

	ids := lo.Map(chats, func(c models.Chat, _ int) string { return c.ID })
	query, args, err := sqlx.In(`SELECT chat_id, user_id FROM chat_users WHERE chat_id IN (?) ORDER BY user_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("build members query: %w", err)
	}
	var members []models.ChatMember
	if err := r.db.SelectContext(ctx, &members, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	byChat := lo.GroupBy(members, func(m models.ChatMember) string { return m.ChatID })
	for i := range chats {
		chats[i].Users = lo.Map(byChat[chats[i].ID], func(m models.ChatMember, _ int) string { return m.UserID })
	}
	return chats, nil
}

// IsParticipant checks whether a user belongs to the chat.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_users WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// Participants returns the user ids of a chat, sorted. An unknown chat
// yields ErrChatNotFound.
func (r *ChatRepo) Participants(ctx context.Context, chatID string) ([]string, error) {
	var users []string
	if err := r.db.SelectContext(ctx, &users, `SELECT user_id FROM chat_users WHERE chat_id=$1 ORDER BY user_id`, chatID); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chats WHERE id=$1)`, chatID); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrChatNotFound
		}
		return []string{}, nil
	}
	return users, nil
}

// SetLatestMessage points the chat at its newest message and bumps updated_at.
func (r *ChatRepo) SetLatestMessage(ctx context.Context, chatID, messageID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET latest_message_id=$2, updated_at=NOW() WHERE id=$1`, chatID, messageID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChatNotFound
	}
	return nil
}
