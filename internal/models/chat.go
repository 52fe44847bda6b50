package models

import "time"

// Chat is a persisted conversation, direct (two users) or group.
type Chat struct {
	ID              string    `db:"id" json:"_id"`
	ChatName        string    `db:"chat_name" json:"chatName"`
	IsGroupChat     bool      `db:"is_group_chat" json:"isGroupChat"`
	GroupAdmin      string    `db:"group_admin" json:"groupAdmin,omitempty"`
	LatestMessageID *string   `db:"latest_message_id" json:"latestMessage,omitempty"`
	Users           []string  `db:"-" json:"users"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// HasUser reports whether userID is a participant.
func (c Chat) HasUser(userID string) bool {
	for _, u := range c.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// ChatMember is one row of the chat_users table.
type ChatMember struct {
	ChatID string `db:"chat_id"`
	UserID string `db:"user_id"`
}
