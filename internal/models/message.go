package models

import (
	"time"

	"github.com/lib/pq"
)

// Message is a persisted chat message.
type Message struct {
	ID            string         `db:"id" json:"_id"`
	ChatID        string         `db:"chat_id" json:"chat"`
	SenderID      string         `db:"sender_id" json:"sender"`
	Content       string         `db:"content" json:"content"`
	IsFileMessage bool           `db:"is_file_message" json:"isFileMessage"`
	FileURL       string         `db:"file_url" json:"fileUrl,omitempty"`
	FileType      string         `db:"file_type" json:"fileType,omitempty"`
	FileName      string         `db:"file_name" json:"fileName,omitempty"`
	ReadBy        pq.StringArray `db:"read_by" json:"readBy"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
}

// NewMessage carries the fields a client supplies when sending.
type NewMessage struct {
	ChatID        string
	SenderID      string
	Content       string
	IsFileMessage bool
	FileURL       string
	FileType      string
	FileName      string
}

// Ref is the populated-reference shape clients expect for users and chats.
type Ref struct {
	ID string `json:"_id"`
}

// ChatRef is a chat reference carrying its participants.
type ChatRef struct {
	ID    string `json:"_id"`
	Users []Ref  `json:"users"`
}

// MessageView is the message shape pushed over the realtime channel.
type MessageView struct {
	ID            string    `json:"_id"`
	Chat          ChatRef   `json:"chat"`
	Sender        Ref       `json:"sender"`
	Content       string    `json:"content"`
	IsFileMessage bool      `json:"isFileMessage"`
	FileURL       string    `json:"fileUrl,omitempty"`
	FileType      string    `json:"fileType,omitempty"`
	FileName      string    `json:"fileName,omitempty"`
	ReadBy        []string  `json:"readBy"`
	CreatedAt     time.Time `json:"createdAt"`
}

// View populates the chat and sender references of m.
func (m Message) View(participants []string) MessageView {
	users := make([]Ref, 0, len(participants))
	for _, id := range participants {
		users = append(users, Ref{ID: id})
	}
	readBy := []string(m.ReadBy)
	if readBy == nil {
		readBy = []string{}
	}
	return MessageView{
		ID:            m.ID,
		Chat:          ChatRef{ID: m.ChatID, Users: users},
		Sender:        Ref{ID: m.SenderID},
		Content:       m.Content,
		IsFileMessage: m.IsFileMessage,
		FileURL:       m.FileURL,
		FileType:      m.FileType,
		FileName:      m.FileName,
		ReadBy:        readBy,
		CreatedAt:     m.CreatedAt,
	}
}
