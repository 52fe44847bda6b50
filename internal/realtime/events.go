package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Inbound event names (client -> server).
const (
	EventSetup          = "setup"
	EventJoinChat       = "join_chat"
	EventLeaveChat      = "leave_chat"
	EventNewMessage     = "new_message"
	EventGetOnlineUsers = "get_online_users"
)

// Outbound event names (server -> client). typing, stop_typing and
// message_read travel in both directions.
const (
	EventConnected        = "connected"
	EventJoinedChat       = "joined_chat"
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
	EventOnlineUsers      = "online_users"
	EventReceiveMessage   = "receive_message"
	EventTyping           = "typing"
	EventStopTyping       = "stop_typing"
	EventMessageRead      = "message_read"
)

var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMalformedPayload = errors.New("malformed payload")
)

var validate = validator.New()

// Frame is the JSON envelope carried by every websocket text frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is an event pushed to a connection.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Inbound is the closed set of events a client may send.
type Inbound interface {
	inbound()
	Name() string
}

type Setup struct {
	UserID string `validate:"required"`
}

type JoinChat struct {
	ChatID string `validate:"required"`
}

type LeaveChat struct {
	ChatID string `validate:"required"`
}

// NewMessage references a message the client has already persisted.
type NewMessage struct {
	MessageID string `validate:"required"`
	ChatID    string `validate:"required"`
	SenderID  string `validate:"required"`
}

type Typing struct {
	ChatID string `validate:"required"`
	UserID string
}

type StopTyping struct {
	ChatID string `validate:"required"`
	UserID string
}

type MessageRead struct {
	MessageID string `validate:"required"`
	ChatID    string `validate:"required"`
	UserID    string
}

type GetOnlineUsers struct{}

func (Setup) inbound()          {}
func (JoinChat) inbound()       {}
func (LeaveChat) inbound()      {}
func (NewMessage) inbound()     {}
func (Typing) inbound()         {}
func (StopTyping) inbound()     {}
func (MessageRead) inbound()    {}
func (GetOnlineUsers) inbound() {}

func (Setup) Name() string          { return EventSetup }
func (JoinChat) Name() string       { return EventJoinChat }
func (LeaveChat) Name() string      { return EventLeaveChat }
func (NewMessage) Name() string     { return EventNewMessage }
func (Typing) Name() string         { return EventTyping }
func (StopTyping) Name() string     { return EventStopTyping }
func (MessageRead) Name() string    { return EventMessageRead }
func (GetOnlineUsers) Name() string { return EventGetOnlineUsers }

// ref accepts either a bare id string or an object carrying "_id".
type ref string

func (r *ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = ref(s)
		return nil
	}
	var obj struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = ref(obj.ID)
	return nil
}

// Decode parses one frame into its typed event and validates the payload.
func Decode(raw []byte) (Inbound, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var (
		evt Inbound
		err error
	)
	switch frame.Event {
	case EventSetup:
		evt, err = decodeSetup(frame.Data)
	case EventJoinChat:
		var id string
		id, err = decodeChatID(frame.Data)
		evt = JoinChat{ChatID: id}
	case EventLeaveChat:
		var id string
		id, err = decodeChatID(frame.Data)
		evt = LeaveChat{ChatID: id}
	case EventNewMessage:
		evt, err = decodeNewMessage(frame.Data)
	case EventTyping:
		var p typingPayload
		p, err = decodeTyping(frame.Data)
		evt = Typing{ChatID: p.ChatID, UserID: p.UserID}
	case EventStopTyping:
		var p typingPayload
		p, err = decodeTyping(frame.Data)
		evt = StopTyping{ChatID: p.ChatID, UserID: p.UserID}
	case EventMessageRead:
		evt, err = decodeMessageRead(frame.Data)
	case EventGetOnlineUsers:
		return GetOnlineUsers{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, frame.Event, err)
	}
	if err := validate.Struct(evt); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, frame.Event, err)
	}
	return evt, nil
}

func decodeSetup(data json.RawMessage) (Inbound, error) {
	var p struct {
		ID     string `json:"_id"`
		UserID string `json:"userId"`
	}
	if err := unmarshalData(data, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = p.UserID
	}
	return Setup{UserID: p.ID}, nil
}

func decodeChatID(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		err := json.Unmarshal(data, &id)
		return id, err
	}
	var p struct {
		ChatID string `json:"chatId"`
		ID     string `json:"_id"`
	}
	if err := unmarshalData(data, &p); err != nil {
		return "", err
	}
	if p.ChatID == "" {
		p.ChatID = p.ID
	}
	return p.ChatID, nil
}

type typingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

func decodeTyping(data json.RawMessage) (typingPayload, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		err := json.Unmarshal(data, &id)
		return typingPayload{ChatID: id}, err
	}
	var p typingPayload
	err := unmarshalData(data, &p)
	return p, err
}

func decodeNewMessage(data json.RawMessage) (Inbound, error) {
	var p struct {
		ID     string `json:"_id"`
		Chat   ref    `json:"chat"`
		Sender ref    `json:"sender"`
	}
	if err := unmarshalData(data, &p); err != nil {
		return nil, err
	}
	return NewMessage{MessageID: p.ID, ChatID: string(p.Chat), SenderID: string(p.Sender)}, nil
}

func decodeMessageRead(data json.RawMessage) (Inbound, error) {
	var p struct {
		MessageID string `json:"messageId"`
		ChatID    string `json:"chatId"`
		UserID    string `json:"userId"`
	}
	if err := unmarshalData(data, &p); err != nil {
		return nil, err
	}
	return MessageRead{MessageID: p.MessageID, ChatID: p.ChatID, UserID: p.UserID}, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, v)
}
