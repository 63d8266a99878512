package domain

import (
	"encoding/json"
	"time"
)

// WebSocket message types from client.
const (
	MsgTypeJoinRoom  = "join_room"
	MsgTypeLeaveRoom = "leave_room"
	MsgTypeSend      = "send"
	MsgTypePing      = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeEvent      = "event"
	MsgTypeRoomJoined = "room_joined"
	MsgTypeError      = "error"
	MsgTypePong       = "pong"
)

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeNotInRoom     = "NOT_IN_ROOM"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type JoinRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type LeaveRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// SendMessage carries an outbound payload to either a room or a single
// recipient. Exactly one of RoomID / RecipientUserID should be set.
type SendMessage struct {
	Type            string          `json:"type"`
	RoomID          string          `json:"room_id,omitempty"`
	RecipientUserID string          `json:"recipient_user_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// Server -> Client messages

// EventPush is the outbound push shape for a delivered event.
type EventPush struct {
	Type      string          `json:"type"`
	EventID   string          `json:"event_id"`
	EventType EventType       `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEventPush wraps an event in the outbound push shape.
func NewEventPush(e *Event) *EventPush {
	return &EventPush{
		Type:      MsgTypeEvent,
		EventID:   e.EventID,
		EventType: e.Type,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	}
}

type RoomJoinedMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
