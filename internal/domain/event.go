package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an event for the recipient's client.
type EventType string

const (
	EventTypeMessage EventType = "message"
	EventTypeLike    EventType = "like"
	EventTypeComment EventType = "comment"
	EventTypeFollow  EventType = "follow"
	EventTypeCustom  EventType = "custom"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeMessage, EventTypeLike, EventTypeComment, EventTypeFollow, EventTypeCustom:
		return true
	}
	return false
}

// Event is a single notification addressed to one recipient. Immutable once
// created; the EventID is the dedup key for at-least-once consumption across
// instances.
type Event struct {
	EventID         string          `json:"event_id"`
	Type            EventType       `json:"type"`
	RecipientUserID string          `json:"recipient_user_id"`
	SenderUserID    string          `json:"sender_user_id,omitempty"`
	RoomID          string          `json:"room_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewEvent constructs an event with a fresh EventID and timestamp.
func NewEvent(eventType EventType, recipientUserID, senderUserID, roomID string, payload json.RawMessage) *Event {
	return &Event{
		EventID:         uuid.New().String(),
		Type:            eventType,
		RecipientUserID: recipientUserID,
		SenderUserID:    senderUserID,
		RoomID:          roomID,
		Payload:         payload,
		CreatedAt:       time.Now().UTC(),
	}
}

// RoutingKey returns the fanout partition key. Events for the same key are
// observed in publish order by any single subscribing instance.
func (e *Event) RoutingKey() string {
	if e.RoomID != "" {
		return e.RoomID
	}
	return e.RecipientUserID
}

// OfflineNotification is a persisted event awaiting a recipient's return.
// Never deleted here; retention is the durable store collaborator's policy.
type OfflineNotification struct {
	Event       *Event     `json:"event"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// PairRoomID derives the canonical chat room ID for a pair of users. The
// sorted order keeps the ID stable regardless of which side connects first.
func PairRoomID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}
