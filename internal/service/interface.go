package service

import (
	"context"
	"encoding/json"

	"github.com/nimbuswire/notify-service/internal/domain"
	"github.com/nimbuswire/notify-service/internal/router"
)

// SubmitEventRequest is the HTTP publish shape. Exactly one of
// RecipientUserID / RoomID must be set; RecipientUserID may accompany a
// RoomID to give a room event a durable fallback target.
type SubmitEventRequest struct {
	Type            string          `json:"type" binding:"required"`
	RecipientUserID string          `json:"recipient_user_id"`
	SenderUserID    string          `json:"sender_user_id"`
	RoomID          string          `json:"room_id"`
	Payload         json.RawMessage `json:"payload" binding:"required"`
}

// NotifyService coordinates WebSocket commands and HTTP publishes against
// the room manager and the delivery router.
type NotifyService interface {
	HandleJoinRoom(ctx context.Context, session domain.Session, roomID string) error
	HandleLeaveRoom(ctx context.Context, session domain.Session, roomID string) error
	HandleSend(ctx context.Context, session domain.Session, msg *domain.SendMessage) error
	HandleDisconnect(session domain.Session)

	SubmitEvent(ctx context.Context, req *SubmitEventRequest) (*router.Result, error)
	IsDelivered(eventID string) bool
}
