// Package service coordinates inbound commands, from the WebSocket frame
// protocol and the HTTP publish API, against the room manager and the
// delivery router.
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/nimbuswire/notify-service/internal/domain"
	"github.com/nimbuswire/notify-service/internal/registry"
	"github.com/nimbuswire/notify-service/internal/rooms"
	"github.com/nimbuswire/notify-service/internal/router"
	"github.com/nimbuswire/notify-service/pkg/log"
)

var (
	ErrInvalidEventType = errors.New("invalid event type")
	ErrNoTarget         = errors.New("event needs a recipient or a room")
)

type notifyService struct {
	registry *registry.Registry
	rooms    *rooms.Manager
	router   *router.Router
}

// New wires the service over the instance's registry, room manager, and
// router.
func New(reg *registry.Registry, rm *rooms.Manager, rt *router.Router) NotifyService {
	return &notifyService{
		registry: reg,
		rooms:    rm,
		router:   rt,
	}
}

func (s *notifyService) HandleJoinRoom(ctx context.Context, session domain.Session, roomID string) error {
	if roomID == "" {
		return session.SendJSON(domain.NewErrorMessage(domain.ErrCodeBadRequest, "room_id is required"))
	}

	s.rooms.Join(roomID, session)

	return session.SendJSON(&domain.RoomJoinedMessage{
		Type:   domain.MsgTypeRoomJoined,
		RoomID: roomID,
	})
}

func (s *notifyService) HandleLeaveRoom(ctx context.Context, session domain.Session, roomID string) error {
	if roomID == "" {
		return session.SendJSON(domain.NewErrorMessage(domain.ErrCodeBadRequest, "room_id is required"))
	}
	s.rooms.Leave(roomID, session.SessionID())
	return nil
}

// HandleSend originates an event from a live session. Room sends broadcast
// to the room and exclude the sender's own session; direct sends address
// the recipient's sessions everywhere.
func (s *notifyService) HandleSend(ctx context.Context, session domain.Session, msg *domain.SendMessage) error {
	if len(msg.Payload) == 0 {
		return session.SendJSON(domain.NewErrorMessage(domain.ErrCodeBadRequest, "payload is required"))
	}

	var event *domain.Event
	switch {
	case msg.RoomID != "":
		// Pair rooms resolve the peer as the durable fallback target; group
		// room sends have no single recipient and skip the fallback.
		recipient := pairPeer(msg.RoomID, session.UserID())
		event = domain.NewEvent(domain.EventTypeMessage, recipient, session.UserID(), msg.RoomID, msg.Payload)

	case msg.RecipientUserID != "":
		event = domain.NewEvent(domain.EventTypeMessage, msg.RecipientUserID, session.UserID(), "", msg.Payload)

	default:
		return session.SendJSON(domain.NewErrorMessage(domain.ErrCodeBadRequest, "room_id or recipient_user_id is required"))
	}

	if _, err := s.router.Dispatch(ctx, event, session.SessionID()); err != nil {
		l := log.ForSession(ctx, session.SessionID(), session.UserID())
		l.Error().Err(err).
			Str(log.FieldEventID, event.EventID).
			Msg("send dispatch failed")
		return session.SendJSON(domain.NewErrorMessage(domain.ErrCodeInternalError, "failed to send"))
	}
	return nil
}

// HandleDisconnect tears down the session's room memberships and registry
// entry. Safe to call for sessions that were never fully set up.
func (s *notifyService) HandleDisconnect(session domain.Session) {
	s.rooms.LeaveAll(session.SessionID())
	s.registry.Unregister(session.SessionID())
}

// SubmitEvent originates an event from the HTTP publish API on behalf of an
// upstream producer.
func (s *notifyService) SubmitEvent(ctx context.Context, req *SubmitEventRequest) (*router.Result, error) {
	eventType := domain.EventType(req.Type)
	if !eventType.Valid() {
		return nil, ErrInvalidEventType
	}
	if req.RecipientUserID == "" && req.RoomID == "" {
		return nil, ErrNoTarget
	}

	event := domain.NewEvent(eventType, req.RecipientUserID, req.SenderUserID, req.RoomID, req.Payload)
	return s.router.Dispatch(ctx, event, "")
}

func (s *notifyService) IsDelivered(eventID string) bool {
	return s.router.IsDelivered(eventID)
}

// pairPeer extracts the other user from a pair room ID. Returns empty for
// room IDs that are not a two-user pair containing userID.
func pairPeer(roomID, userID string) string {
	parts := strings.Split(roomID, "_")
	if len(parts) != 2 {
		return ""
	}
	switch userID {
	case parts[0]:
		return parts[1]
	case parts[1]:
		return parts[0]
	}
	return ""
}
