// Package handler exposes the service over its two surfaces: the WebSocket
// session protocol and the HTTP publish API.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nimbuswire/notify-service/internal/config"
	"github.com/nimbuswire/notify-service/internal/domain"
	"github.com/nimbuswire/notify-service/internal/hub"
	"github.com/nimbuswire/notify-service/internal/registry"
	"github.com/nimbuswire/notify-service/internal/service"
	"github.com/nimbuswire/notify-service/pkg/jwt"
	"github.com/nimbuswire/notify-service/pkg/log"
	"github.com/nimbuswire/notify-service/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades authenticated connections and runs the frame protocol.
type WSHandler struct {
	registry *registry.Registry
	service  service.NotifyService
	verifier *jwt.Verifier
	wsCfg    config.WebSocketConfig
}

func NewWSHandler(reg *registry.Registry, svc service.NotifyService, verifier *jwt.Verifier, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		registry: reg,
		service:  svc,
		verifier: verifier,
		wsCfg:    wsCfg,
	}
}

// HandleWebSocket authenticates the request, upgrades it, and registers the
// session. Credentials are checked before the upgrade so a rejected
// connection never enters the registry.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	claims, err := h.verifier.Verify(extractToken(c))
	if err != nil {
		response.Unauthorized(c, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(claims.UserID, conn, h.wsCfg)

	// The write pump must be draining before Register: registering fires the
	// backlog drain synchronously, and a backlog larger than the send buffer
	// would otherwise trip the slow-consumer teardown on a fresh connection.
	go client.WritePump()
	h.registry.Register(client)

	go client.ReadPump(h.handleMessage, h.onClose)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendJSON(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid message format"))
		return
	}

	ctx := context.Background()

	switch base.Type {
	case domain.MsgTypeJoinRoom:
		var msg domain.JoinRoomMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendJSON(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid join_room message"))
			return
		}
		if err := h.service.HandleJoinRoom(ctx, client, msg.RoomID); err != nil {
			h.logFrameError(client, "join_room", err)
		}

	case domain.MsgTypeLeaveRoom:
		var msg domain.LeaveRoomMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendJSON(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid leave_room message"))
			return
		}
		if err := h.service.HandleLeaveRoom(ctx, client, msg.RoomID); err != nil {
			h.logFrameError(client, "leave_room", err)
		}

	case domain.MsgTypeSend:
		var msg domain.SendMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendJSON(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid send message"))
			return
		}
		if err := h.service.HandleSend(ctx, client, &msg); err != nil {
			h.logFrameError(client, "send", err)
		}

	case domain.MsgTypePing:
		client.SendJSON(map[string]string{"type": domain.MsgTypePong})

	default:
		client.SendJSON(domain.NewErrorMessage(domain.ErrCodeBadRequest, "unknown message type"))
	}
}

func (h *WSHandler) onClose(client *hub.Client) {
	h.service.HandleDisconnect(client)
}

func (h *WSHandler) logFrameError(client *hub.Client, frame string, err error) {
	l := log.L()
	l.Warn().Err(err).
		Str(log.FieldSessionID, client.SessionID()).
		Str(log.FieldUserID, client.UserID()).
		Str("frame", frame).
		Msg("frame handling failed")
}

// extractToken pulls the bearer token from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token query
// parameter.
func extractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.Query("token")
}
