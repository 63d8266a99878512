package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/nimbuswire/notify-service/internal/service"
	"github.com/nimbuswire/notify-service/internal/store"
	"github.com/nimbuswire/notify-service/pkg/response"
)

// HTTPHandler serves the publish API for upstream producers and the
// delivered-state query.
type HTTPHandler struct {
	service service.NotifyService
}

func NewHTTPHandler(svc service.NotifyService) *HTTPHandler {
	return &HTTPHandler{service: svc}
}

// RegisterRoutes mounts the API under /api/v1 plus the health probe.
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine, ws *WSHandler) {
	r.GET("/health", h.Health)
	r.GET("/ws", ws.HandleWebSocket)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/events", h.SubmitEvent)
		v1.GET("/events/:id/delivered", h.EventDelivered)
	}
}

// SubmitEvent accepts an event from an upstream producer and runs it
// through the delivery pipeline. Responds 202: acceptance means the event
// is owned, not that the recipient has seen it.
func (h *HTTPHandler) SubmitEvent(c *gin.Context) {
	var req service.SubmitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	result, err := h.service.SubmitEvent(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidEventType), errors.Is(err, service.ErrNoTarget):
			response.BadRequest(c, err.Error())
		case errors.Is(err, store.ErrStoreUnavailable):
			response.InternalError(c, "event could not be stored for delivery")
		default:
			response.InternalError(c, "failed to dispatch event")
		}
		return
	}

	response.Accepted(c, result)
}

// EventDelivered reports whether this instance delivered the event to a
// live session within the dedup window.
func (h *HTTPHandler) EventDelivered(c *gin.Context) {
	eventID := c.Param("id")
	if eventID == "" {
		response.BadRequest(c, "event id is required")
		return
	}

	response.Success(c, gin.H{
		"event_id":  eventID,
		"delivered": h.service.IsDelivered(eventID),
	})
}

// Health is the liveness probe.
func (h *HTTPHandler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}
