package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dormhub/dorm-portal-api/internal/models"
	"github.com/dormhub/dorm-portal-api/internal/realtime"
	"github.com/dormhub/dorm-portal-api/internal/service"
	appErrors "github.com/dormhub/dorm-portal-api/pkg/errors"
	"github.com/dormhub/dorm-portal-api/pkg/response"
)

// EventsHandler streams transition events to students over SSE.
type EventsHandler struct {
	hub     *realtime.Hub
	metrics *service.MetricsService
}

// NewEventsHandler constructs the handler.
func NewEventsHandler(hub *realtime.Hub, metrics *service.MetricsService) *EventsHandler {
	return &EventsHandler{hub: hub, metrics: metrics}
}

// Stream godoc
// @Summary Subscribe to transition events
// @Description Server-sent event stream of the caller's request transitions. Events are hints; clients re-fetch on receipt. A reconnect joins fresh with no replay.
// @Tags Events
// @Produce text/event-stream
// @Success 200
// @Router /maintenance/events [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "event hub not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if claims.Role != models.RoleStudent {
		// Staff and admins watch the list views; the channel is per-student.
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "event stream is scoped to students"))
		return
	}

	sub, err := h.hub.Subscribe(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join event channel"))
		return
	}
	defer sub.Close()

	h.metrics.SubscriberConnected(1)
	defer h.metrics.SubscriberConnected(-1)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case payload, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent("transition", string(payload))
			return true
		}
	})
}
