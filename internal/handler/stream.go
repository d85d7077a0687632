package handlers

import (
	"SafeCircle/internal/events"
	"SafeCircle/internal/models"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
)

// handleEventStream 与 WebSocket 相同的组订阅，只读
func (h *Handlers) handleEventStream(c *gin.Context) {
	user := models.CurrentUser(c)
	circleIDs, err := h.svc.Users.CircleIDs(c.Request.Context(), user.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	groups := make([]string, 0, len(circleIDs)+1)
	groups = append(groups, events.UserGroup(user.ID))
	for _, id := range circleIDs {
		groups = append(groups, events.CircleGroup(id))
	}
	h.opts.Streams.Serve(c, h.opts.Streams.Subscribe(user.ID, groups))
}
