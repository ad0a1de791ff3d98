package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/GreyyDaze/orbit-server/internal/events"
	"github.com/GreyyDaze/orbit-server/internal/realtime"
	"github.com/GreyyDaze/orbit-server/internal/services"
	"github.com/GreyyDaze/orbit-server/pkg/response"
)

// RealtimeHandler upgrades board subscriptions to websockets.
type RealtimeHandler struct {
	hub    *realtime.Hub
	boards *services.BoardService
}

func NewRealtimeHandler(hub *realtime.Hub, boards *services.BoardService) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, boards: boards}
}

// GET /ws/boards/:id
// Visibility is checked with the same rules as the REST read path before the
// connection joins the board's group.
func (h *RealtimeHandler) Subscribe(c *gin.Context) {
	boardID := c.Param("id")
	if _, err := h.boards.Get(requestContext(c), requester(c), boardID); err != nil {
		response.Error(c, err)
		return
	}

	h.hub.Serve(events.BoardGroup(boardID), c.Writer, c.Request)
}
