package handlers

import (
	"net/http"

	"emojiparty/middleware"
	"emojiparty/services"

	"github.com/gin-gonic/gin"
)

type RealtimeHandler struct {
	events      *services.Broadcaster
	gameService *services.GameService
}

func NewRealtimeHandler(events *services.Broadcaster, gameService *services.GameService) *RealtimeHandler {
	return &RealtimeHandler{
		events:      events,
		gameService: gameService,
	}
}

// Events holds the request open until an event after lastEventId arrives or
// the wait runs out.
func (h *RealtimeHandler) Events(c *gin.Context) {
	since, ok := queryInt64(c, "lastEventId")
	if !ok {
		return
	}

	gameID := c.Param("gameId")
	if err := h.gameService.RequireMember(c.Request.Context(), gameID, middleware.PlayerID(c)); err != nil {
		respondError(c, err)
		return
	}

	batch, err := h.events.Subscribe(c.Request.Context(), gameID, since)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, batch)
}

func (h *RealtimeHandler) History(c *gin.Context) {
	since, ok := queryInt64(c, "since")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}

	gameID := c.Param("gameId")
	if err := h.gameService.RequireMember(c.Request.Context(), gameID, middleware.PlayerID(c)); err != nil {
		respondError(c, err)
		return
	}

	batch, err := h.events.History(c.Request.Context(), gameID, since, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, batch)
}

func (h *RealtimeHandler) Heartbeat(c *gin.Context) {
	result, err := h.gameService.Heartbeat(c.Request.Context(), c.Param("gameId"), middleware.PlayerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, result)
}
