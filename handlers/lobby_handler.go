package handlers

import (
	"net/http"

	"emojiparty/middleware"
	"emojiparty/services"

	"github.com/gin-gonic/gin"
)

type LobbyHandler struct {
	lobby       *services.LobbyController
	gameService *services.GameService
}

func NewLobbyHandler(lobby *services.LobbyController, gameService *services.GameService) *LobbyHandler {
	return &LobbyHandler{
		lobby:       lobby,
		gameService: gameService,
	}
}

type SyncRequest struct {
	ClientTime int64 `json:"client_time" binding:"required"`
}

// GetTimer answers with a null timer when the game has none.
func (h *LobbyHandler) GetTimer(c *gin.Context) {
	respond(c, http.StatusOK, h.lobby.Get(c.Request.Context(), c.Param("gameId")))
}

func (h *LobbyHandler) Sync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	respond(c, http.StatusOK, h.lobby.Sync(c.Request.Context(), c.Param("gameId"), req.ClientTime))
}

func (h *LobbyHandler) Reset(c *gin.Context) {
	timer, err := h.gameService.ResetLobby(c.Request.Context(), c.Param("gameId"), middleware.PlayerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, timer)
}

func (h *LobbyHandler) CheckAutoStart(c *gin.Context) {
	started, err := h.lobby.TryAutoStart(c.Request.Context(), c.Param("gameId"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"started": started})
}
