package handlers

import (
	"net/http"
	"strings"

	"emojiparty/middleware"
	"emojiparty/services"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

type GameHandler struct {
	gameService *services.GameService
}

func NewGameHandler(gameService *services.GameService) *GameHandler {
	return &GameHandler{
		gameService: gameService,
	}
}

type CreateGameRequest struct {
	Community string `json:"community"`
}

func (h *GameHandler) CreateGame(c *gin.Context) {
	var req CreateGameRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	state, err := h.gameService.CreateGame(c.Request.Context(), middleware.Username(c), req.Community)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, state)
}

func (h *GameHandler) JoinGame(c *gin.Context) {
	state, err := h.gameService.JoinGame(c.Request.Context(), c.Param("gameId"), middleware.Username(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, state)
}

func (h *GameHandler) LeaveGame(c *gin.Context) {
	state, err := h.gameService.LeaveGame(c.Request.Context(), c.Param("gameId"), middleware.PlayerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, state)
}

func (h *GameHandler) StartGame(c *gin.Context) {
	round, err := h.gameService.StartGame(c.Request.Context(), c.Param("gameId"), middleware.PlayerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, round)
}

func (h *GameHandler) GetGame(c *gin.Context) {
	state, err := h.gameService.State(c.Request.Context(), c.Param("gameId"), middleware.PlayerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, state)
}

func (h *GameHandler) ListGames(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 20)
	if !ok {
		return
	}

	games, err := h.gameService.ListGames(c.Request.Context(), c.Query("community"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, games)
}

// GameQR renders a PNG QR code pointing at the game.
func (h *GameHandler) GameQR(c *gin.Context) {
	gameID := c.Param("gameId")
	if _, err := h.gameService.State(c.Request.Context(), gameID, ""); err != nil {
		respondError(c, err)
		return
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	url := scheme + "://" + c.Request.Host + strings.TrimSuffix(c.Request.URL.Path, "/qr")

	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, services.KindServer, "QR generation failed")
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}
