package handlers

import (
	"net/http"

	"emojiparty/middleware"
	"emojiparty/services"

	"github.com/gin-gonic/gin"
)

type RoundHandler struct {
	roundService   *services.RoundService
	guessEvaluator *services.GuessEvaluator
}

func NewRoundHandler(roundService *services.RoundService, guessEvaluator *services.GuessEvaluator) *RoundHandler {
	return &RoundHandler{
		roundService:   roundService,
		guessEvaluator: guessEvaluator,
	}
}

type StartRoundRequest struct {
	RoundNumber int `json:"round_number" binding:"min=0"`
}

type SubmitEmojisRequest struct {
	Emojis []string `json:"emojis" binding:"required,min=1"`
}

type SubmitGuessRequest struct {
	Guess string `json:"guess" binding:"required"`
}

func (h *RoundHandler) StartRound(c *gin.Context) {
	var req StartRoundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	round, err := h.roundService.StartRoundAs(c.Request.Context(), c.Param("gameId"), middleware.PlayerID(c), req.RoundNumber)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, round)
}

// NextRound answers with a nil round when the game just completed.
func (h *RoundHandler) NextRound(c *gin.Context) {
	round, err := h.roundService.NextRoundAs(c.Request.Context(), c.Param("gameId"), middleware.PlayerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"round": round, "game_ended": round == nil})
}

func (h *RoundHandler) SubmitEmojis(c *gin.Context) {
	var req SubmitEmojisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	round, err := h.roundService.SubmitEmojis(c.Request.Context(), c.Param("gameId"), c.Param("roundId"), middleware.PlayerID(c), req.Emojis)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, round)
}

func (h *RoundHandler) SubmitGuess(c *gin.Context) {
	var req SubmitGuessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	outcome, err := h.guessEvaluator.SubmitGuess(
		c.Request.Context(),
		c.Param("gameId"),
		c.Param("roundId"),
		req.Guess,
		middleware.PlayerID(c),
		middleware.Username(c),
	)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, outcome)
}

func (h *RoundHandler) EndRound(c *gin.Context) {
	result, err := h.roundService.EndRoundAs(c.Request.Context(), c.Param("gameId"), c.Param("roundId"), middleware.PlayerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, result)
}

func (h *RoundHandler) GetRound(c *gin.Context) {
	round, err := h.roundService.Round(c.Request.Context(), c.Param("gameId"), c.Param("roundId"), middleware.PlayerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, round)
}
