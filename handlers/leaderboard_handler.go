package handlers

import (
	"net/http"

	"emojiparty/services"

	"github.com/gin-gonic/gin"
)

const maxLeaderboardLimit = 100

type LeaderboardHandler struct {
	ledger *services.ScoreLedger
}

func NewLeaderboardHandler(ledger *services.ScoreLedger) *LeaderboardHandler {
	return &LeaderboardHandler{ledger: ledger}
}

func (h *LeaderboardHandler) Top(c *gin.Context) {
	community, err := services.NormalizeCommunity(c.Param("community"))
	if err != nil {
		respondError(c, err)
		return
	}
	limit, ok := queryInt(c, "limit", 10)
	if !ok {
		return
	}
	if limit == 0 || limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	respond(c, http.StatusOK, h.ledger.Top(c.Request.Context(), community, limit))
}

func (h *LeaderboardHandler) Player(c *gin.Context) {
	community, err := services.NormalizeCommunity(c.Param("community"))
	if err != nil {
		respondError(c, err)
		return
	}

	standing, err := h.ledger.Standing(c.Request.Context(), community, c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, standing)
}
