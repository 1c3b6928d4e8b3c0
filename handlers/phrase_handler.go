package handlers

import (
	"net/http"

	"emojiparty/services"

	"github.com/gin-gonic/gin"
)

type PhraseHandler struct {
	phraseService *services.PhraseService
}

func NewPhraseHandler(phraseService *services.PhraseService) *PhraseHandler {
	return &PhraseHandler{
		phraseService: phraseService,
	}
}

func (h *PhraseHandler) ListPhrases(c *gin.Context) {
	respond(c, http.StatusOK, h.phraseService.ListPhrases(c.Request.Context(), c.Query("category")))
}

func (h *PhraseHandler) CreatePhrase(c *gin.Context) {
	var req services.CreatePhraseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	phrase, err := h.phraseService.CreatePhrase(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, phrase)
}

func (h *PhraseHandler) DeletePhrase(c *gin.Context) {
	if err := h.phraseService.DeletePhrase(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"message": "Phrase deleted successfully"})
}
