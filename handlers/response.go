package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"emojiparty/services"

	"github.com/gin-gonic/gin"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindGameNotFound, services.KindRoundNotFound, services.KindPhraseNotFound, services.KindPlayerNotFound:
		return http.StatusNotFound
	case services.KindNotModerator, services.KindNotPresenter, services.KindPresenterCannotGuess, services.KindForbidden:
		return http.StatusForbidden
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindNoPhraseAvailable, services.KindServer:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UnixMilli(),
	})
}

func fail(c *gin.Context, status int, kind services.ErrorKind, message string) {
	c.JSON(status, gin.H{
		"success":   false,
		"error":     message,
		"code":      kind,
		"timestamp": time.Now().UnixMilli(),
	})
}

// respondError writes err as an error envelope. Server errors are logged and
// their cause is not exposed.
func respondError(c *gin.Context, err error) {
	var ge *services.GameError
	if !errors.As(err, &ge) {
		log.Printf("[%s %s] unexpected error: %v", c.Request.Method, c.FullPath(), err)
		fail(c, http.StatusInternalServerError, services.KindServer, "Internal server error")
		return
	}
	if ge.Kind == services.KindServer {
		log.Printf("[%s %s] %v", c.Request.Method, c.FullPath(), err)
	}
	fail(c, StatusFor(ge.Kind), ge.Kind, ge.Message)
}

func badRequest(c *gin.Context, err error) {
	fail(c, http.StatusBadRequest, services.KindValidation, err.Error())
}

func queryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		fail(c, http.StatusBadRequest, services.KindValidation, "invalid "+name)
		return 0, false
	}
	return n, true
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		fail(c, http.StatusBadRequest, services.KindValidation, "invalid "+name)
		return 0, false
	}
	return n, true
}
