package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"emojiparty/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind   services.ErrorKind
		status int
	}{
		{services.KindValidation, http.StatusBadRequest},
		{services.KindGameNotFound, http.StatusNotFound},
		{services.KindRoundNotFound, http.StatusNotFound},
		{services.KindPlayerNotFound, http.StatusNotFound},
		{services.KindNotModerator, http.StatusForbidden},
		{services.KindPresenterCannotGuess, http.StatusForbidden},
		{services.KindForbidden, http.StatusForbidden},
		{services.KindUnauthorized, http.StatusUnauthorized},
		{services.KindGameFull, http.StatusConflict},
		{services.KindRoundExpired, http.StatusConflict},
		{services.KindDuplicateGuess, http.StatusConflict},
		{services.KindNoPhraseAvailable, http.StatusInternalServerError},
		{services.KindServer, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.kind))
		})
	}
}

func serve(handler gin.HandlerFunc, target string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/probe", handler)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRespondErrorUsesGameErrorKind(t *testing.T) {
	err := fmt.Errorf("join: %w", &services.GameError{Kind: services.KindGameFull, Message: "game is full"})
	w := serve(func(c *gin.Context) { respondError(c, err) }, "/probe")

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "game is full", body["error"])
	assert.Equal(t, string(services.KindGameFull), body["code"])
	assert.NotZero(t, body["timestamp"])
}

func TestRespondErrorHidesUnexpectedErrors(t *testing.T) {
	w := serve(func(c *gin.Context) { respondError(c, errors.New("dial tcp: refused")) }, "/probe")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Internal server error", body["error"])
	assert.Equal(t, string(services.KindServer), body["code"])
}

func TestRespondWrapsData(t *testing.T) {
	w := serve(func(c *gin.Context) { respond(c, http.StatusOK, gin.H{"answer": 42}) }, "/probe")

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"answer": float64(42)}, body["data"])
}

func TestQueryInt(t *testing.T) {
	probe := func(c *gin.Context) {
		n, ok := queryInt(c, "limit", 10)
		if !ok {
			return
		}
		respond(c, http.StatusOK, n)
	}

	body := decodeBody(t, serve(probe, "/probe"))
	assert.Equal(t, float64(10), body["data"])

	body = decodeBody(t, serve(probe, "/probe?limit=3"))
	assert.Equal(t, float64(3), body["data"])

	for _, raw := range []string{"-1", "ten"} {
		w := serve(probe, "/probe?limit="+raw)
		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
		assert.Equal(t, string(services.KindValidation), decodeBody(t, w)["code"])
	}
}
