package handlers

import (
	"context"
	"net/http"
	"time"

	"emojiparty/observability"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether the state store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store    Pinger
	recorder observability.Recorder
}

func NewHealthHandler(store Pinger, recorder observability.Recorder) *HealthHandler {
	return &HealthHandler{store: store, recorder: recorder}
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, redisStatus := http.StatusOK, "ok"
	if err := h.store.Ping(ctx); err != nil {
		status, redisStatus = http.StatusServiceUnavailable, err.Error()
	}

	c.JSON(status, gin.H{
		"status":    http.StatusText(status),
		"redis":     redisStatus,
		"counters":  h.recorder.Snapshot(),
		"timestamp": time.Now().UnixMilli(),
	})
}
