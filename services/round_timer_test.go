package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (t *RoundTimer) taskFor(gameID, roundID string) *timerTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tasks[taskKey(gameID, roundID)]
}

func TestExpiredTimerCancelsItsTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	expired := make(chan string, 1)
	timer := NewRoundTimer(h.repo, h.events, h.cfg.Game, func(_ context.Context, _, roundID string) {
		expired <- roundID
	})
	_, err := timer.Start(ctx, "g1", "r1", 200*time.Millisecond)
	require.NoError(t, err)
	task := timer.taskFor("g1", "r1")
	require.NotNil(t, task)

	select {
	case roundID := <-expired:
		assert.Equal(t, "r1", roundID)
	case <-time.After(2 * time.Second):
		t.Fatal("timer never expired")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, timer.Shutdown(shutdownCtx))
	assert.ErrorIs(t, task.ctx.Err(), context.Canceled)
	assert.False(t, timer.Running("g1", "r1"))
}

func TestTimerStopsWhenMarkerIsGone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	timer := NewRoundTimer(h.repo, h.events, h.cfg.Game, func(context.Context, string, string) {
		t.Error("expiry callback must not run")
	})
	_, err := timer.Start(ctx, "g1", "r1", time.Minute)
	require.NoError(t, err)
	task := timer.taskFor("g1", "r1")
	require.NotNil(t, task)

	require.NoError(t, h.repo.DeleteTimerMarker(ctx, "g1", "r1"))
	assert.Eventually(t, func() bool { return !timer.Running("g1", "r1") }, 2*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, timer.Shutdown(shutdownCtx))
	assert.ErrorIs(t, task.ctx.Err(), context.Canceled)
}
