package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"emojiparty/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func withFakeLobbyClock(h *harness) *fakeClock {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	h.lobby.now = clock.Now
	return clock
}

func TestLobbyTimerWaitsForMinimumPlayers(t *testing.T) {
	h := newHarness(t)
	withFakeLobbyClock(h)
	ctx := context.Background()

	gameID := h.lobbyGame(t, "alice")
	timer := h.lobby.Get(ctx, gameID)
	require.NotNil(t, timer)
	assert.False(t, timer.IsActive)
	assert.False(t, timer.Expired)
	assert.Equal(t, h.cfg.Game.LobbyDuration, timer.RemainingTime)

	_, err := h.games.JoinGame(ctx, gameID, "bob")
	require.NoError(t, err)

	timer = h.lobby.Get(ctx, gameID)
	require.NotNil(t, timer)
	assert.True(t, timer.IsActive)
	assert.Equal(t, h.cfg.Game.LobbyDuration, timer.RemainingTime)
}

func TestLobbyTimerResetsOnJoin(t *testing.T) {
	h := newHarness(t)
	clock := withFakeLobbyClock(h)
	ctx := context.Background()

	gameID := h.lobbyGame(t, "alice", "bob")
	clock.Advance(20 * time.Second)

	timer := h.lobby.Get(ctx, gameID)
	require.NotNil(t, timer)
	assert.Equal(t, h.cfg.Game.LobbyDuration-20*time.Second, timer.RemainingTime)

	_, err := h.games.JoinGame(ctx, gameID, "carol")
	require.NoError(t, err)

	timer = h.lobby.Get(ctx, gameID)
	require.NotNil(t, timer)
	assert.True(t, timer.IsActive)
	assert.Equal(t, h.cfg.Game.LobbyDuration, timer.RemainingTime)
}

func TestLobbyTimerKeepsRunningWithoutResetOnJoin(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Game.LobbyResetOnJoin = false
	})
	clock := withFakeLobbyClock(h)
	ctx := context.Background()

	gameID := h.lobbyGame(t, "alice", "bob")
	clock.Advance(20 * time.Second)
	_, err := h.games.JoinGame(ctx, gameID, "carol")
	require.NoError(t, err)

	timer := h.lobby.Get(ctx, gameID)
	require.NotNil(t, timer)
	assert.Equal(t, h.cfg.Game.LobbyDuration-20*time.Second, timer.RemainingTime)
}

func TestLobbyTimerPausesBelowMinimum(t *testing.T) {
	h := newHarness(t)
	withFakeLobbyClock(h)
	ctx := context.Background()

	gameID := h.lobbyGame(t, "alice", "bob")
	_, err := h.games.LeaveGame(ctx, gameID, PlayerID("bob"))
	require.NoError(t, err)

	timer := h.lobby.Get(ctx, gameID)
	require.NotNil(t, timer)
	assert.False(t, timer.IsActive)
	assert.Equal(t, h.cfg.Game.LobbyDuration, timer.RemainingTime)
}

func TestLobbyExpiryAndAutoStart(t *testing.T) {
	h := newHarness(t)
	clock := withFakeLobbyClock(h)
	ctx := context.Background()

	gameID := h.lobbyGame(t, "alice", "bob")

	started, err := h.lobby.TryAutoStart(ctx, gameID)
	require.NoError(t, err)
	assert.False(t, started)

	clock.Advance(h.cfg.Game.LobbyDuration + time.Second)
	timer := h.lobby.Get(ctx, gameID)
	require.NotNil(t, timer)
	assert.True(t, timer.Expired)
	assert.False(t, timer.IsActive)
	assert.Zero(t, timer.RemainingTime)

	started, err = h.lobby.TryAutoStart(ctx, gameID)
	require.NoError(t, err)
	assert.True(t, started)

	game, err := h.repo.GetGame(ctx, gameID)
	require.NoError(t, err)
	assert.True(t, game.IsActive())
	assert.Equal(t, 1, game.CurrentRoundNumber)
	assert.Nil(t, h.lobby.Get(ctx, gameID))

	started, err = h.lobby.TryAutoStart(ctx, gameID)
	require.NoError(t, err)
	assert.False(t, started)
}

func TestLobbyExpiryWithoutEnoughPlayersDoesNotStart(t *testing.T) {
	h := newHarness(t)
	clock := withFakeLobbyClock(h)
	ctx := context.Background()

	gameID := h.lobbyGame(t, "alice", "bob")
	clock.Advance(h.cfg.Game.LobbyDuration + time.Second)
	require.True(t, h.lobby.Get(ctx, gameID).Expired)

	_, err := h.games.LeaveGame(ctx, gameID, PlayerID("bob"))
	require.NoError(t, err)

	started, err := h.lobby.TryAutoStart(ctx, gameID)
	require.NoError(t, err)
	assert.False(t, started)

	game, err := h.repo.GetGame(ctx, gameID)
	require.NoError(t, err)
	assert.True(t, game.IsLobby())
}

func TestLobbyStartsMatchOnItsOwn(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Game.LobbyDuration = 50 * time.Millisecond
	})
	ctx := context.Background()

	gameID := h.lobbyGame(t, "alice", "bob")

	require.Eventually(t, func() bool {
		game, err := h.repo.GetGame(ctx, gameID)
		return err == nil && game.IsActive()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.recorder.Snapshot()["lobby_auto_starts"])
}

func TestLobbySyncReportsDrift(t *testing.T) {
	h := newHarness(t)
	clock := withFakeLobbyClock(h)
	ctx := context.Background()

	gameID := h.lobbyGame(t, "alice", "bob")
	client := clock.Now().Add(-250 * time.Millisecond).UnixMilli()

	result := h.lobby.Sync(ctx, gameID, client)
	assert.Equal(t, clock.Now().UnixMilli(), result.ServerTime)
	assert.Equal(t, int64(250), result.Drift)
	require.NotNil(t, result.Timer)
	assert.Equal(t, clock.Now(), result.Timer.LastSyncTime.UTC())
}

func TestResetLobbyRequiresModerator(t *testing.T) {
	h := newHarness(t)
	clock := withFakeLobbyClock(h)
	ctx := context.Background()

	gameID := h.lobbyGame(t, "alice", "bob")
	clock.Advance(10 * time.Second)

	_, err := h.games.ResetLobby(ctx, gameID, PlayerID("bob"))
	assert.True(t, IsKind(err, KindNotModerator), "%v", err)

	timer, err := h.games.ResetLobby(ctx, gameID, PlayerID("alice"))
	require.NoError(t, err)
	assert.Equal(t, h.cfg.Game.LobbyDuration, timer.RemainingTime)
}
