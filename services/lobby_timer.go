package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"emojiparty/config"
	"emojiparty/models"
	"emojiparty/observability"
	"emojiparty/store"
)

// LobbyController runs the pre-game countdown of each game and starts the
// match once it expires with enough players. Store failures are logged and
// read as "no timer".
type LobbyController struct {
	repo     *store.Repository
	rounds   *RoundService
	events   *Broadcaster
	recorder observability.Recorder
	cfg      config.GameConfig
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

func NewLobbyController(repo *store.Repository, rounds *RoundService, events *Broadcaster, recorder observability.Recorder, cfg config.GameConfig) *LobbyController {
	return &LobbyController{
		repo:     repo,
		rounds:   rounds,
		events:   events,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
		pending:  make(map[string]*time.Timer),
	}
}

// SyncResult carries the server clock next to the client's for drift
// correction.
type SyncResult struct {
	ServerTime int64              `json:"server_time"`
	ClientTime int64              `json:"client_time"`
	Drift      int64              `json:"drift"`
	Timer      *models.LobbyTimer `json:"timer"`
}

// derive recomputes the remaining time and reports whether the timer just
// ran out.
func (c *LobbyController) derive(t *models.LobbyTimer) bool {
	if !t.IsActive {
		if t.Expired {
			t.RemainingTime = 0
		} else {
			t.RemainingTime = t.Duration
		}
		return false
	}

	remaining := t.Duration - c.now().Sub(t.StartTime)
	if remaining > 0 {
		t.RemainingTime = remaining
		return false
	}
	t.RemainingTime = 0
	t.IsActive = false
	t.Expired = true
	return true
}

func (c *LobbyController) save(ctx context.Context, gameID string, t *models.LobbyTimer) {
	if err := c.repo.PutLobbyTimer(ctx, gameID, t); err != nil {
		log.Printf("[LobbyTimer] game=%s: %v", gameID, err)
		c.recorder.Incr(observability.StoreFailures)
	}
}

func (c *LobbyController) publish(ctx context.Context, gameID string, t *models.LobbyTimer) {
	c.events.Broadcast(ctx, gameID, models.EventLobbyTimer, map[string]any{
		"is_active":    t.IsActive,
		"expired":      t.Expired,
		"remaining_ms": t.RemainingTime.Milliseconds(),
		"duration_ms":  t.Duration.Milliseconds(),
		"start_time":   t.StartTime.UnixMilli(),
	})
}

// Create starts a lobby countdown. It only runs once playerCount reaches the
// minimum.
func (c *LobbyController) Create(ctx context.Context, gameID string, playerCount int) *models.LobbyTimer {
	now := c.now()
	t := &models.LobbyTimer{
		IsActive:      playerCount >= c.cfg.MinPlayers,
		StartTime:     now,
		Duration:      c.cfg.LobbyDuration,
		RemainingTime: c.cfg.LobbyDuration,
		LastSyncTime:  now,
	}
	c.save(ctx, gameID, t)
	c.arm(gameID, t)
	c.publish(ctx, gameID, t)
	return t
}

// Get returns the current timer, or nil when the game has none.
func (c *LobbyController) Get(ctx context.Context, gameID string) *models.LobbyTimer {
	t, err := c.repo.GetLobbyTimer(ctx, gameID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[LobbyTimer] game=%s: %v", gameID, err)
			c.recorder.Incr(observability.StoreFailures)
		}
		return nil
	}
	if c.derive(t) {
		c.save(ctx, gameID, t)
	}
	return t
}

// Reset restarts the countdown from its full duration. It leaves the timer
// alone when reset-on-join is disabled.
func (c *LobbyController) Reset(ctx context.Context, gameID string, playerCount int) *models.LobbyTimer {
	if !c.cfg.LobbyResetOnJoin {
		return c.Get(ctx, gameID)
	}
	return c.restart(ctx, gameID, playerCount)
}

func (c *LobbyController) restart(ctx context.Context, gameID string, playerCount int) *models.LobbyTimer {
	t, err := c.repo.GetLobbyTimer(ctx, gameID)
	if err != nil {
		return c.Create(ctx, gameID, playerCount)
	}
	now := c.now()
	t.IsActive = playerCount >= c.cfg.MinPlayers
	t.Expired = false
	t.StartTime = now
	t.Duration = c.cfg.LobbyDuration
	t.RemainingTime = t.Duration
	c.save(ctx, gameID, t)
	c.arm(gameID, t)
	c.publish(ctx, gameID, t)
	return t
}

// PlayerJoined updates the countdown after a join: an idle timer starts once
// the minimum is reached and a running one is reset.
func (c *LobbyController) PlayerJoined(ctx context.Context, gameID string, playerCount int) *models.LobbyTimer {
	t := c.Get(ctx, gameID)
	switch {
	case t == nil:
		return c.Create(ctx, gameID, playerCount)
	case !t.IsActive && !t.Expired && playerCount >= c.cfg.MinPlayers:
		return c.restart(ctx, gameID, playerCount)
	case t.IsActive:
		return c.Reset(ctx, gameID, playerCount)
	}
	return t
}

// PlayerLeft pauses a running countdown when the lobby drops below the
// minimum.
func (c *LobbyController) PlayerLeft(ctx context.Context, gameID string, playerCount int) *models.LobbyTimer {
	t := c.Get(ctx, gameID)
	if t == nil || !t.IsActive || playerCount >= c.cfg.MinPlayers {
		return t
	}
	t.IsActive = false
	t.RemainingTime = t.Duration
	c.disarm(gameID)
	c.save(ctx, gameID, t)
	c.publish(ctx, gameID, t)
	return t
}

// Stop deactivates and deletes the timer.
func (c *LobbyController) Stop(ctx context.Context, gameID string) {
	c.disarm(gameID)
	if err := c.repo.DeleteLobbyTimer(ctx, gameID); err != nil {
		log.Printf("[LobbyTimer] game=%s: %v", gameID, err)
		c.recorder.Incr(observability.StoreFailures)
	}
}

// Sync records a client clock sample and returns the server time, the drift
// and the timer.
func (c *LobbyController) Sync(ctx context.Context, gameID string, clientTime int64) *SyncResult {
	now := c.now()
	t := c.Get(ctx, gameID)
	if t != nil {
		t.LastSyncTime = now
		c.save(ctx, gameID, t)
	}
	return &SyncResult{
		ServerTime: now.UnixMilli(),
		ClientTime: clientTime,
		Drift:      now.UnixMilli() - clientTime,
		Timer:      t,
	}
}

// TryAutoStart starts the match when the countdown has expired, enough
// players are present and the game is still in the lobby. It returns false
// in every other case, including when the game already left the lobby.
func (c *LobbyController) TryAutoStart(ctx context.Context, gameID string) (bool, error) {
	t := c.Get(ctx, gameID)
	if t == nil || !t.Expired {
		return false, nil
	}

	game, err := c.repo.GetGame(ctx, gameID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[TryAutoStart] game=%s: %v", gameID, err)
		}
		return false, nil
	}
	if !game.IsLobby() {
		return false, nil
	}

	active, err := c.rounds.ActivePlayers(ctx, gameID)
	if err != nil {
		log.Printf("[TryAutoStart] game=%s: %v", gameID, err)
		return false, nil
	}
	if len(active) < c.cfg.MinPlayers {
		return false, nil
	}

	if _, err := c.rounds.BeginMatch(ctx, gameID); err != nil {
		switch KindOf(err) {
		case KindGameNotInLobby, KindNotEnoughPlayers:
			return false, nil
		}
		return false, err
	}

	c.Stop(ctx, gameID)
	c.recorder.Incr(observability.LobbyAutoStarts)
	log.Printf("[TryAutoStart] game=%s: match started with %d players", gameID, len(active))
	return true, nil
}

// arm schedules a server-side auto-start check for when t runs out.
func (c *LobbyController) arm(gameID string, t *models.LobbyTimer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.pending[gameID]; ok {
		prev.Stop()
		delete(c.pending, gameID)
	}
	if c.closed || !t.IsActive {
		return
	}

	wait := t.Duration - c.now().Sub(t.StartTime)
	c.pending[gameID] = time.AfterFunc(wait, func() {
		c.mu.Lock()
		delete(c.pending, gameID)
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.TryAutoStart(ctx, gameID); err != nil {
			log.Printf("[TryAutoStart] game=%s: %v", gameID, err)
		}
	})
}

func (c *LobbyController) disarm(gameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.pending[gameID]; ok {
		t.Stop()
		delete(c.pending, gameID)
	}
}

// Shutdown cancels every scheduled auto-start.
func (c *LobbyController) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for gameID, t := range c.pending {
		t.Stop()
		delete(c.pending, gameID)
	}
}
