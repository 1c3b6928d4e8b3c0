package services

import (
	"context"
	"log"
	"sync"
	"time"

	"emojiparty/config"
	"emojiparty/models"
	"emojiparty/store"
)

// ExpiryFunc is called once when a round's countdown reaches zero.
type ExpiryFunc func(ctx context.Context, gameID, roundID string)

type timerTask struct {
	ctx    context.Context
	cancel context.CancelFunc
	endsAt time.Time
}

// RoundTimer owns one countdown goroutine per active round. A task stops when
// it is cancelled, when its marker disappears from the store, or after it
// has fired the expiry callback.
type RoundTimer struct {
	repo     *store.Repository
	events   *Broadcaster
	onExpire ExpiryFunc
	tick     time.Duration
	buffer   time.Duration

	mu     sync.Mutex
	tasks  map[string]*timerTask
	closed bool
	wg     sync.WaitGroup
}

func NewRoundTimer(repo *store.Repository, events *Broadcaster, cfg config.GameConfig, onExpire ExpiryFunc) *RoundTimer {
	return &RoundTimer{
		repo:     repo,
		events:   events,
		onExpire: onExpire,
		tick:     cfg.TickInterval,
		buffer:   cfg.TimerBuffer,
		tasks:    make(map[string]*timerTask),
	}
}

func taskKey(gameID, roundID string) string {
	return gameID + "/" + roundID
}

// Start stores the round's end-time marker and begins ticking. It returns
// the end time.
func (t *RoundTimer) Start(ctx context.Context, gameID, roundID string, duration time.Duration) (time.Time, error) {
	endsAt := time.Now().Add(duration)
	if err := t.repo.SetTimerMarker(ctx, gameID, roundID, endsAt, duration+t.buffer); err != nil {
		return time.Time{}, err
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	key := taskKey(gameID, roundID)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return endsAt, nil
	}
	if prev, ok := t.tasks[key]; ok {
		prev.cancel()
	}
	task := &timerTask{ctx: taskCtx, cancel: cancel, endsAt: endsAt}
	t.tasks[key] = task
	t.wg.Add(1)
	t.mu.Unlock()

	log.Printf("[RoundTimer] game=%s round=%s: started for %v", gameID, roundID, duration)
	go t.run(task, gameID, roundID)
	return endsAt, nil
}

func (t *RoundTimer) run(task *timerTask, gameID, roundID string) {
	defer t.wg.Done()
	defer task.cancel()
	defer t.forget(gameID, roundID, task)

	ctx := task.ctx

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[RoundTimer] game=%s round=%s: cancelled", gameID, roundID)
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}

		remaining := time.Until(task.endsAt)
		if remaining <= 0 {
			log.Printf("[RoundTimer] game=%s round=%s: expired", gameID, roundID)
			// The task context is cancelled once run returns.
			t.forget(gameID, roundID, task)

			expireCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			t.onExpire(expireCtx, gameID, roundID)
			cancel()
			return
		}

		_, exists, err := t.repo.TimerMarker(ctx, gameID, roundID)
		if err != nil {
			log.Printf("[RoundTimer] game=%s round=%s: marker check failed, keeping local deadline: %v", gameID, roundID, err)
		} else if !exists {
			log.Printf("[RoundTimer] game=%s round=%s: marker gone, stopping", gameID, roundID)
			return
		}

		t.events.Broadcast(ctx, gameID, models.EventTimerUpdate, map[string]any{
			"round_id":     roundID,
			"remaining_ms": remaining.Milliseconds(),
			"ends_at":      task.endsAt.UnixMilli(),
		})
	}
}

func (t *RoundTimer) forget(gameID, roundID string, task *timerTask) {
	key := taskKey(gameID, roundID)
	t.mu.Lock()
	if t.tasks[key] == task {
		delete(t.tasks, key)
	}
	t.mu.Unlock()
}

// Stop deletes the marker and cancels the round's task. Stopping a round
// without a running task only deletes the marker.
func (t *RoundTimer) Stop(ctx context.Context, gameID, roundID string) {
	key := taskKey(gameID, roundID)
	t.mu.Lock()
	if task, ok := t.tasks[key]; ok {
		task.cancel()
		delete(t.tasks, key)
	}
	t.mu.Unlock()

	if err := t.repo.DeleteTimerMarker(ctx, gameID, roundID); err != nil {
		log.Printf("[RoundTimer] game=%s round=%s: %v", gameID, roundID, err)
	}
}

// Running reports whether a task is ticking for the round.
func (t *RoundTimer) Running(gameID, roundID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tasks[taskKey(gameID, roundID)]
	return ok
}

// Shutdown cancels every task and waits for them to exit or ctx to end.
// Markers are left in place so guesses keep their deadline semantics.
func (t *RoundTimer) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	for key, task := range t.tasks {
		task.cancel()
		delete(t.tasks, key)
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
