package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"emojiparty/config"
	"emojiparty/models"
	"emojiparty/observability"
	"emojiparty/store"
)

// Publisher receives every stored event for push delivery.
type Publisher interface {
	Publish(event *models.Event)
}

// Batch is one long-poll or history response. LastEventID is the cursor the
// client sends back on its next request.
type Batch struct {
	Events      []models.Event `json:"events"`
	LastEventID int64          `json:"last_event_id"`
}

// Broadcaster appends events to the per-game history and pushes them to the
// publisher. Broadcasting never fails the caller.
type Broadcaster struct {
	repo      *store.Repository
	publisher Publisher
	recorder  observability.Recorder

	longPollWait time.Duration
	pollInterval time.Duration
	historyLimit int
	now          func() time.Time
}

func NewBroadcaster(repo *store.Repository, publisher Publisher, recorder observability.Recorder, cfg config.RealtimeConfig) *Broadcaster {
	return &Broadcaster{
		repo:         repo,
		publisher:    publisher,
		recorder:     recorder,
		longPollWait: cfg.LongPollWait,
		pollInterval: cfg.PollInterval,
		historyLimit: cfg.HistoryLimit,
		now:          time.Now,
	}
}

// Broadcast stores and publishes one event. It returns nil when the event
// could not be stored.
func (b *Broadcaster) Broadcast(ctx context.Context, gameID string, eventType models.EventType, data any) *models.Event {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Broadcast] game=%s type=%s: failed to marshal payload: %v", gameID, eventType, err)
		b.recorder.Incr(observability.BroadcastFailures)
		return nil
	}

	event, err := b.repo.AppendEvent(ctx, gameID, eventType, payload, b.now())
	if err != nil {
		log.Printf("[Broadcast] game=%s type=%s: %v", gameID, eventType, err)
		b.recorder.Incr(observability.BroadcastFailures)
		return nil
	}

	if b.publisher != nil {
		b.publisher.Publish(event)
	}
	return event
}

// History returns up to limit events newer than since.
func (b *Broadcaster) History(ctx context.Context, gameID string, since int64, limit int) (*Batch, error) {
	if limit <= 0 || limit > b.historyLimit {
		limit = b.historyLimit
	}

	events, err := b.repo.EventsSince(ctx, gameID, since, limit)
	if err != nil {
		return nil, serverError("failed to read event history", err)
	}
	return b.batch(ctx, gameID, since, events), nil
}

// Subscribe holds until events newer than since exist or the long-poll wait
// elapses. On timeout it returns an empty batch with the current cursor.
func (b *Broadcaster) Subscribe(ctx context.Context, gameID string, since int64) (*Batch, error) {
	deadline := time.NewTimer(b.longPollWait)
	defer deadline.Stop()
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		events, err := b.repo.EventsSince(ctx, gameID, since, b.historyLimit)
		if err != nil {
			log.Printf("[Subscribe] game=%s since=%d: %v", gameID, since, err)
		} else if len(events) > 0 {
			return b.batch(ctx, gameID, since, events), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return b.batch(ctx, gameID, since, nil), nil
		case <-ticker.C:
		}
	}
}

func (b *Broadcaster) batch(ctx context.Context, gameID string, since int64, events []models.Event) *Batch {
	if events == nil {
		events = []models.Event{}
	}
	if len(events) > 0 {
		return &Batch{Events: events, LastEventID: events[len(events)-1].ID}
	}

	cursor, err := b.repo.LatestEventID(ctx, gameID)
	if err != nil {
		log.Printf("[Subscribe] game=%s: latest event id unavailable: %v", gameID, err)
		cursor = since
	}
	return &Batch{Events: events, LastEventID: cursor}
}
