package models

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventGameCreated    EventType = "GAME_CREATED"
	EventPlayerJoined   EventType = "PLAYER_JOINED"
	EventPlayerLeft     EventType = "PLAYER_LEFT"
	EventModeratorSet   EventType = "MODERATOR_CHANGED"
	EventGameStarted    EventType = "GAME_STARTED"
	EventGameEnded      EventType = "GAME_ENDED"
	EventRoundStarted   EventType = "ROUND_STARTED"
	EventEmojisSent     EventType = "EMOJIS_SUBMITTED"
	EventGuessSubmitted EventType = "GUESS_SUBMITTED"
	EventTimerUpdate    EventType = "TIMER_UPDATE"
	EventRoundEnded     EventType = "ROUND_ENDED"
	EventLobbyTimer     EventType = "LOBBY_TIMER_UPDATE"
)

// Event is one entry of a game's replayable history. ID is monotonic per
// game and doubles as the client cursor.
type Event struct {
	ID        int64           `json:"id"`
	Type      EventType       `json:"type"`
	GameID    string          `json:"game_id"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// LobbyTimer is the pre-game countdown. RemainingTime and Expired are
// derived from StartTime on every read.
type LobbyTimer struct {
	IsActive      bool          `json:"is_active"`
	StartTime     time.Time     `json:"start_time"`
	Duration      time.Duration `json:"duration"`
	RemainingTime time.Duration `json:"remaining_time"`
	LastSyncTime  time.Time     `json:"last_sync_time"`
	Expired       bool          `json:"expired"`
}
