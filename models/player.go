package models

import (
	"time"
)

type Player struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Score       int       `json:"score"`
	IsActive    bool      `json:"is_active"`
	IsModerator bool      `json:"is_moderator"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// PlayerStats is the per-community record kept next to the leaderboard.
type PlayerStats struct {
	Username        string `json:"username"`
	Points          int64  `json:"points"`
	Wins            int64  `json:"wins"`
	CorrectGuesses  int64  `json:"correct_guesses"`
	RoundsPresented int64  `json:"rounds_presented"`
}

type LeaderboardEntry struct {
	Rank     int64  `json:"rank"`
	Username string `json:"username"`
	Score    int64  `json:"score"`
}
