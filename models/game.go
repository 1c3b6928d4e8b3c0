package models

import (
	"time"

	"gorm.io/gorm"
)

type GameStatus string

const (
	GameStatusLobby  GameStatus = "lobby"
	GameStatusActive GameStatus = "active"
	GameStatusPaused GameStatus = "paused"
	GameStatusEnded  GameStatus = "ended"
)

// Game is the live session record kept in Redis.
type Game struct {
	ID                 string     `json:"id"`
	Community          string     `json:"community"`
	Status             GameStatus `json:"status"`
	CurrentRoundNumber int        `json:"current_round_number"`
	MaxRounds          int        `json:"max_rounds"`
	ModeratorID        string     `json:"moderator_id"`
	CurrentRoundID     string     `json:"current_round_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
}

func (g *Game) IsLobby() bool {
	return g.Status == GameStatusLobby
}

func (g *Game) IsActive() bool {
	return g.Status == GameStatusActive
}

func (g *Game) IsEnded() bool {
	return g.Status == GameStatusEnded
}

// GameRecord is the archived summary of a finished game.
type GameRecord struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	GameID         string         `json:"game_id" gorm:"uniqueIndex;not null"`
	Community      string         `json:"community" gorm:"index;not null"`
	RoundsPlayed   int            `json:"rounds_played" gorm:"not null;default:0"`
	WinnerUsername string         `json:"winner_username"`
	WinnerScore    int            `json:"winner_score" gorm:"not null;default:0"`
	StartedAt      *time.Time     `json:"started_at"`
	EndedAt        *time.Time     `json:"ended_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Rounds []RoundRecord `json:"rounds,omitempty" gorm:"foreignKey:GameID;references:GameID"`
}
