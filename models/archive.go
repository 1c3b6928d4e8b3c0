package models

import (
	"time"

	"gorm.io/gorm"
)

// RoundRecord is the archived outcome of one finished round.
type RoundRecord struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	GameID         string         `json:"game_id" gorm:"index;not null"`
	RoundID        string         `json:"round_id" gorm:"uniqueIndex;not null"`
	RoundNumber    int            `json:"round_number" gorm:"not null"`
	PresenterID    string         `json:"presenter_id" gorm:"not null"`
	PhraseSlug     string         `json:"phrase_slug"`
	CorrectAnswer  string         `json:"correct_answer"`
	WinnerID       string         `json:"winner_id"`
	WinnerUsername string         `json:"winner_username"`
	EndReason      string         `json:"end_reason" gorm:"not null"`
	TotalGuesses   int            `json:"total_guesses" gorm:"not null;default:0"`
	DurationMs     int64          `json:"duration_ms" gorm:"not null;default:0"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}
