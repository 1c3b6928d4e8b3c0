package models

import (
	"time"
)

type RoundStatus string

const (
	RoundStatusWaiting RoundStatus = "waiting"
	RoundStatusActive  RoundStatus = "active"
	RoundStatusEnded   RoundStatus = "ended"
)

type EndReason string

const (
	EndReasonCorrectGuess EndReason = "correct-guess"
	EndReasonExplicit     EndReason = "explicit"
	EndReasonTimeout      EndReason = "timeout"
)

func (r EndReason) Valid() bool {
	switch r {
	case EndReasonCorrectGuess, EndReasonExplicit, EndReasonTimeout:
		return true
	}
	return false
}

type Round struct {
	ID                string       `json:"id"`
	GameID            string       `json:"game_id"`
	RoundNumber       int          `json:"round_number"`
	PresenterID       string       `json:"presenter_id"`
	PresenterUsername string       `json:"presenter_username"`
	Phrase            *Phrase      `json:"phrase,omitempty"`
	EmojiSequence     []string     `json:"emoji_sequence"`
	Guesses           []Guess      `json:"guesses,omitempty"`
	Status            RoundStatus  `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
	StartTime         *time.Time   `json:"start_time,omitempty"`
	EndTime           *time.Time   `json:"end_time,omitempty"`
	WinnerID          string       `json:"winner_id,omitempty"`
	EndReason         EndReason    `json:"end_reason,omitempty"`
	Result            *RoundResult `json:"result,omitempty"`
}

func (r *Round) IsWaiting() bool {
	return r.Status == RoundStatusWaiting
}

func (r *Round) IsActive() bool {
	return r.Status == RoundStatusActive
}

func (r *Round) IsEnded() bool {
	return r.Status == RoundStatusEnded
}

func (r *Round) InProgress() bool {
	return r.Status == RoundStatusWaiting || r.Status == RoundStatusActive
}

// Redacted returns a copy safe to show to guessers: the phrase id, text and
// hints stay hidden until the round has ended. Ids are slugs of the text.
func (r *Round) Redacted() *Round {
	cp := *r
	if r.Phrase != nil && !r.IsEnded() {
		cp.Phrase = &Phrase{
			Category:   r.Phrase.Category,
			Difficulty: r.Phrase.Difficulty,
		}
	}
	return &cp
}

type Guess struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"player_id"`
	Username   string    `json:"username"`
	Text       string    `json:"text"`
	Similarity float64   `json:"similarity"`
	IsCorrect  bool      `json:"is_correct"`
	Timestamp  time.Time `json:"timestamp"`
}

type RoundResult struct {
	RoundID        string         `json:"round_id"`
	RoundNumber    int            `json:"round_number"`
	WinnerID       string         `json:"winner_id,omitempty"`
	WinnerUsername string         `json:"winner_username,omitempty"`
	PresenterID    string         `json:"presenter_id"`
	CorrectAnswer  string         `json:"correct_answer"`
	TotalGuesses   int            `json:"total_guesses"`
	RoundDuration  time.Duration  `json:"round_duration"`
	EndReason      EndReason      `json:"end_reason"`
	Scores         map[string]int `json:"scores"`
}
