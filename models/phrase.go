package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Phrase is the catalog entry a presenter encodes in emojis.
type Phrase struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Category   string     `json:"category"`
	Difficulty Difficulty `json:"difficulty"`
	Hints      []string   `json:"hints,omitempty"`
}

// PhraseRecord is the catalog row in Postgres.
type PhraseRecord struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	Slug       string         `json:"slug" gorm:"uniqueIndex;not null"`
	Text       string         `json:"text" gorm:"not null"`
	Category   string         `json:"category" gorm:"index;not null;default:'general'"`
	Difficulty string         `json:"difficulty" gorm:"not null;default:'easy'"`
	Hints      datatypes.JSON `json:"hints"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}

func (r *PhraseRecord) Phrase() Phrase {
	var hints []string
	if len(r.Hints) > 0 {
		_ = json.Unmarshal(r.Hints, &hints)
	}
	return Phrase{
		ID:         r.Slug,
		Text:       r.Text,
		Category:   r.Category,
		Difficulty: Difficulty(r.Difficulty),
		Hints:      hints,
	}
}

// SessionPhraseTracker remembers which phrases a game already used.
type SessionPhraseTracker struct {
	UsedIDs          map[string]bool    `json:"used_ids"`
	CategoryCounts   map[string]int     `json:"category_counts"`
	DifficultyCounts map[Difficulty]int `json:"difficulty_counts"`
}

func NewSessionPhraseTracker() *SessionPhraseTracker {
	return &SessionPhraseTracker{
		UsedIDs:          make(map[string]bool),
		CategoryCounts:   make(map[string]int),
		DifficultyCounts: make(map[Difficulty]int),
	}
}
