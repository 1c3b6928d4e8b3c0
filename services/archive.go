package services

import (
	"context"

	"emojiparty/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Archiver persists finished rounds and games outside the live store.
type Archiver interface {
	ArchiveRound(ctx context.Context, round *models.Round, result *models.RoundResult) error
	ArchiveGame(ctx context.Context, game *models.Game, summary *GameSummary) error
}

// NewArchive returns a Postgres archiver, or one that drops everything when
// db is nil.
func NewArchive(db *gorm.DB) Archiver {
	if db == nil {
		return nopArchive{}
	}
	return &gormArchive{db: db}
}

type gormArchive struct {
	db *gorm.DB
}

func (a *gormArchive) ArchiveRound(ctx context.Context, round *models.Round, result *models.RoundResult) error {
	record := models.RoundRecord{
		GameID:         round.GameID,
		RoundID:        round.ID,
		RoundNumber:    round.RoundNumber,
		PresenterID:    round.PresenterID,
		CorrectAnswer:  result.CorrectAnswer,
		WinnerID:       result.WinnerID,
		WinnerUsername: result.WinnerUsername,
		EndReason:      string(result.EndReason),
		TotalGuesses:   result.TotalGuesses,
		DurationMs:     result.RoundDuration.Milliseconds(),
	}
	if round.Phrase != nil {
		record.PhraseSlug = round.Phrase.ID
	}

	return a.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "round_id"}}, DoNothing: true}).
		Create(&record).Error
}

func (a *gormArchive) ArchiveGame(ctx context.Context, game *models.Game, summary *GameSummary) error {
	record := models.GameRecord{
		GameID:       game.ID,
		Community:    game.Community,
		RoundsPlayed: game.CurrentRoundNumber,
		StartedAt:    game.StartedAt,
		EndedAt:      game.EndedAt,
	}
	if summary != nil && summary.Winner != nil {
		record.WinnerUsername = summary.Winner.Username
		record.WinnerScore = summary.Winner.Score
	}

	return a.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"rounds_played", "winner_username", "winner_score", "ended_at", "updated_at"}),
		}).
		Create(&record).Error
}

type nopArchive struct{}

func (nopArchive) ArchiveRound(context.Context, *models.Round, *models.RoundResult) error { return nil }
func (nopArchive) ArchiveGame(context.Context, *models.Game, *GameSummary) error         { return nil }
