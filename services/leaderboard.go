package services

import (
	"context"
	"errors"
	"log"

	"emojiparty/config"
	"emojiparty/models"
	"emojiparty/observability"
	"emojiparty/store"
)

// ScoreLedger writes per-game scores and the community leaderboard. Writes
// are best-effort: failures are logged and counted, never returned.
type ScoreLedger struct {
	repo            *store.Repository
	recorder        observability.Recorder
	correctPoints   int
	presenterPoints int
}

func NewScoreLedger(repo *store.Repository, recorder observability.Recorder, cfg config.GameConfig) *ScoreLedger {
	return &ScoreLedger{
		repo:            repo,
		recorder:        recorder,
		correctPoints:   cfg.CorrectGuessPoints,
		presenterPoints: cfg.PresenterPoints,
	}
}

// AwardCorrectGuess credits the guesser and the presenter of a won round.
func (l *ScoreLedger) AwardCorrectGuess(ctx context.Context, gameID, community string, winner, presenter *models.Player) {
	l.credit(ctx, gameID, community, winner, l.correctPoints, store.StatCorrectGuesses)
	l.credit(ctx, gameID, community, presenter, l.presenterPoints)
}

func (l *ScoreLedger) credit(ctx context.Context, gameID, community string, player *models.Player, points int, stats ...store.StatField) {
	if player == nil {
		return
	}
	if _, err := l.repo.IncrScore(ctx, gameID, player.ID, points); err != nil {
		log.Printf("[ScoreLedger] game=%s player=%s: %v", gameID, player.ID, err)
		l.recorder.Incr(observability.ScoringFailures)
	}
	if player.Username == "" {
		return
	}
	if err := l.repo.AddLeaderboardPoints(ctx, community, player.Username, points, stats...); err != nil {
		log.Printf("[ScoreLedger] community=%s user=%s: %v", community, player.Username, err)
		l.recorder.Incr(observability.ScoringFailures)
	}
}

// RecordPresented counts a played round for the presenter.
func (l *ScoreLedger) RecordPresented(ctx context.Context, community, username string) {
	l.bump(ctx, community, username, store.StatRoundsPresented)
}

// RecordWin counts a won game.
func (l *ScoreLedger) RecordWin(ctx context.Context, community, username string) {
	l.bump(ctx, community, username, store.StatWins)
}

func (l *ScoreLedger) bump(ctx context.Context, community, username string, field store.StatField) {
	if username == "" {
		return
	}
	if err := l.repo.AddLeaderboardPoints(ctx, community, username, 0, field); err != nil {
		log.Printf("[ScoreLedger] community=%s user=%s: %v", community, username, err)
		l.recorder.Incr(observability.ScoringFailures)
	}
}

// Top returns the best scores of a community, or an empty list when the
// leaderboard cannot be read.
func (l *ScoreLedger) Top(ctx context.Context, community string, limit int) []models.LeaderboardEntry {
	entries, err := l.repo.TopScores(ctx, community, limit)
	if err != nil {
		log.Printf("[Leaderboard] community=%s: %v", community, err)
		l.recorder.Incr(observability.StoreFailures)
		return []models.LeaderboardEntry{}
	}
	return entries
}

type PlayerStanding struct {
	models.LeaderboardEntry
	Stats *models.PlayerStats `json:"stats,omitempty"`
}

// Standing returns the rank of one player and, when available, their stats.
func (l *ScoreLedger) Standing(ctx context.Context, community, username string) (*PlayerStanding, error) {
	entry, err := l.repo.Rank(ctx, community, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindPlayerNotFound, "%s has no score in %s", username, community)
	}
	if err != nil {
		return nil, serverError("failed to read leaderboard", err)
	}

	standing := &PlayerStanding{LeaderboardEntry: *entry}
	stats, err := l.repo.Stats(ctx, community, username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("[Leaderboard] community=%s user=%s: stats unavailable: %v", community, username, err)
	}
	standing.Stats = stats
	return standing, nil
}
