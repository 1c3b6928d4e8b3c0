package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"unicode/utf8"

	"emojiparty/config"
	"emojiparty/models"
	"emojiparty/observability"
	"emojiparty/store"

	"github.com/google/uuid"
)

// GuessOutcome is the evaluated guess. Result is set when this guess won
// the round.
type GuessOutcome struct {
	Guess  models.Guess        `json:"guess"`
	Won    bool                `json:"won"`
	Result *models.RoundResult `json:"result,omitempty"`
}

type GuessEvaluator struct {
	repo      *store.Repository
	rounds    *RoundService
	events    *Broadcaster
	recorder  observability.Recorder
	threshold float64
	maxLength int
}

func NewGuessEvaluator(repo *store.Repository, rounds *RoundService, events *Broadcaster, recorder observability.Recorder, cfg config.GameConfig) *GuessEvaluator {
	return &GuessEvaluator{
		repo:      repo,
		rounds:    rounds,
		events:    events,
		recorder:  recorder,
		threshold: cfg.MatchThreshold,
		maxLength: cfg.MaxGuessLength,
	}
}

// SubmitGuess scores a guess against the round's phrase. A correct guess
// ends the round with the guesser as winner unless another path ended it
// first, in which case the guess stays recorded without winning.
func (e *GuessEvaluator) SubmitGuess(ctx context.Context, gameID, roundID, text, playerID, username string) (*GuessOutcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, newError(KindValidation, "guess must not be empty")
	}
	if !utf8.ValidString(text) || utf8.RuneCountInString(text) > e.maxLength {
		return nil, newError(KindValidation, "guess must be valid text of at most %d characters", e.maxLength)
	}

	round, err := e.rounds.loadRound(ctx, gameID, roundID)
	if err != nil {
		return nil, err
	}
	if !round.IsActive() {
		return nil, newError(KindRoundNotActive, "round %s is %s", roundID, round.Status)
	}
	_, running, err := e.repo.TimerMarker(ctx, gameID, roundID)
	if err != nil {
		log.Printf("[SubmitGuess] game=%s round=%s: timer check failed: %v", gameID, roundID, err)
	}
	if err != nil || !running {
		return nil, newError(KindRoundExpired, "round %s has expired", roundID)
	}
	if round.PresenterID == playerID {
		return nil, newError(KindPresenterCannotGuess, "the presenter cannot guess")
	}

	player, err := e.repo.GetPlayer(ctx, gameID, playerID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !player.IsActive) {
		return nil, newError(KindPlayerNotInGame, "%s is not playing in game %s", username, gameID)
	}
	if err != nil {
		return nil, serverError("failed to load player", err)
	}
	if round.Phrase == nil {
		return nil, serverError("active round has no phrase", nil)
	}

	normalized := Normalize(text)
	first, err := e.repo.ClaimGuessText(ctx, gameID, roundID, playerID, normalized)
	if err != nil {
		return nil, serverError("failed to record guess", err)
	}
	if !first {
		return nil, newError(KindDuplicateGuess, "you already guessed %q", text)
	}

	similarity := Similarity(normalized, round.Phrase.Text)
	guess := models.Guess{
		ID:         uuid.NewString(),
		PlayerID:   playerID,
		Username:   player.Username,
		Text:       text,
		Similarity: similarity,
		IsCorrect:  similarity >= e.threshold,
		Timestamp:  e.rounds.now(),
	}
	if _, err := e.repo.AppendGuess(ctx, gameID, roundID, &guess); err != nil {
		if relErr := e.repo.ReleaseGuessText(ctx, gameID, roundID, playerID, normalized); relErr != nil {
			log.Printf("[SubmitGuess] round=%s: release claim: %v", roundID, relErr)
		}
		return nil, serverError("failed to record guess", err)
	}
	e.recorder.Incr(observability.GuessesAccepted)

	payload := map[string]any{
		"round_id":   roundID,
		"guess_id":   guess.ID,
		"player_id":  playerID,
		"username":   guess.Username,
		"is_correct": guess.IsCorrect,
		"similarity": guess.Similarity,
	}
	if !guess.IsCorrect {
		payload["text"] = guess.Text
	}
	e.events.Broadcast(ctx, gameID, models.EventGuessSubmitted, payload)

	outcome := &GuessOutcome{Guess: guess}
	if !guess.IsCorrect {
		return outcome, nil
	}

	e.recorder.Incr(observability.GuessesCorrect)
	result, err := e.rounds.EndRound(ctx, gameID, roundID, models.EndReasonCorrectGuess, playerID)
	switch {
	case err == nil:
		outcome.Won = true
		outcome.Result = result
	case IsKind(err, KindRoundAlreadyEnded):
		log.Printf("[SubmitGuess] game=%s round=%s: %s was correct but the round already ended", gameID, roundID, guess.Username)
	default:
		log.Printf("[SubmitGuess] game=%s round=%s: failed to end round: %v", gameID, roundID, err)
	}
	return outcome, nil
}
