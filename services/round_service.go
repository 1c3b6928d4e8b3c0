package services

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"emojiparty/config"
	"emojiparty/models"
	"emojiparty/observability"
	"emojiparty/store"

	"github.com/google/uuid"
)

const maxEmojiBytes = 32

// GameSummary is the final standing of a game.
type GameSummary struct {
	GameID       string          `json:"game_id"`
	Reason       string          `json:"reason"`
	RoundsPlayed int             `json:"rounds_played"`
	FinalScores  []models.Player `json:"final_scores"`
	Winner       *models.Player  `json:"winner,omitempty"`
}

// RoundService owns the round state machine of every game:
// waiting -> active -> ended.
type RoundService struct {
	repo     *store.Repository
	selector *PhraseSelector
	events   *Broadcaster
	ledger   *ScoreLedger
	archive  Archiver
	recorder observability.Recorder
	timer    *RoundTimer
	cfg      config.GameConfig
	now      func() time.Time

	mu       sync.Mutex
	advances map[string]*time.Timer
	closed   bool
}

func NewRoundService(
	repo *store.Repository,
	selector *PhraseSelector,
	events *Broadcaster,
	ledger *ScoreLedger,
	archive Archiver,
	recorder observability.Recorder,
	cfg config.GameConfig,
) *RoundService {
	s := &RoundService{
		repo:     repo,
		selector: selector,
		events:   events,
		ledger:   ledger,
		archive:  archive,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
		advances: make(map[string]*time.Timer),
	}
	s.timer = NewRoundTimer(repo, events, cfg, s.expireRound)
	return s
}

func (s *RoundService) Timer() *RoundTimer {
	return s.timer
}

// ActivePlayers returns the active players of a game in rotation order.
func (s *RoundService) ActivePlayers(ctx context.Context, gameID string) ([]models.Player, error) {
	players, err := s.repo.Players(ctx, gameID)
	if err != nil {
		return nil, err
	}
	active := players[:0]
	for _, p := range players {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active, nil
}

// PresenterFor picks the presenter of a round from players in rotation
// order.
func PresenterFor(active []models.Player, roundNumber int) (models.Player, bool) {
	if len(active) == 0 || roundNumber < 1 {
		return models.Player{}, false
	}
	return active[(roundNumber-1)%len(active)], true
}

func (s *RoundService) loadGame(ctx context.Context, gameID string) (*models.Game, error) {
	game, err := s.repo.GetGame(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindGameNotFound, "game %s not found", gameID)
	}
	if err != nil {
		return nil, serverError("failed to load game", err)
	}
	return game, nil
}

func (s *RoundService) loadRound(ctx context.Context, gameID, roundID string) (*models.Round, error) {
	round, err := s.repo.GetRound(ctx, gameID, roundID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindRoundNotFound, "round %s not found", roundID)
	}
	if err != nil {
		return nil, serverError("failed to load round", err)
	}
	return round, nil
}

// currentInProgress returns the game's current round if it is still
// waiting or active.
func (s *RoundService) currentInProgress(ctx context.Context, game *models.Game) (*models.Round, error) {
	if game.CurrentRoundID == "" {
		return nil, nil
	}
	round, err := s.repo.GetRound(ctx, game.ID, game.CurrentRoundID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, serverError("failed to load current round", err)
	}
	if !round.InProgress() {
		return nil, nil
	}
	return round, nil
}

// casError keeps GameErrors raised inside a compare-and-set callback and
// maps everything else.
func casError(err error, notFound ErrorKind, message string) error {
	var ge *GameError
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, store.ErrNotFound) {
		return newError(notFound, "%s", message)
	}
	return serverError(message, err)
}

// StartRound creates round roundNumber in the waiting state with the
// presenter chosen by rotation.
func (s *RoundService) StartRound(ctx context.Context, gameID string, roundNumber int) (*models.Round, error) {
	if roundNumber < 1 {
		return nil, newError(KindValidation, "round number must be positive")
	}

	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !game.IsActive() {
		return nil, newError(KindGameNotActive, "game %s is %s", gameID, game.Status)
	}
	current, err := s.currentInProgress(ctx, game)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, newError(KindRoundInProgress, "round %d is still %s", current.RoundNumber, current.Status)
	}

	active, err := s.ActivePlayers(ctx, gameID)
	if err != nil {
		return nil, serverError("failed to load players", err)
	}
	presenter, ok := PresenterFor(active, roundNumber)
	if !ok {
		return nil, newError(KindNoActivePlayers, "game %s has no active players", gameID)
	}

	round := &models.Round{
		ID:                uuid.NewString(),
		GameID:            gameID,
		RoundNumber:       roundNumber,
		PresenterID:       presenter.ID,
		PresenterUsername: presenter.Username,
		EmojiSequence:     []string{},
		Status:            models.RoundStatusWaiting,
		CreatedAt:         s.now(),
	}

	previousID := game.CurrentRoundID
	_, err = s.repo.UpdateGame(ctx, gameID, func(g *models.Game) error {
		if !g.IsActive() {
			return newError(KindGameNotActive, "game %s is %s", gameID, g.Status)
		}
		if g.CurrentRoundID != previousID {
			return newError(KindRoundInProgress, "another round was started concurrently")
		}
		g.CurrentRoundID = round.ID
		g.CurrentRoundNumber = roundNumber
		return nil
	})
	if err != nil {
		return nil, casError(err, KindGameNotFound, "failed to start round")
	}

	if err := s.repo.CreateRound(ctx, round); err != nil {
		return nil, serverError("failed to store round", err)
	}

	log.Printf("[StartRound] game=%s round=%d presenter=%s (%d active players)", gameID, roundNumber, presenter.Username, len(active))
	s.recorder.Incr(observability.RoundsStarted)
	s.events.Broadcast(ctx, gameID, models.EventRoundStarted, map[string]any{
		"round_id":           round.ID,
		"round_number":       round.RoundNumber,
		"max_rounds":         game.MaxRounds,
		"presenter_id":       round.PresenterID,
		"presenter_username": round.PresenterUsername,
	})
	return round, nil
}

// ValidateEmojis checks a presenter's emoji sequence.
func ValidateEmojis(sequence []string, maxEmojis int) ([]string, error) {
	if len(sequence) == 0 {
		return nil, newError(KindValidation, "at least one emoji is required")
	}
	if len(sequence) > maxEmojis {
		return nil, newError(KindValidation, "at most %d emojis are allowed", maxEmojis)
	}

	cleaned := make([]string, 0, len(sequence))
	for _, e := range sequence {
		e = strings.TrimSpace(e)
		if e == "" || len(e) > maxEmojiBytes || !utf8.ValidString(e) {
			return nil, newError(KindValidation, "invalid emoji %q", e)
		}
		for _, r := range e {
			if unicode.IsLetter(r) || unicode.IsSpace(r) {
				return nil, newError(KindValidation, "emoji %q contains text", e)
			}
		}
		cleaned = append(cleaned, e)
	}
	return cleaned, nil
}

// SubmitEmojis assigns a phrase to a waiting round, activates it and starts
// its countdown. Only the presenter may call it.
func (s *RoundService) SubmitEmojis(ctx context.Context, gameID, roundID, playerID string, sequence []string) (*models.Round, error) {
	emojis, err := ValidateEmojis(sequence, s.cfg.MaxEmojis)
	if err != nil {
		return nil, err
	}

	round, err := s.loadRound(ctx, gameID, roundID)
	if err != nil {
		return nil, err
	}
	if !round.IsWaiting() {
		return nil, newError(KindRoundNotWaiting, "round %s is %s", roundID, round.Status)
	}
	if round.PresenterID != playerID {
		return nil, newError(KindNotPresenter, "only %s can submit emojis for this round", round.PresenterUsername)
	}

	tracker, err := s.repo.Tracker(ctx, gameID)
	if err != nil {
		return nil, serverError("failed to load phrase history", err)
	}
	phrase := s.selector.SelectRandomPhrase(tracker, SelectOptions{})
	if phrase == nil {
		return nil, newError(KindNoPhraseAvailable, "no phrase available for game %s", gameID)
	}

	startedAt := s.now()
	updated, err := s.repo.UpdateRound(ctx, gameID, roundID, func(r *models.Round) error {
		if !r.IsWaiting() {
			return newError(KindRoundNotWaiting, "round %s is %s", roundID, r.Status)
		}
		r.Phrase = phrase
		r.EmojiSequence = emojis
		r.Status = models.RoundStatusActive
		r.StartTime = &startedAt
		return nil
	})
	if err != nil {
		return nil, casError(err, KindRoundNotFound, "failed to activate round")
	}

	s.selector.MarkUsed(tracker, phrase.ID, phrase.Category, phrase.Difficulty)
	if err := s.repo.PutTracker(ctx, gameID, tracker); err != nil {
		log.Printf("[SubmitEmojis] game=%s: phrase history not saved: %v", gameID, err)
		s.recorder.Incr(observability.StoreFailures)
	}

	endsAt, err := s.timer.Start(ctx, gameID, roundID, s.cfg.RoundDuration)
	if err != nil {
		log.Printf("[SubmitEmojis] game=%s round=%s: timer failed, ending round: %v", gameID, roundID, err)
		if _, endErr := s.EndRound(ctx, gameID, roundID, models.EndReasonExplicit, ""); endErr != nil {
			log.Printf("[SubmitEmojis] game=%s round=%s: %v", gameID, roundID, endErr)
		}
		return nil, serverError("failed to start round timer", err)
	}

	log.Printf("[SubmitEmojis] game=%s round=%d: %d emojis, phrase=%s", gameID, updated.RoundNumber, len(emojis), phrase.ID)
	s.events.Broadcast(ctx, gameID, models.EventEmojisSent, map[string]any{
		"round_id":    roundID,
		"emojis":      emojis,
		"category":    phrase.Category,
		"difficulty":  phrase.Difficulty,
		"start_time":  startedAt.UnixMilli(),
		"ends_at":     endsAt.UnixMilli(),
		"duration_ms": s.cfg.RoundDuration.Milliseconds(),
	})
	return updated, nil
}

// EndRound finalizes a round exactly once. The caller that loses the race
// gets KindRoundAlreadyEnded. When winnerID is set the winner and the
// presenter are credited before the score snapshot is taken.
func (s *RoundService) EndRound(ctx context.Context, gameID, roundID string, reason models.EndReason, winnerID string) (*models.RoundResult, error) {
	if !reason.Valid() {
		return nil, newError(KindValidation, "invalid end reason %q", reason)
	}

	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	endedAt := s.now()
	round, err := s.repo.UpdateRound(ctx, gameID, roundID, func(r *models.Round) error {
		if r.IsEnded() {
			return newError(KindRoundAlreadyEnded, "round %s has already ended", roundID)
		}
		r.Status = models.RoundStatusEnded
		r.EndTime = &endedAt
		r.EndReason = reason
		if winnerID != "" {
			r.WinnerID = winnerID
		}
		return nil
	})
	if err != nil {
		return nil, casError(err, KindRoundNotFound, "failed to end round")
	}

	s.timer.Stop(ctx, gameID, roundID)

	result := &models.RoundResult{
		RoundID:     round.ID,
		RoundNumber: round.RoundNumber,
		WinnerID:    round.WinnerID,
		PresenterID: round.PresenterID,
		EndReason:   reason,
	}
	if round.Phrase != nil {
		result.CorrectAnswer = round.Phrase.Text
	}
	if round.StartTime != nil {
		result.RoundDuration = endedAt.Sub(*round.StartTime)
		s.ledger.RecordPresented(ctx, game.Community, round.PresenterUsername)
	}

	if round.WinnerID != "" {
		winner, err := s.repo.GetPlayer(ctx, gameID, round.WinnerID)
		if err != nil {
			log.Printf("[EndRound] game=%s: winner %s unavailable: %v", gameID, round.WinnerID, err)
			winner = &models.Player{ID: round.WinnerID}
		}
		result.WinnerUsername = winner.Username
		presenter := &models.Player{ID: round.PresenterID, Username: round.PresenterUsername}
		s.ledger.AwardCorrectGuess(ctx, gameID, game.Community, winner, presenter)
	}

	result.Scores = map[string]int{}
	if players, err := s.repo.Players(ctx, gameID); err == nil {
		for _, p := range players {
			result.Scores[p.ID] = p.Score
		}
	} else {
		log.Printf("[EndRound] game=%s: score snapshot unavailable: %v", gameID, err)
		s.recorder.Incr(observability.StoreFailures)
	}

	if n, err := s.repo.CountGuesses(ctx, gameID, roundID); err == nil {
		result.TotalGuesses = n
	} else {
		log.Printf("[EndRound] game=%s: guess count unavailable: %v", gameID, err)
	}

	if _, err := s.repo.UpdateRound(ctx, gameID, roundID, func(r *models.Round) error {
		r.Result = result
		return nil
	}); err != nil {
		log.Printf("[EndRound] game=%s round=%s: result not stored: %v", gameID, roundID, err)
		s.recorder.Incr(observability.StoreFailures)
	}

	log.Printf("[EndRound] game=%s round=%d: reason=%s winner=%s guesses=%d", gameID, round.RoundNumber, reason, result.WinnerUsername, result.TotalGuesses)
	s.recorder.Incr(observability.RoundsEnded)
	s.events.Broadcast(ctx, gameID, models.EventRoundEnded, result)

	round.Result = result
	if err := s.archive.ArchiveRound(ctx, round, result); err != nil {
		log.Printf("[EndRound] game=%s round=%s: archive failed: %v", gameID, roundID, err)
		s.recorder.Incr(observability.ArchiveFailures)
	}

	if game.IsActive() {
		s.scheduleAdvance(gameID)
	}
	return result, nil
}

// expireRound is the round timer's callback.
func (s *RoundService) expireRound(ctx context.Context, gameID, roundID string) {
	s.recorder.Incr(observability.TimerExpirations)
	_, err := s.EndRound(ctx, gameID, roundID, models.EndReasonTimeout, "")
	if err != nil && !IsKind(err, KindRoundAlreadyEnded) {
		log.Printf("[RoundTimer] game=%s round=%s: timeout not applied: %v", gameID, roundID, err)
	}
}

func (s *RoundService) scheduleAdvance(gameID string) {
	if s.cfg.AutoAdvanceDelay <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.advances[gameID]; ok {
		prev.Stop()
	}
	s.advances[gameID] = time.AfterFunc(s.cfg.AutoAdvanceDelay, func() {
		s.mu.Lock()
		delete(s.advances, gameID)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.NextRound(ctx, gameID); err != nil {
			switch KindOf(err) {
			case KindRoundInProgress, KindGameNotActive, KindGameNotFound:
			default:
				log.Printf("[AutoAdvance] game=%s: %v", gameID, err)
			}
		}
	})
}

func (s *RoundService) cancelAdvance(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.advances[gameID]; ok {
		t.Stop()
		delete(s.advances, gameID)
	}
}

// BeginMatch moves a game from the lobby to active play and starts round 1.
func (s *RoundService) BeginMatch(ctx context.Context, gameID string) (*models.Round, error) {
	active, err := s.ActivePlayers(ctx, gameID)
	if err != nil {
		return nil, serverError("failed to load players", err)
	}
	if len(active) < s.cfg.MinPlayers {
		return nil, newError(KindNotEnoughPlayers, "need at least %d players, have %d", s.cfg.MinPlayers, len(active))
	}

	startedAt := s.now()
	game, err := s.repo.UpdateGame(ctx, gameID, func(g *models.Game) error {
		if !g.IsLobby() {
			return newError(KindGameNotInLobby, "game %s is already %s", gameID, g.Status)
		}
		g.Status = models.GameStatusActive
		g.StartedAt = &startedAt
		g.CurrentRoundNumber = 0
		g.CurrentRoundID = ""
		return nil
	})
	if err != nil {
		return nil, casError(err, KindGameNotFound, "failed to start game")
	}

	log.Printf("[BeginMatch] game=%s: %d players, %d rounds", gameID, len(active), game.MaxRounds)
	s.events.Broadcast(ctx, gameID, models.EventGameStarted, map[string]any{
		"started_at": startedAt.UnixMilli(),
		"max_rounds": game.MaxRounds,
		"players":    active,
	})
	return s.StartRound(ctx, gameID, 1)
}

// NextRound starts the round after the current one, or ends the game once
// the last round is over. It returns a nil round when the game ended.
func (s *RoundService) NextRound(ctx context.Context, gameID string) (*models.Round, error) {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !game.IsActive() {
		return nil, newError(KindGameNotActive, "game %s is %s", gameID, game.Status)
	}
	current, err := s.currentInProgress(ctx, game)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, newError(KindRoundInProgress, "round %d is still %s", current.RoundNumber, current.Status)
	}
	s.cancelAdvance(gameID)

	if game.CurrentRoundNumber >= game.MaxRounds {
		if _, err := s.EndGame(ctx, gameID, "completed"); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return s.StartRound(ctx, gameID, game.CurrentRoundNumber+1)
}

// EndGame marks the game ended, finalizes a round still in progress and
// publishes the final standings.
func (s *RoundService) EndGame(ctx context.Context, gameID, reason string) (*GameSummary, error) {
	endedAt := s.now()
	game, err := s.repo.UpdateGame(ctx, gameID, func(g *models.Game) error {
		if g.IsEnded() {
			return newError(KindGameNotActive, "game %s has already ended", gameID)
		}
		g.Status = models.GameStatusEnded
		g.EndedAt = &endedAt
		return nil
	})
	if err != nil {
		return nil, casError(err, KindGameNotFound, "failed to end game")
	}
	s.cancelAdvance(gameID)

	if game.CurrentRoundID != "" {
		if _, err := s.EndRound(ctx, gameID, game.CurrentRoundID, models.EndReasonExplicit, ""); err != nil {
			switch KindOf(err) {
			case KindRoundAlreadyEnded, KindRoundNotFound:
			default:
				log.Printf("[EndGame] game=%s: current round not ended: %v", gameID, err)
			}
		}
	}

	players, err := s.repo.Players(ctx, gameID)
	if err != nil {
		log.Printf("[EndGame] game=%s: final scores unavailable: %v", gameID, err)
		players = []models.Player{}
	}
	sort.SliceStable(players, func(i, j int) bool { return players[i].Score > players[j].Score })

	summary := &GameSummary{
		GameID:       gameID,
		Reason:       reason,
		RoundsPlayed: game.CurrentRoundNumber,
		FinalScores:  players,
	}
	if len(players) > 0 && players[0].Score > 0 {
		winner := players[0]
		summary.Winner = &winner
		s.ledger.RecordWin(ctx, game.Community, winner.Username)
	}

	if err := s.repo.UnindexGame(ctx, game.Community, gameID); err != nil {
		log.Printf("[EndGame] game=%s: %v", gameID, err)
	}

	log.Printf("[EndGame] game=%s: reason=%s rounds=%d", gameID, reason, game.CurrentRoundNumber)
	s.events.Broadcast(ctx, gameID, models.EventGameEnded, summary)

	if err := s.archive.ArchiveGame(ctx, game, summary); err != nil {
		log.Printf("[EndGame] game=%s: archive failed: %v", gameID, err)
		s.recorder.Incr(observability.ArchiveFailures)
	}
	return summary, nil
}

// Round returns a round with its guess history. Guessers see the phrase
// only once the round has ended.
func (s *RoundService) Round(ctx context.Context, gameID, roundID, viewerID string) (*models.Round, error) {
	round, err := s.loadRound(ctx, gameID, roundID)
	if err != nil {
		return nil, err
	}
	guesses, err := s.repo.Guesses(ctx, gameID, roundID)
	if err != nil {
		log.Printf("[Round] game=%s round=%s: guess history unavailable: %v", gameID, roundID, err)
	}
	round.Guesses = guesses

	if viewerID == round.PresenterID {
		return round, nil
	}
	return round.Redacted(), nil
}

// Shutdown stops pending auto-advances and every round timer.
func (s *RoundService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for gameID, t := range s.advances {
		t.Stop()
		delete(s.advances, gameID)
	}
	s.mu.Unlock()
	return s.timer.Shutdown(ctx)
}

func (s *RoundService) requireModerator(ctx context.Context, gameID, playerID string) (*models.Game, error) {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.ModeratorID != playerID {
		return nil, newError(KindNotModerator, "only the moderator can control rounds")
	}
	return game, nil
}

// StartRoundAs starts a round on behalf of the moderator. A zero
// roundNumber starts the round after the current one.
func (s *RoundService) StartRoundAs(ctx context.Context, gameID, playerID string, roundNumber int) (*models.Round, error) {
	game, err := s.requireModerator(ctx, gameID, playerID)
	if err != nil {
		return nil, err
	}
	if roundNumber == 0 {
		roundNumber = game.CurrentRoundNumber + 1
	}
	if roundNumber > game.MaxRounds {
		return nil, newError(KindValidation, "game %s has only %d rounds", gameID, game.MaxRounds)
	}
	return s.StartRound(ctx, gameID, roundNumber)
}

// NextRoundAs advances the game on behalf of the moderator.
func (s *RoundService) NextRoundAs(ctx context.Context, gameID, playerID string) (*models.Round, error) {
	if _, err := s.requireModerator(ctx, gameID, playerID); err != nil {
		return nil, err
	}
	return s.NextRound(ctx, gameID)
}

// EndRoundAs ends a round explicitly. The moderator and the round's
// presenter may do so.
func (s *RoundService) EndRoundAs(ctx context.Context, gameID, roundID, playerID string) (*models.RoundResult, error) {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	round, err := s.loadRound(ctx, gameID, roundID)
	if err != nil {
		return nil, err
	}
	if game.ModeratorID != playerID && round.PresenterID != playerID {
		return nil, newError(KindNotModerator, "only the moderator or the presenter can end the round")
	}
	return s.EndRound(ctx, gameID, roundID, models.EndReasonExplicit, "")
}
