package services

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"emojiparty/config"
	"emojiparty/models"
	"emojiparty/observability"
	"emojiparty/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var applePie = models.Phrase{ID: "food-apple-pie", Text: "apple pie", Category: "food", Difficulty: models.DifficultyEasy}

type harness struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	cfg      *config.Config
	repo     *store.Repository
	recorder *observability.Counters
	events   *Broadcaster
	selector *PhraseSelector
	ledger   *ScoreLedger
	rounds   *RoundService
	guesses  *GuessEvaluator
	lobby    *LobbyController
	games    *GameService
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Game.RoundDuration = 5 * time.Second
	cfg.Game.TickInterval = 20 * time.Millisecond
	cfg.Game.LobbyDuration = time.Minute
	cfg.Game.AutoAdvanceDelay = 0
	cfg.Realtime.LongPollWait = 150 * time.Millisecond
	cfg.Realtime.PollInterval = 10 * time.Millisecond
	cfg.Realtime.HistorySize = 500
	cfg.Realtime.HistoryLimit = 500
	return cfg
}

func newHarness(t *testing.T, opts ...func(*config.Config)) *harness {
	t.Helper()

	cfg := testConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{mr: mr, rdb: rdb, cfg: cfg, recorder: observability.New()}
	h.repo = store.New(rdb, cfg)
	h.events = NewBroadcaster(h.repo, nil, h.recorder, cfg.Realtime)
	h.selector = NewPhraseSelector([]models.Phrase{applePie}, false, rand.New(rand.NewPCG(1, 2)))
	h.ledger = NewScoreLedger(h.repo, h.recorder, cfg.Game)
	h.rounds = NewRoundService(h.repo, h.selector, h.events, h.ledger, NewArchive(nil), h.recorder, cfg.Game)
	h.guesses = NewGuessEvaluator(h.repo, h.rounds, h.events, h.recorder, cfg.Game)
	h.lobby = NewLobbyController(h.repo, h.rounds, h.events, h.recorder, cfg.Game)
	h.games = NewGameService(h.repo, h.rounds, h.lobby, h.events, h.recorder, cfg.Game)

	t.Cleanup(func() {
		h.lobby.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.rounds.Shutdown(ctx)
	})
	return h
}

// lobbyGame creates a game owned by the first username and joins the rest.
func (h *harness) lobbyGame(t *testing.T, usernames ...string) string {
	t.Helper()
	ctx := context.Background()

	state, err := h.games.CreateGame(ctx, usernames[0], "")
	require.NoError(t, err)
	for _, name := range usernames[1:] {
		_, err := h.games.JoinGame(ctx, state.Game.ID, name)
		require.NoError(t, err)
	}
	return state.Game.ID
}

// activeRound starts a match and submits emojis for round 1, whose
// presenter is the first username.
func (h *harness) activeRound(t *testing.T, usernames ...string) (string, *models.Round) {
	t.Helper()
	ctx := context.Background()

	gameID := h.lobbyGame(t, usernames...)
	round, err := h.games.StartGame(ctx, gameID, PlayerID(usernames[0]))
	require.NoError(t, err)

	round, err = h.rounds.SubmitEmojis(ctx, gameID, round.ID, PlayerID(usernames[0]), []string{"🍎", "🥧"})
	require.NoError(t, err)
	return gameID, round
}

func (h *harness) eventsOfType(t *testing.T, gameID string, eventType models.EventType) []models.Event {
	t.Helper()
	all, err := h.repo.EventsSince(context.Background(), gameID, 0, 1000)
	require.NoError(t, err)

	var out []models.Event
	for _, e := range all {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
