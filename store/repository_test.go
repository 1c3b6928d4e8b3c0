package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"emojiparty/config"
	"emojiparty/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Defaults()
	cfg.Realtime.HistorySize = 3
	return New(rdb, cfg), mr
}

func testGame(id string) *models.Game {
	now := time.Now()
	return &models.Game{ID: id, Community: "global", Status: models.GameStatusLobby, MaxRounds: 3, CreatedAt: now, UpdatedAt: now}
}

func TestGameRoundTrip(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateGame(ctx, testGame("g1")))
	assert.Error(t, repo.CreateGame(ctx, testGame("g1")))

	game, err := repo.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusLobby, game.Status)

	_, err = repo.GetGame(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.UpdateGame(ctx, "missing", func(*models.Game) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateGameAbortsOnCallbackError(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateGame(ctx, testGame("g1")))

	sentinel := errors.New("rejected")
	_, err := repo.UpdateGame(ctx, "g1", func(g *models.Game) error {
		g.Status = models.GameStatusEnded
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	game, err := repo.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusLobby, game.Status)
}

func TestUpdateGameSerializesConcurrentWriters(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateGame(ctx, testGame("g1")))

	const writers = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []error
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpdateGame(ctx, "g1", func(g *models.Game) error {
				g.CurrentRoundNumber++
				return nil
			})
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	game, err := repo.GetGame(ctx, "g1")
	require.NoError(t, err)
	for _, err := range failures {
		assert.ErrorIs(t, err, ErrConflict)
	}
	assert.Equal(t, writers-len(failures), game.CurrentRoundNumber)
}

func TestPlayersAreOrderedAndScored(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateGame(ctx, testGame("g1")))

	base := time.Now()
	_, err := repo.UpdatePlayers(ctx, "g1", func(players map[string]*models.Player) error {
		players["p_b"] = &models.Player{ID: "p_b", Username: "bob", IsActive: true, JoinedAt: base.Add(time.Second)}
		players["p_a"] = &models.Player{ID: "p_a", Username: "alice", IsActive: true, JoinedAt: base}
		players["p_c"] = &models.Player{ID: "p_c", Username: "carol", IsActive: true, JoinedAt: base}
		return nil
	})
	require.NoError(t, err)

	_, err = repo.IncrScore(ctx, "g1", "p_b", 10)
	require.NoError(t, err)

	players, err := repo.Players(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, players, 3)
	assert.Equal(t, []string{"p_a", "p_c", "p_b"}, []string{players[0].ID, players[1].ID, players[2].ID})
	assert.Equal(t, 10, players[2].Score)

	_, err = repo.GetPlayer(ctx, "g1", "p_x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGameKeysExpireTogether(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateGame(ctx, testGame("g1")))
	_, err := repo.UpdatePlayers(ctx, "g1", func(players map[string]*models.Player) error {
		players["p_a"] = &models.Player{ID: "p_a", Username: "alice", IsActive: true}
		return nil
	})
	require.NoError(t, err)
	_, err = repo.IncrScore(ctx, "g1", "p_a", 5)
	require.NoError(t, err)

	gameTTL := mr.TTL(gameKey("g1"))
	assert.Positive(t, gameTTL)
	assert.Equal(t, gameTTL, mr.TTL(playersKey("g1")))
	assert.Equal(t, gameTTL, mr.TTL(scoresKey("g1")))

	mr.FastForward(gameTTL + time.Second)
	_, err = repo.GetGame(ctx, "g1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists(playersKey("g1")))
	assert.False(t, mr.Exists(scoresKey("g1")))
}

func TestRoundUpdatesAndGuesses(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	round := &models.Round{ID: "r1", GameID: "g1", RoundNumber: 1, Status: models.RoundStatusWaiting, Guesses: []models.Guess{{ID: "x"}}}
	require.NoError(t, repo.CreateRound(ctx, round))

	stored, err := repo.GetRound(ctx, "g1", "r1")
	require.NoError(t, err)
	assert.Empty(t, stored.Guesses)

	_, err = repo.UpdateRound(ctx, "g1", "r1", func(r *models.Round) error {
		r.Status = models.RoundStatusActive
		return nil
	})
	require.NoError(t, err)

	first, err := repo.ClaimGuessText(ctx, "g1", "r1", "p_b", "apple pie")
	require.NoError(t, err)
	assert.True(t, first)
	again, err := repo.ClaimGuessText(ctx, "g1", "r1", "p_b", "apple pie")
	require.NoError(t, err)
	assert.False(t, again)
	other, err := repo.ClaimGuessText(ctx, "g1", "r1", "p_c", "apple pie")
	require.NoError(t, err)
	assert.True(t, other)

	require.NoError(t, repo.ReleaseGuessText(ctx, "g1", "r1", "p_b", "apple pie"))
	retried, err := repo.ClaimGuessText(ctx, "g1", "r1", "p_b", "apple pie")
	require.NoError(t, err)
	assert.True(t, retried)

	for _, id := range []string{"g-1", "g-2"} {
		_, err := repo.AppendGuess(ctx, "g1", "r1", &models.Guess{ID: id, PlayerID: "p_b"})
		require.NoError(t, err)
	}
	guesses, err := repo.Guesses(ctx, "g1", "r1")
	require.NoError(t, err)
	require.Len(t, guesses, 2)
	assert.Equal(t, "g-1", guesses[0].ID)

	n, err := repo.CountGuesses(ctx, "g1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTimerMarker(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	_, ok, err := repo.TimerMarker(ctx, "g1", "r1")
	require.NoError(t, err)
	assert.False(t, ok)

	endsAt := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	require.NoError(t, repo.SetTimerMarker(ctx, "g1", "r1", endsAt, time.Minute+5*time.Second))

	got, ok, err := repo.TimerMarker(ctx, "g1", "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, endsAt.Equal(got))

	mr.FastForward(time.Minute + 6*time.Second)
	_, ok, err = repo.TimerMarker(ctx, "g1", "r1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTrackerDefaultsWhenMissing(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	tracker, err := repo.Tracker(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, tracker.UsedIDs)

	tracker.UsedIDs["food-apple-pie"] = true
	require.NoError(t, repo.PutTracker(ctx, "g1", tracker))

	tracker, err = repo.Tracker(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, tracker.UsedIDs["food-apple-pie"])
}

func TestEventHistoryIsBounded(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	latest, err := repo.LatestEventID(ctx, "g1")
	require.NoError(t, err)
	assert.Zero(t, latest)

	for i := 0; i < 5; i++ {
		_, err := repo.AppendEvent(ctx, "g1", models.EventTimerUpdate, nil, time.Now())
		require.NoError(t, err)
	}

	events, err := repo.EventsSince(ctx, "g1", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{events[0].ID, events[1].ID, events[2].ID})

	events, err = repo.EventsSince(ctx, "g1", 4, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	latest, err = repo.LatestEventID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), latest)
}

func TestConcurrentEventsGetContiguousIDs(t *testing.T) {
	repo, _ := newTestRepository(t)
	repo.historySize = 100
	ctx := context.Background()
	at := time.Now()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.AppendEvent(ctx, "g1", models.EventTimerUpdate, nil, at)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	latest, err := repo.LatestEventID(ctx, "g1")
	require.NoError(t, err)
	events, err := repo.EventsSince(ctx, "g1", 0, writers*2)
	require.NoError(t, err)
	require.Len(t, events, writers)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.ID)
		assert.Equal(t, models.EventTimerUpdate, e.Type)
		assert.Equal(t, at.UnixMilli(), e.Timestamp)
	}
	assert.Equal(t, int64(writers), latest)
}

func TestCommunityGamesPrunesExpired(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateGame(ctx, testGame("g1")))
	require.NoError(t, repo.CreateGame(ctx, testGame("g2")))
	mr.Del(gameKey("g1"))

	ids, err := repo.CommunityGames(ctx, "global", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, ids)

	members, err := mr.ZMembers(communityKey("global"))
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, members)
}

func TestLeaderboardRank(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.AddLeaderboardPoints(ctx, "club", "alice", 5, StatRoundsPresented))
	require.NoError(t, repo.AddLeaderboardPoints(ctx, "club", "bob", 20, StatCorrectGuesses))
	require.NoError(t, repo.AddLeaderboardPoints(ctx, "club", "carol", 10))

	entry, err := repo.Rank(ctx, "club", "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Rank)
	assert.Equal(t, int64(10), entry.Score)

	_, err = repo.Rank(ctx, "club", "mallory")
	assert.ErrorIs(t, err, ErrNotFound)

	stats, err := repo.Stats(ctx, "club", "Bob")
	require.NoError(t, err)
	assert.Equal(t, int64(20), stats.Points)
	assert.Equal(t, int64(1), stats.CorrectGuesses)

	_, err = repo.Stats(ctx, "club", "mallory")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRankIn(t *testing.T) {
	members := []string{"bob", "carol", "alice"}

	rank, err := RankIn(members, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank)

	_, err = RankIn(members, "mallory")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestIsUnknownCommand(t *testing.T) {
	assert.True(t, isUnknownCommand(errors.New("ERR unknown command 'zrevrank'")))
	assert.False(t, isUnknownCommand(errors.New("connection refused")))
}
