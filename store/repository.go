// Package store keeps all live game state in Redis.
//
// Failure contract. Every method returns the underlying error wrapped with
// the operation name; callers decide how to degrade:
//
//   - Game, player, round and tracker reads/writes are fail-closed: the
//     caller surfaces a server error.
//   - Lobby timer, leaderboard reads, score/stat increments, event appends
//     and timer marker deletes are fail-open: the caller logs and continues.
//   - The timer marker is authoritative for round deadlines. A read error
//     makes the guess evaluator reject the guess as expired; the round
//     timer keeps ticking on its local deadline.
//
// Missing records are reported as ErrNotFound, never as redis.Nil.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"emojiparty/config"
	"emojiparty/models"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a compare-and-set kept losing to
	// concurrent writers.
	ErrConflict = errors.New("concurrent modification, retries exhausted")
)

const maxCASRetries = 8

type Repository struct {
	rdb         *redis.Client
	gameTTL     time.Duration
	guessTTL    time.Duration
	historyTTL  time.Duration
	historySize int
	verbose     bool
}

func New(rdb *redis.Client, cfg *config.Config) *Repository {
	return &Repository{
		rdb:         rdb,
		gameTTL:     cfg.Game.GameTTL,
		guessTTL:    cfg.Game.GuessTTL,
		historyTTL:  cfg.Realtime.HistoryTTL,
		historySize: cfg.Realtime.HistorySize,
		verbose:     cfg.Verbose,
	}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func gameKey(gameID string) string             { return "game:" + gameID }
func playersKey(gameID string) string          { return gameKey(gameID) + ":players" }
func scoresKey(gameID string) string           { return gameKey(gameID) + ":scores" }
func trackerKey(gameID string) string          { return gameKey(gameID) + ":phrases" }
func lobbyKey(gameID string) string            { return gameKey(gameID) + ":lobby" }
func eventsKey(gameID string) string           { return gameKey(gameID) + ":events" }
func eventSeqKey(gameID string) string         { return gameKey(gameID) + ":events:seq" }
func roundKey(gameID, roundID string) string   { return gameKey(gameID) + ":round:" + roundID }
func guessesKey(gameID, roundID string) string { return roundKey(gameID, roundID) + ":guesses" }
func seenKey(gameID, roundID string) string    { return roundKey(gameID, roundID) + ":seen" }
func timerKey(gameID, roundID string) string   { return roundKey(gameID, roundID) + ":timer" }
func communityKey(community string) string     { return "community:" + community + ":games" }
func leaderboardKey(community string) string   { return "leaderboard:" + community }
func statsKey(community, username string) string {
	return "stats:" + community + ":" + strings.ToLower(username)
}

// touch aligns the expiry of every per-game key so an abandoned game's
// records disappear together.
func (r *Repository) touch(ctx context.Context, pipe redis.Pipeliner, gameID string) {
	for _, key := range []string{gameKey(gameID), playersKey(gameID), scoresKey(gameID), trackerKey(gameID), lobbyKey(gameID)} {
		pipe.Expire(ctx, key, r.gameTTL)
	}
}

// updateJSON runs a WATCH/MULTI compare-and-set over a JSON value. fn sees a
// freshly decoded value on every attempt; returning an error aborts without
// writing and the error is passed through unchanged.
func updateJSON[T any](ctx context.Context, rdb *redis.Client, key string, write func(pipe redis.Pipeliner, data []byte), fn func(*T) error) (*T, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		var out *T
		err := rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}

			v := new(T)
			if err := json.Unmarshal(data, v); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %w", key, err)
			}
			if err := fn(v); err != nil {
				return err
			}

			encoded, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to marshal %s: %w", key, err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				write(pipe, encoded)
				return nil
			})
			if err != nil {
				return err
			}
			out = v
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, ErrConflict
}

func (r *Repository) getJSON(ctx context.Context, key string, dst any) error {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// GAMES
// =============================================================================

func (r *Repository) CreateGame(ctx context.Context, game *models.Game) error {
	data, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("failed to marshal game: %w", err)
	}

	created, err := r.rdb.SetNX(ctx, gameKey(game.ID), data, r.gameTTL).Result()
	if err != nil {
		return fmt.Errorf("create game %s: %w", game.ID, err)
	}
	if !created {
		return fmt.Errorf("create game %s: already exists", game.ID)
	}

	if err := r.rdb.ZAdd(ctx, communityKey(game.Community), redis.Z{
		Score:  float64(game.CreatedAt.UnixMilli()),
		Member: game.ID,
	}).Err(); err != nil {
		return fmt.Errorf("index game %s: %w", game.ID, err)
	}

	if r.verbose {
		log.Printf("Stored game %s: status=%s community=%s", game.ID, game.Status, game.Community)
	}
	return nil
}

func (r *Repository) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	var game models.Game
	if err := r.getJSON(ctx, gameKey(gameID), &game); err != nil {
		return nil, fmt.Errorf("get game %s: %w", gameID, err)
	}
	return &game, nil
}

// UpdateGame applies fn to the stored game under compare-and-set.
func (r *Repository) UpdateGame(ctx context.Context, gameID string, fn func(*models.Game) error) (*models.Game, error) {
	game, err := updateJSON(ctx, r.rdb, gameKey(gameID), func(pipe redis.Pipeliner, data []byte) {
		pipe.Set(ctx, gameKey(gameID), data, r.gameTTL)
		r.touch(ctx, pipe, gameID)
	}, func(g *models.Game) error {
		if err := fn(g); err != nil {
			return err
		}
		g.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update game %s: %w", gameID, err)
	}

	if r.verbose {
		log.Printf("Stored game %s: status=%s round=%d", game.ID, game.Status, game.CurrentRoundNumber)
	}
	return game, nil
}

// UnindexGame removes a game from its community's open-game index.
func (r *Repository) UnindexGame(ctx context.Context, community, gameID string) error {
	return r.rdb.ZRem(ctx, communityKey(community), gameID).Err()
}

// CommunityGames lists indexed game ids, newest first, pruning entries whose
// game record already expired.
func (r *Repository) CommunityGames(ctx context.Context, community string, limit int) ([]string, error) {
	ids, err := r.rdb.ZRevRange(ctx, communityKey(community), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list games of %s: %w", community, err)
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := r.rdb.Exists(ctx, gameKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("list games of %s: %w", community, err)
		}
		if n == 0 {
			r.rdb.ZRem(ctx, communityKey(community), id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

// =============================================================================
// PLAYERS & SCORES
// =============================================================================

// UpdatePlayers applies fn to the whole player map of a game under
// compare-and-set. Players added to or changed in the map are written back.
func (r *Repository) UpdatePlayers(ctx context.Context, gameID string, fn func(players map[string]*models.Player) error) (map[string]*models.Player, error) {
	key := playersKey(gameID)
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		var out map[string]*models.Player
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			players, err := decodePlayers(raw)
			if err != nil {
				return err
			}
			if err := fn(players); err != nil {
				return err
			}

			fields := make(map[string]any, len(players))
			for id, p := range players {
				data, err := json.Marshal(p)
				if err != nil {
					return fmt.Errorf("failed to marshal player %s: %w", id, err)
				}
				fields[id] = data
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if len(fields) > 0 {
					pipe.HSet(ctx, key, fields)
				}
				r.touch(ctx, pipe, gameID)
				return nil
			})
			if err != nil {
				return err
			}
			out = players
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update players of %s: %w", gameID, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("update players of %s: %w", gameID, ErrConflict)
}

func decodePlayers(raw map[string]string) (map[string]*models.Player, error) {
	players := make(map[string]*models.Player, len(raw))
	for id, data := range raw {
		var p models.Player
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal player %s: %w", id, err)
		}
		players[id] = &p
	}
	return players, nil
}

// Players returns every player of a game, active or not, with live scores,
// ordered by join time and then id.
func (r *Repository) Players(ctx context.Context, gameID string) ([]models.Player, error) {
	raw, err := r.rdb.HGetAll(ctx, playersKey(gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get players of %s: %w", gameID, err)
	}
	decoded, err := decodePlayers(raw)
	if err != nil {
		return nil, fmt.Errorf("get players of %s: %w", gameID, err)
	}

	scores, err := r.Scores(ctx, gameID)
	if err != nil {
		log.Printf("[Players] game=%s: scores unavailable, reporting zero: %v", gameID, err)
		scores = map[string]int{}
	}

	players := make([]models.Player, 0, len(decoded))
	for id, p := range decoded {
		p.Score = scores[id]
		players = append(players, *p)
	}
	SortPlayers(players)
	return players, nil
}

// SortPlayers orders players by join time, breaking ties by id, which is the
// rotation order used for presenter selection.
func SortPlayers(players []models.Player) {
	sort.Slice(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].ID < players[j].ID
	})
}

func (r *Repository) GetPlayer(ctx context.Context, gameID, playerID string) (*models.Player, error) {
	data, err := r.rdb.HGet(ctx, playersKey(gameID), playerID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get player %s: %w", playerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", playerID, err)
	}
	var p models.Player
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player %s: %w", playerID, err)
	}
	return &p, nil
}

func (r *Repository) IncrScore(ctx context.Context, gameID, playerID string, delta int) (int64, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.HIncrBy(ctx, scoresKey(gameID), playerID, int64(delta))
	r.touch(ctx, pipe, gameID)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment score of %s: %w", playerID, err)
	}
	return incr.Val(), nil
}

func (r *Repository) Scores(ctx context.Context, gameID string) (map[string]int, error) {
	raw, err := r.rdb.HGetAll(ctx, scoresKey(gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get scores of %s: %w", gameID, err)
	}
	scores := make(map[string]int, len(raw))
	for id, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid score %q for %s: %w", v, id, err)
		}
		scores[id] = n
	}
	return scores, nil
}

// =============================================================================
// ROUNDS & GUESSES
// =============================================================================

func (r *Repository) CreateRound(ctx context.Context, round *models.Round) error {
	stored := *round
	stored.Guesses = nil
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, roundKey(round.GameID, round.ID), data, r.gameTTL)
	r.touch(ctx, pipe, round.GameID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create round %s: %w", round.ID, err)
	}

	if r.verbose {
		log.Printf("Stored round %s of game %s: number=%d status=%s", round.ID, round.GameID, round.RoundNumber, round.Status)
	}
	return nil
}

// GetRound returns the round without its guess history.
func (r *Repository) GetRound(ctx context.Context, gameID, roundID string) (*models.Round, error) {
	var round models.Round
	if err := r.getJSON(ctx, roundKey(gameID, roundID), &round); err != nil {
		return nil, fmt.Errorf("get round %s: %w", roundID, err)
	}
	return &round, nil
}

// UpdateRound applies fn to the stored round under compare-and-set. This is
// the only way round status changes.
func (r *Repository) UpdateRound(ctx context.Context, gameID, roundID string, fn func(*models.Round) error) (*models.Round, error) {
	key := roundKey(gameID, roundID)
	round, err := updateJSON(ctx, r.rdb, key, func(pipe redis.Pipeliner, data []byte) {
		pipe.Set(ctx, key, data, r.gameTTL)
		r.touch(ctx, pipe, gameID)
	}, func(rd *models.Round) error {
		if err := fn(rd); err != nil {
			return err
		}
		rd.Guesses = nil
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update round %s: %w", roundID, err)
	}

	if r.verbose {
		log.Printf("Stored round %s of game %s: status=%s winner=%s", round.ID, gameID, round.Status, round.WinnerID)
	}
	return round, nil
}

// ClaimGuessText records that playerID guessed the normalized text in this
// round. It reports false when the same text was already claimed.
func (r *Repository) ClaimGuessText(ctx context.Context, gameID, roundID, playerID, normalized string) (bool, error) {
	key := seenKey(gameID, roundID)
	pipe := r.rdb.TxPipeline()
	added := pipe.SAdd(ctx, key, playerID+"\x00"+normalized)
	pipe.Expire(ctx, key, r.guessTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("claim guess text: %w", err)
	}
	return added.Val() == 1, nil
}

// ReleaseGuessText drops a claim made by ClaimGuessText so the guess can be retried.
func (r *Repository) ReleaseGuessText(ctx context.Context, gameID, roundID, playerID, normalized string) error {
	if err := r.rdb.SRem(ctx, seenKey(gameID, roundID), playerID+"\x00"+normalized).Err(); err != nil {
		return fmt.Errorf("release guess text: %w", err)
	}
	return nil
}

func (r *Repository) AppendGuess(ctx context.Context, gameID, roundID string, guess *models.Guess) (int64, error) {
	data, err := json.Marshal(guess)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal guess: %w", err)
	}
	key := guessesKey(gameID, roundID)
	pipe := r.rdb.TxPipeline()
	length := pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, r.guessTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("append guess to %s: %w", roundID, err)
	}
	return length.Val(), nil
}

// Guesses returns the guess history in processing order.
func (r *Repository) Guesses(ctx context.Context, gameID, roundID string) ([]models.Guess, error) {
	raw, err := r.rdb.LRange(ctx, guessesKey(gameID, roundID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get guesses of %s: %w", roundID, err)
	}
	guesses := make([]models.Guess, 0, len(raw))
	for _, data := range raw {
		var g models.Guess
		if err := json.Unmarshal([]byte(data), &g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal guess: %w", err)
		}
		guesses = append(guesses, g)
	}
	return guesses, nil
}

func (r *Repository) CountGuesses(ctx context.Context, gameID, roundID string) (int, error) {
	n, err := r.rdb.LLen(ctx, guessesKey(gameID, roundID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count guesses of %s: %w", roundID, err)
	}
	return int(n), nil
}

// =============================================================================
// ROUND TIMER MARKERS
// =============================================================================

func (r *Repository) SetTimerMarker(ctx context.Context, gameID, roundID string, endsAt time.Time, ttl time.Duration) error {
	err := r.rdb.Set(ctx, timerKey(gameID, roundID), endsAt.UnixMilli(), ttl).Err()
	if err != nil {
		return fmt.Errorf("set timer of %s: %w", roundID, err)
	}
	return nil
}

// TimerMarker returns the round's end time and whether the marker exists.
func (r *Repository) TimerMarker(ctx context.Context, gameID, roundID string) (time.Time, bool, error) {
	ms, err := r.rdb.Get(ctx, timerKey(gameID, roundID)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get timer of %s: %w", roundID, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (r *Repository) DeleteTimerMarker(ctx context.Context, gameID, roundID string) error {
	if err := r.rdb.Del(ctx, timerKey(gameID, roundID)).Err(); err != nil {
		return fmt.Errorf("delete timer of %s: %w", roundID, err)
	}
	return nil
}

// =============================================================================
// LOBBY TIMER & PHRASE TRACKER
// =============================================================================

func (r *Repository) PutLobbyTimer(ctx context.Context, gameID string, timer *models.LobbyTimer) error {
	data, err := json.Marshal(timer)
	if err != nil {
		return fmt.Errorf("failed to marshal lobby timer: %w", err)
	}
	if err := r.rdb.Set(ctx, lobbyKey(gameID), data, r.gameTTL).Err(); err != nil {
		return fmt.Errorf("store lobby timer of %s: %w", gameID, err)
	}
	return nil
}

func (r *Repository) GetLobbyTimer(ctx context.Context, gameID string) (*models.LobbyTimer, error) {
	var timer models.LobbyTimer
	if err := r.getJSON(ctx, lobbyKey(gameID), &timer); err != nil {
		return nil, fmt.Errorf("get lobby timer of %s: %w", gameID, err)
	}
	return &timer, nil
}

func (r *Repository) DeleteLobbyTimer(ctx context.Context, gameID string) error {
	if err := r.rdb.Del(ctx, lobbyKey(gameID)).Err(); err != nil {
		return fmt.Errorf("delete lobby timer of %s: %w", gameID, err)
	}
	return nil
}

// Tracker returns the game's phrase tracker, or a fresh one if none is stored.
func (r *Repository) Tracker(ctx context.Context, gameID string) (*models.SessionPhraseTracker, error) {
	tracker := models.NewSessionPhraseTracker()
	err := r.getJSON(ctx, trackerKey(gameID), tracker)
	if errors.Is(err, ErrNotFound) {
		return models.NewSessionPhraseTracker(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get phrase tracker of %s: %w", gameID, err)
	}
	return tracker, nil
}

func (r *Repository) PutTracker(ctx context.Context, gameID string, tracker *models.SessionPhraseTracker) error {
	data, err := json.Marshal(tracker)
	if err != nil {
		return fmt.Errorf("failed to marshal phrase tracker: %w", err)
	}
	if err := r.rdb.Set(ctx, trackerKey(gameID), data, r.gameTTL).Err(); err != nil {
		return fmt.Errorf("store phrase tracker of %s: %w", gameID, err)
	}
	return nil
}

// =============================================================================
// EVENT HISTORY
// =============================================================================

// appendEventScript assigns the next id and stores the event under it in one
// step, so a reader never sees the counter ahead of the history. Members are
// "<id>:<json>" to keep identical payloads distinct.
var appendEventScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[2])
redis.call('ZADD', KEYS[1], tostring(id), tostring(id) .. ':' .. ARGV[1])
redis.call('ZREMRANGEBYRANK', KEYS[1], 0, tostring(-tonumber(ARGV[2]) - 1))
redis.call('EXPIRE', KEYS[1], ARGV[3])
redis.call('EXPIRE', KEYS[2], ARGV[3])
return id
`)

// AppendEvent assigns the next event id of the game and stores the event in
// the bounded history.
func (r *Repository) AppendEvent(ctx context.Context, gameID string, eventType models.EventType, data json.RawMessage, at time.Time) (*models.Event, error) {
	event := &models.Event{
		Type:      eventType,
		GameID:    gameID,
		Timestamp: at.UnixMilli(),
		Data:      data,
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	ttl := int64(r.historyTTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	id, err := appendEventScript.Run(ctx, r.rdb,
		[]string{eventsKey(gameID), eventSeqKey(gameID)},
		string(encoded), r.historySize, ttl,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("append event to %s: %w", gameID, err)
	}
	event.ID = id
	return event, nil
}

// EventsSince returns up to limit events with an id greater than since, in
// id order.
func (r *Repository) EventsSince(ctx context.Context, gameID string, since int64, limit int) ([]models.Event, error) {
	raw, err := r.rdb.ZRangeByScore(ctx, eventsKey(gameID), &redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(since, 10),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("get events of %s: %w", gameID, err)
	}

	events := make([]models.Event, 0, len(raw))
	for _, member := range raw {
		e, err := decodeEvent(member)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func decodeEvent(member string) (models.Event, error) {
	var e models.Event
	prefix, body, ok := strings.Cut(member, ":")
	if !ok {
		return e, fmt.Errorf("malformed event entry %q", member)
	}
	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return e, fmt.Errorf("malformed event id %q: %w", prefix, err)
	}
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return e, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	e.ID = id
	return e, nil
}

// LatestEventID returns the id of the newest event, or 0 when none exists.
func (r *Repository) LatestEventID(ctx context.Context, gameID string) (int64, error) {
	id, err := r.rdb.Get(ctx, eventSeqKey(gameID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest event of %s: %w", gameID, err)
	}
	return id, nil
}

// =============================================================================
// LEADERBOARD
// =============================================================================

// StatField names a counter of models.PlayerStats.
type StatField string

const (
	StatPoints          StatField = "points"
	StatWins            StatField = "wins"
	StatCorrectGuesses  StatField = "correct_guesses"
	StatRoundsPresented StatField = "rounds_presented"
)

// AddLeaderboardPoints adds points to the community leaderboard and bumps
// the given stat counters of the player in one transaction.
func (r *Repository) AddLeaderboardPoints(ctx context.Context, community, username string, points int, stats ...StatField) error {
	pipe := r.rdb.TxPipeline()
	pipe.ZIncrBy(ctx, leaderboardKey(community), float64(points), username)
	key := statsKey(community, username)
	pipe.HSet(ctx, key, "username", username)
	pipe.HIncrBy(ctx, key, string(StatPoints), int64(points))
	for _, field := range stats {
		pipe.HIncrBy(ctx, key, string(field), 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update leaderboard of %s: %w", community, err)
	}
	return nil
}

func (r *Repository) TopScores(ctx context.Context, community string, limit int) ([]models.LeaderboardEntry, error) {
	zs, err := r.rdb.ZRevRangeWithScores(ctx, leaderboardKey(community), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard of %s: %w", community, err)
	}
	entries := make([]models.LeaderboardEntry, 0, len(zs))
	for i, z := range zs {
		name := z.Member
		entries = append(entries, models.LeaderboardEntry{
			Rank:     int64(i) + 1,
			Username: name,
			Score:    int64(z.Score),
		})
	}
	return entries, nil
}

// Rank returns the 1-based descending rank and score of username. Backends
// without ZREVRANK fall back to a full descending scan.
func (r *Repository) Rank(ctx context.Context, community, username string) (*models.LeaderboardEntry, error) {
	key := leaderboardKey(community)
	score, err := r.rdb.ZScore(ctx, key, username).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("rank of %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("rank of %s: %w", username, err)
	}

	rank, err := r.rdb.ZRevRank(ctx, key, username).Result()
	if err != nil && isUnknownCommand(err) {
		members, scanErr := r.rdb.ZRevRange(ctx, key, 0, -1).Result()
		if scanErr != nil {
			return nil, fmt.Errorf("rank of %s: %w", username, scanErr)
		}
		rank, err = RankIn(members, username)
	}
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("rank of %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("rank of %s: %w", username, err)
	}

	return &models.LeaderboardEntry{Rank: rank + 1, Username: username, Score: int64(score)}, nil
}

// RankIn returns the 0-based position of member in a descending member list.
func RankIn(members []string, member string) (int64, error) {
	for i, m := range members {
		if m == member {
			return int64(i), nil
		}
	}
	return 0, redis.Nil
}

func isUnknownCommand(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown command") || strings.Contains(msg, "not supported")
}

func (r *Repository) Stats(ctx context.Context, community, username string) (*models.PlayerStats, error) {
	raw, err := r.rdb.HGetAll(ctx, statsKey(community, username)).Result()
	if err != nil {
		return nil, fmt.Errorf("get stats of %s: %w", username, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("get stats of %s: %w", username, ErrNotFound)
	}
	parse := func(field StatField) int64 {
		n, _ := strconv.ParseInt(raw[string(field)], 10, 64)
		return n
	}
	return &models.PlayerStats{
		Username:        raw["username"],
		Points:          parse(StatPoints),
		Wins:            parse(StatWins),
		CorrectGuesses:  parse(StatCorrectGuesses),
		RoundsPresented: parse(StatRoundsPresented),
	}, nil
}
