package services

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"emojiparty/config"
	"emojiparty/models"
	"emojiparty/observability"
	"emojiparty/store"

	"github.com/google/uuid"
)

const (
	DefaultCommunity  = "global"
	maxUsernameLength = 32
)

var communityPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

type GameService struct {
	repo     *store.Repository
	rounds   *RoundService
	lobby    *LobbyController
	events   *Broadcaster
	recorder observability.Recorder
	cfg      config.GameConfig
	now      func() time.Time
}

func NewGameService(repo *store.Repository, rounds *RoundService, lobby *LobbyController, events *Broadcaster, recorder observability.Recorder, cfg config.GameConfig) *GameService {
	return &GameService{
		repo:     repo,
		rounds:   rounds,
		lobby:    lobby,
		events:   events,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
	}
}

// GameState is everything a client needs to render a game after a
// (re)connect.
type GameState struct {
	Game         *models.Game       `json:"game"`
	Players      []models.Player    `json:"players"`
	CurrentRound *models.Round      `json:"current_round,omitempty"`
	RoundEndsAt  *int64             `json:"round_ends_at,omitempty"`
	LobbyTimer   *models.LobbyTimer `json:"lobby_timer,omitempty"`
	LastEventID  int64              `json:"last_event_id"`
	ServerTime   int64              `json:"server_time"`
}

type HeartbeatResult struct {
	ServerTime  int64 `json:"server_time"`
	LastEventID int64 `json:"last_event_id"`
}

// NormalizeCommunity lowercases a community name and applies the default.
func NormalizeCommunity(community string) (string, error) {
	community = strings.ToLower(strings.TrimSpace(community))
	if community == "" {
		return DefaultCommunity, nil
	}
	if !communityPattern.MatchString(community) {
		return "", newError(KindValidation, "invalid community %q", community)
	}
	return community, nil
}

func validateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength {
		return "", newError(KindUnauthorized, "a username of at most %d characters is required", maxUsernameLength)
	}
	return username, nil
}

func countActive(players map[string]*models.Player) int {
	n := 0
	for _, p := range players {
		if p.IsActive {
			n++
		}
	}
	return n
}

// electModerator makes the earliest active joiner the moderator and returns
// their id, or "" when nobody is active.
func electModerator(players map[string]*models.Player) string {
	var earliest *models.Player
	for _, p := range players {
		p.IsModerator = false
		if !p.IsActive {
			continue
		}
		if earliest == nil || p.JoinedAt.Before(earliest.JoinedAt) ||
			(p.JoinedAt.Equal(earliest.JoinedAt) && p.ID < earliest.ID) {
			earliest = p
		}
	}
	if earliest == nil {
		return ""
	}
	earliest.IsModerator = true
	return earliest.ID
}

// CreateGame opens a lobby with the creator as its first player and
// moderator.
func (s *GameService) CreateGame(ctx context.Context, username, community string) (*GameState, error) {
	username, err := validateUsername(username)
	if err != nil {
		return nil, err
	}
	community, err = NormalizeCommunity(community)
	if err != nil {
		return nil, err
	}

	now := s.now()
	creatorID := PlayerID(username)
	game := &models.Game{
		ID:          uuid.NewString(),
		Community:   community,
		Status:      models.GameStatusLobby,
		MaxRounds:   s.cfg.MaxRounds,
		ModeratorID: creatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateGame(ctx, game); err != nil {
		return nil, serverError("failed to create game", err)
	}

	_, err = s.repo.UpdatePlayers(ctx, game.ID, func(players map[string]*models.Player) error {
		players[creatorID] = &models.Player{
			ID:          creatorID,
			Username:    username,
			IsActive:    true,
			IsModerator: true,
			JoinedAt:    now,
			LastSeenAt:  now,
		}
		return nil
	})
	if err != nil {
		return nil, serverError("failed to add creator", err)
	}

	log.Printf("[CreateGame] game=%s community=%s moderator=%s", game.ID, community, username)
	s.recorder.Incr(observability.GamesCreated)
	s.events.Broadcast(ctx, game.ID, models.EventGameCreated, map[string]any{
		"game_id":      game.ID,
		"community":    community,
		"moderator_id": creatorID,
		"max_rounds":   game.MaxRounds,
	})
	s.lobby.Create(ctx, game.ID, 1)
	return s.State(ctx, game.ID, creatorID)
}

// JoinGame adds a player, or reactivates one who left earlier with their
// original join time.
func (s *GameService) JoinGame(ctx context.Context, gameID, username string) (*GameState, error) {
	username, err := validateUsername(username)
	if err != nil {
		return nil, err
	}
	game, err := s.rounds.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.IsEnded() {
		return nil, newError(KindGameNotActive, "game %s has ended", gameID)
	}

	now := s.now()
	playerID := PlayerID(username)
	var moderatorID string
	var activeCount int
	alreadyIn := false
	players, err := s.repo.UpdatePlayers(ctx, gameID, func(players map[string]*models.Player) error {
		if p, ok := players[playerID]; ok {
			alreadyIn = p.IsActive
			if !p.IsActive && countActive(players) >= s.cfg.MaxPlayers {
				return newError(KindGameFull, "game %s is full", gameID)
			}
			p.IsActive = true
			p.LastSeenAt = now
		} else {
			if countActive(players) >= s.cfg.MaxPlayers {
				return newError(KindGameFull, "game %s is full", gameID)
			}
			players[playerID] = &models.Player{
				ID:         playerID,
				Username:   username,
				IsActive:   true,
				JoinedAt:   now,
				LastSeenAt: now,
			}
		}
		moderatorID = electModerator(players)
		activeCount = countActive(players)
		return nil
	})
	if err != nil {
		return nil, casError(err, KindGameNotFound, "failed to join game")
	}

	if alreadyIn {
		return s.State(ctx, gameID, playerID)
	}

	log.Printf("[JoinGame] game=%s player=%s (%d active)", gameID, username, activeCount)
	s.events.Broadcast(ctx, gameID, models.EventPlayerJoined, map[string]any{
		"player":       players[playerID],
		"player_count": activeCount,
	})
	s.syncModerator(ctx, gameID, game.ModeratorID, moderatorID)

	if game.IsLobby() {
		s.lobby.PlayerJoined(ctx, gameID, activeCount)
	}
	return s.State(ctx, gameID, playerID)
}

// syncModerator stores a changed moderator on the game record.
func (s *GameService) syncModerator(ctx context.Context, gameID, previous, current string) {
	if previous == current {
		return
	}
	if _, err := s.repo.UpdateGame(ctx, gameID, func(g *models.Game) error {
		g.ModeratorID = current
		return nil
	}); err != nil {
		log.Printf("[Moderator] game=%s: %v", gameID, err)
		return
	}
	s.events.Broadcast(ctx, gameID, models.EventModeratorSet, map[string]any{
		"previous_moderator_id": previous,
		"moderator_id":          current,
	})
}

// LeaveGame deactivates a player. The moderator role moves to the earliest
// remaining joiner, a departing presenter ends the round and the last
// departure ends the game.
func (s *GameService) LeaveGame(ctx context.Context, gameID, playerID string) (*GameState, error) {
	game, err := s.rounds.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	var moderatorID, username string
	var activeCount int
	_, err = s.repo.UpdatePlayers(ctx, gameID, func(players map[string]*models.Player) error {
		p, ok := players[playerID]
		if !ok || !p.IsActive {
			return newError(KindPlayerNotInGame, "player is not in game %s", gameID)
		}
		p.IsActive = false
		p.LastSeenAt = s.now()
		username = p.Username
		moderatorID = electModerator(players)
		activeCount = countActive(players)
		return nil
	})
	if err != nil {
		return nil, casError(err, KindGameNotFound, "failed to leave game")
	}

	log.Printf("[LeaveGame] game=%s player=%s (%d active)", gameID, username, activeCount)
	s.events.Broadcast(ctx, gameID, models.EventPlayerLeft, map[string]any{
		"player_id":    playerID,
		"username":     username,
		"player_count": activeCount,
	})
	s.syncModerator(ctx, gameID, game.ModeratorID, moderatorID)

	switch {
	case activeCount == 0:
		s.lobby.Stop(ctx, gameID)
		if !game.IsEnded() {
			if _, err := s.rounds.EndGame(ctx, gameID, "abandoned"); err != nil && !IsKind(err, KindGameNotActive) {
				log.Printf("[LeaveGame] game=%s: %v", gameID, err)
			}
		}
	case game.IsLobby():
		s.lobby.PlayerLeft(ctx, gameID, activeCount)
	case game.IsActive():
		current, err := s.rounds.currentInProgress(ctx, game)
		if err == nil && current != nil && current.PresenterID == playerID {
			if _, err := s.rounds.EndRound(ctx, gameID, current.ID, models.EndReasonExplicit, ""); err != nil && !IsKind(err, KindRoundAlreadyEnded) {
				log.Printf("[LeaveGame] game=%s: presenter round not ended: %v", gameID, err)
			}
		}
	}
	return s.State(ctx, gameID, playerID)
}

// StartGame lets the moderator begin the match before the lobby countdown
// runs out.
func (s *GameService) StartGame(ctx context.Context, gameID, playerID string) (*models.Round, error) {
	game, err := s.rounds.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.ModeratorID != playerID {
		return nil, newError(KindNotModerator, "only the moderator can start the game")
	}

	round, err := s.rounds.BeginMatch(ctx, gameID)
	if err != nil {
		return nil, err
	}
	s.lobby.Stop(ctx, gameID)
	return round, nil
}

// State assembles the view of a game for viewerID.
func (s *GameService) State(ctx context.Context, gameID, viewerID string) (*GameState, error) {
	game, err := s.rounds.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	players, err := s.repo.Players(ctx, gameID)
	if err != nil {
		return nil, serverError("failed to load players", err)
	}

	state := &GameState{
		Game:       game,
		Players:    players,
		ServerTime: s.now().UnixMilli(),
	}

	if game.CurrentRoundID != "" {
		round, err := s.rounds.Round(ctx, gameID, game.CurrentRoundID, viewerID)
		if err != nil && !IsKind(err, KindRoundNotFound) {
			return nil, err
		}
		state.CurrentRound = round
		if round != nil && round.IsActive() {
			if endsAt, ok, err := s.repo.TimerMarker(ctx, gameID, round.ID); err == nil && ok {
				ms := endsAt.UnixMilli()
				state.RoundEndsAt = &ms
			}
		}
	}
	if game.IsLobby() {
		state.LobbyTimer = s.lobby.Get(ctx, gameID)
	}

	if id, err := s.repo.LatestEventID(ctx, gameID); err == nil {
		state.LastEventID = id
	}
	return state, nil
}

// RequireMember fails unless playerID is an active player of the game.
func (s *GameService) RequireMember(ctx context.Context, gameID, playerID string) error {
	if _, err := s.rounds.loadGame(ctx, gameID); err != nil {
		return err
	}
	player, err := s.repo.GetPlayer(ctx, gameID, playerID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !player.IsActive) {
		return newError(KindPlayerNotInGame, "player is not in game %s", gameID)
	}
	if err != nil {
		return serverError("failed to load player", err)
	}
	return nil
}

// Heartbeat refreshes a player's presence.
func (s *GameService) Heartbeat(ctx context.Context, gameID, playerID string) (*HeartbeatResult, error) {
	if _, err := s.rounds.loadGame(ctx, gameID); err != nil {
		return nil, err
	}

	now := s.now()
	_, err := s.repo.UpdatePlayers(ctx, gameID, func(players map[string]*models.Player) error {
		p, ok := players[playerID]
		if !ok || !p.IsActive {
			return newError(KindPlayerNotInGame, "player is not in game %s", gameID)
		}
		p.LastSeenAt = now
		return nil
	})
	if err != nil {
		return nil, casError(err, KindGameNotFound, "failed to record heartbeat")
	}

	result := &HeartbeatResult{ServerTime: now.UnixMilli()}
	if id, err := s.repo.LatestEventID(ctx, gameID); err == nil {
		result.LastEventID = id
	}
	return result, nil
}

// GameListing is one entry of the community game list.
type GameListing struct {
	ID          string            `json:"id"`
	Status      models.GameStatus `json:"status"`
	PlayerCount int               `json:"player_count"`
	MaxPlayers  int               `json:"max_players"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ListGames returns the open games of a community, newest first.
func (s *GameService) ListGames(ctx context.Context, community string, limit int) ([]GameListing, error) {
	community, err := NormalizeCommunity(community)
	if err != nil {
		return nil, err
	}
	ids, err := s.repo.CommunityGames(ctx, community, limit)
	if err != nil {
		log.Printf("[ListGames] community=%s: %v", community, err)
		return []GameListing{}, nil
	}

	views := make([]GameListing, 0, len(ids))
	for _, id := range ids {
		game, err := s.repo.GetGame(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Printf("[ListGames] game=%s: %v", id, err)
			}
			continue
		}
		players, err := s.rounds.ActivePlayers(ctx, id)
		if err != nil {
			log.Printf("[ListGames] game=%s: %v", id, err)
		}
		views = append(views, GameListing{
			ID:          game.ID,
			Status:      game.Status,
			PlayerCount: len(players),
			MaxPlayers:  s.cfg.MaxPlayers,
			CreatedAt:   game.CreatedAt,
		})
	}
	return views, nil
}

// ResetLobby restarts the lobby countdown on behalf of the moderator.
func (s *GameService) ResetLobby(ctx context.Context, gameID, playerID string) (*models.LobbyTimer, error) {
	game, err := s.rounds.requireModerator(ctx, gameID, playerID)
	if err != nil {
		return nil, err
	}
	if !game.IsLobby() {
		return nil, newError(KindGameNotInLobby, "game %s is already %s", gameID, game.Status)
	}
	active, err := s.rounds.ActivePlayers(ctx, gameID)
	if err != nil {
		return nil, serverError("failed to load players", err)
	}
	return s.lobby.restart(ctx, gameID, len(active)), nil
}
