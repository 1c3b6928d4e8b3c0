package routes

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"emojiparty/handlers"
	"emojiparty/middleware"
	"emojiparty/services"
	"emojiparty/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handlers struct {
	Games       *handlers.GameHandler
	Rounds      *handlers.RoundHandler
	Lobby       *handlers.LobbyHandler
	Realtime    *handlers.RealtimeHandler
	Leaderboard *handlers.LeaderboardHandler
	Phrases     *handlers.PhraseHandler
	Health      *handlers.HealthHandler
}

func SetupRoutes(
	router *gin.Engine,
	h *Handlers,
	hub *services.Hub,
	repo *store.Repository,
	jwtSecret string,
	admins []string,
) {
	auth := middleware.AuthMiddleware(jwtSecret)

	api := router.Group("/api")
	api.Use(auth)
	{
		games := api.Group("/games")
		{
			games.GET("", h.Games.ListGames)
			games.POST("", h.Games.CreateGame)
			games.GET("/:gameId", h.Games.GetGame)
			games.GET("/:gameId/qr", h.Games.GameQR)
			games.POST("/:gameId/join", h.Games.JoinGame)
			games.POST("/:gameId/leave", h.Games.LeaveGame)
			games.POST("/:gameId/start", h.Games.StartGame)

			games.POST("/:gameId/rounds", h.Rounds.StartRound)
			games.POST("/:gameId/rounds/next", h.Rounds.NextRound)
			games.GET("/:gameId/rounds/:roundId", h.Rounds.GetRound)
			games.POST("/:gameId/rounds/:roundId/emojis", h.Rounds.SubmitEmojis)
			games.POST("/:gameId/rounds/:roundId/guesses", h.Rounds.SubmitGuess)
			games.POST("/:gameId/rounds/:roundId/end", h.Rounds.EndRound)

			games.GET("/:gameId/lobby-timer", h.Lobby.GetTimer)
			games.POST("/:gameId/lobby-timer/sync", h.Lobby.Sync)
			games.POST("/:gameId/lobby-timer/reset", h.Lobby.Reset)
			games.POST("/:gameId/lobby-timer/check-auto-start", h.Lobby.CheckAutoStart)

			games.GET("/:gameId/events", h.Realtime.Events)
			games.GET("/:gameId/events/history", h.Realtime.History)
			games.POST("/:gameId/heartbeat", h.Realtime.Heartbeat)
		}

		leaderboard := api.Group("/leaderboard")
		{
			leaderboard.GET("/:community", h.Leaderboard.Top)
			leaderboard.GET("/:community/players/:username", h.Leaderboard.Player)
		}

		phrases := api.Group("/phrases")
		phrases.Use(middleware.RequireAdmin(admins))
		{
			phrases.GET("", h.Phrases.ListPhrases)
			phrases.POST("", h.Phrases.CreatePhrase)
			phrases.DELETE("/:id", h.Phrases.DeletePhrase)
		}
	}

	// WebSocket push for one game, authenticated with ?token=
	router.GET("/ws/:gameId", auth, func(c *gin.Context) {
		gameID := c.Param("gameId")
		playerID := middleware.PlayerID(c)
		username := middleware.Username(c)

		lastEventID, err := strconv.ParseInt(c.DefaultQuery("lastEventId", "0"), 10, 64)
		if err != nil || lastEventID < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid lastEventId"})
			return
		}

		if err := validatePlayerAccess(c, repo, gameID, playerID); err != nil {
			log.Printf("[WebSocket] game=%s player=%s: access denied: %v", gameID, playerID, err)
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "Player not found in game"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[WebSocket] game=%s player=%s: upgrade failed: %v", gameID, playerID, err)
			return
		}

		log.Printf("[WebSocket] game=%s player=%s (%s) connected", gameID, playerID, username)
		hub.RegisterClient(c.Request.Context(), conn, gameID, playerID, username, lastEventID)
	})

	router.GET("/health", h.Health.Health)
}

// validatePlayerAccess checks that the player is an active member of the game.
func validatePlayerAccess(c *gin.Context, repo *store.Repository, gameID, playerID string) error {
	player, err := repo.GetPlayer(c.Request.Context(), gameID, playerID)
	if err != nil {
		return err
	}
	if !player.IsActive {
		return errors.New("player has left the game")
	}
	return nil
}
