package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"emojiparty/config"
	"emojiparty/handlers"
	"emojiparty/middleware"
	"emojiparty/models"
	"emojiparty/observability"
	"emojiparty/routes"
	"emojiparty/services"
	"emojiparty/store"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

const releaseVersion = "1.0.0"

func main() {
	config.LoadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cobra.CheckErr(newRootCmd().ExecuteContext(ctx))
}

func newRootCmd() *cobra.Command {
	var v *viper.Viper

	serve := func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(v)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	}

	cmd := &cobra.Command{
		Use:           "emojiparty",
		Short:         "Realtime emoji guessing party game server.",
		Args:          cobra.NoArgs,
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          serve,
	}
	config.RegisterFlags(cmd.PersistentFlags())
	v = config.NewViper(cmd.PersistentFlags())

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server (default).",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})
	cmd.AddCommand(newTokenCmd(func() *viper.Viper { return v }))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetVersionTemplate("emojiparty v{{.Version}}\n")
	return cmd
}

// newTokenCmd prints a signed identity token for local play.
func newTokenCmd(v func() *viper.Viper) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Print a signed identity token for local development.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(v())
			token, err := middleware.IssueToken(cfg.JWTSecret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if !cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	redisClient := config.InitRedis(cfg)
	defer redisClient.Close()

	var db *gorm.DB
	if cfg.DatabaseEnabled() {
		var err error
		db, err = config.InitDB(cfg)
		if err != nil {
			return err
		}
		if err := db.AutoMigrate(&models.PhraseRecord{}, &models.GameRecord{}, &models.RoundRecord{}); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	} else {
		log.Printf("No database configured, serving the built-in phrase catalog")
	}

	recorder := observability.New()
	repo := store.New(redisClient, cfg)
	if err := repo.Ping(ctx); err != nil {
		log.Printf("Redis is not reachable yet: %v", err)
	}

	hub := services.NewHub(repo)
	go hub.Run()

	events := services.NewBroadcaster(repo, hub, recorder, cfg.Realtime)
	selector := services.NewPhraseSelector(nil, cfg.Game.AllowPhraseRepeats, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	phraseService := services.NewPhraseService(db, selector)
	if err := phraseService.LoadCatalog(ctx); err != nil {
		return fmt.Errorf("failed to load phrase catalog: %w", err)
	}

	ledger := services.NewScoreLedger(repo, recorder, cfg.Game)
	archive := services.NewArchive(db)
	rounds := services.NewRoundService(repo, selector, events, ledger, archive, recorder, cfg.Game)
	evaluator := services.NewGuessEvaluator(repo, rounds, events, recorder, cfg.Game)
	lobby := services.NewLobbyController(repo, rounds, events, recorder, cfg.Game)
	games := services.NewGameService(repo, rounds, lobby, events, recorder, cfg.Game)

	router := gin.Default()
	router.Use(middleware.CORS())

	routes.SetupRoutes(router, &routes.Handlers{
		Games:       handlers.NewGameHandler(games),
		Rounds:      handlers.NewRoundHandler(rounds, evaluator),
		Lobby:       handlers.NewLobbyHandler(lobby, games),
		Realtime:    handlers.NewRealtimeHandler(events, games),
		Leaderboard: handlers.NewLeaderboardHandler(ledger),
		Phrases:     handlers.NewPhraseHandler(phraseService),
		Health:      handlers.NewHealthHandler(repo, recorder),
	}, hub, repo, cfg.JWTSecret, cfg.AdminUsers)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddress, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Realtime.LongPollWait + 10*time.Second,
		IdleTimeout:       10 * time.Minute,
	}

	errs := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errs:
	}

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}
	lobby.Shutdown()
	if err := rounds.Shutdown(shutdownCtx); err != nil {
		log.Printf("Round timers shutdown: %v", err)
	}
	hub.Shutdown()
	if err := recorder.Shutdown(shutdownCtx); err != nil {
		log.Printf("Recorder shutdown: %v", err)
	}

	return serveErr
}
