package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const EnvPrefix = "EMOJIPARTY"

type Config struct {
	Port          string
	BindAddress   string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	JWTSecret     string
	AdminUsers    []string
	Verbose       bool

	Game     GameConfig
	Realtime RealtimeConfig
}

// GameConfig holds the rules of a match and the TTLs of its keys.
type GameConfig struct {
	MinPlayers         int
	MaxPlayers         int
	MaxRounds          int
	RoundDuration      time.Duration
	TickInterval       time.Duration
	TimerBuffer        time.Duration
	LobbyDuration      time.Duration
	LobbyResetOnJoin   bool
	CorrectGuessPoints int
	PresenterPoints    int
	MatchThreshold     float64
	AllowPhraseRepeats bool
	AutoAdvanceDelay   time.Duration
	MaxGuessLength     int
	MaxEmojis          int
	GameTTL            time.Duration
	GuessTTL           time.Duration
}

type RealtimeConfig struct {
	LongPollWait time.Duration
	PollInterval time.Duration
	HistorySize  int
	HistoryTTL   time.Duration
	HistoryLimit int
}

// RegisterFlags declares every setting on fs. The flag defaults are the
// service defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.String("port", "8080", "port to listen on (env: EMOJIPARTY_PORT)")
	fs.String("bind-address", "localhost", "address to bind to (env: EMOJIPARTY_BIND_ADDRESS)")
	fs.String("db-host", "", "postgres host, empty disables the phrase catalog and archive (env: EMOJIPARTY_DB_HOST)")
	fs.String("db-port", "5432", "postgres port (env: EMOJIPARTY_DB_PORT)")
	fs.String("db-user", "emojiparty", "postgres user (env: EMOJIPARTY_DB_USER)")
	fs.String("db-password", "emojiparty123", "postgres password (env: EMOJIPARTY_DB_PASSWORD)")
	fs.String("db-name", "emojiparty", "postgres database (env: EMOJIPARTY_DB_NAME)")
	fs.String("redis-host", "localhost", "redis host (env: EMOJIPARTY_REDIS_HOST)")
	fs.String("redis-port", "6379", "redis port (env: EMOJIPARTY_REDIS_PORT)")
	fs.String("redis-password", "", "redis password (env: EMOJIPARTY_REDIS_PASSWORD)")
	fs.Int("redis-db", 0, "redis database number (env: EMOJIPARTY_REDIS_DB)")
	fs.String("jwt-secret", "your-secret-key-change-in-production", "HMAC secret of identity tokens (env: EMOJIPARTY_JWT_SECRET)")
	fs.StringSlice("admin-users", nil, "usernames allowed to manage the phrase catalog (env: EMOJIPARTY_ADMIN_USERS)")
	fs.BoolP("verbose", "v", false, "log every stored state change (env: EMOJIPARTY_VERBOSE)")

	fs.Int("min-players", 2, "players required to start a match")
	fs.Int("max-players", 8, "players allowed in one game")
	fs.Int("max-rounds", 5, "default number of rounds per game")
	fs.Duration("round-duration", 60*time.Second, "guessing time once emojis are submitted")
	fs.Duration("tick-interval", time.Second, "round timer broadcast cadence")
	fs.Duration("timer-buffer", 5*time.Second, "extra TTL on round timer markers")
	fs.Duration("lobby-duration", 30*time.Second, "lobby countdown before auto-start")
	fs.Bool("lobby-reset-on-join", true, "restart the lobby countdown when a player joins")
	fs.Int("correct-guess-points", 10, "points for the winning guesser")
	fs.Int("presenter-points", 5, "points for the presenter of a solved round")
	fs.Float64("match-threshold", 0.8, "similarity at or above which a guess is correct")
	fs.Bool("allow-phrase-repeats", false, "allow a phrase to repeat within a session")
	fs.Duration("auto-advance-delay", 5*time.Second, "delay before the next round starts, 0 disables")
	fs.Int("max-guess-length", 100, "maximum guess length in characters")
	fs.Int("max-emojis", 10, "maximum emojis in one sequence")
	fs.Duration("game-ttl", 2*time.Hour, "expiry of game, player, round and lobby keys")
	fs.Duration("guess-ttl", time.Hour, "expiry of guess history keys")

	fs.Duration("long-poll-wait", 25*time.Second, "how long an event subscription is held open")
	fs.Duration("poll-interval", time.Second, "how often a held subscription checks for events")
	fs.Int("history-size", 50, "events retained per game")
	fs.Duration("history-ttl", time.Hour, "expiry of event history keys")
	fs.Int("history-limit", 50, "default page size of event history")
}

// NewViper returns a viper instance reading EMOJIPARTY_* variables and bound
// to the flags in fs.
func NewViper(fs *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(fs)
	return v
}

// LoadDotEnv loads an optional .env file into the process environment.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

func Load(v *viper.Viper) *Config {
	return &Config{
		Port:          v.GetString("port"),
		BindAddress:   v.GetString("bind-address"),
		DBHost:        v.GetString("db-host"),
		DBPort:        v.GetString("db-port"),
		DBUser:        v.GetString("db-user"),
		DBPassword:    v.GetString("db-password"),
		DBName:        v.GetString("db-name"),
		RedisHost:     v.GetString("redis-host"),
		RedisPort:     v.GetString("redis-port"),
		RedisPassword: v.GetString("redis-password"),
		RedisDB:       v.GetInt("redis-db"),
		JWTSecret:     v.GetString("jwt-secret"),
		AdminUsers:    splitList(v.GetStringSlice("admin-users")),
		Verbose:       v.GetBool("verbose"),
		Game: GameConfig{
			MinPlayers:         v.GetInt("min-players"),
			MaxPlayers:         v.GetInt("max-players"),
			MaxRounds:          v.GetInt("max-rounds"),
			RoundDuration:      v.GetDuration("round-duration"),
			TickInterval:       v.GetDuration("tick-interval"),
			TimerBuffer:        v.GetDuration("timer-buffer"),
			LobbyDuration:      v.GetDuration("lobby-duration"),
			LobbyResetOnJoin:   v.GetBool("lobby-reset-on-join"),
			CorrectGuessPoints: v.GetInt("correct-guess-points"),
			PresenterPoints:    v.GetInt("presenter-points"),
			MatchThreshold:     v.GetFloat64("match-threshold"),
			AllowPhraseRepeats: v.GetBool("allow-phrase-repeats"),
			AutoAdvanceDelay:   v.GetDuration("auto-advance-delay"),
			MaxGuessLength:     v.GetInt("max-guess-length"),
			MaxEmojis:          v.GetInt("max-emojis"),
			GameTTL:            v.GetDuration("game-ttl"),
			GuessTTL:           v.GetDuration("guess-ttl"),
		},
		Realtime: RealtimeConfig{
			LongPollWait: v.GetDuration("long-poll-wait"),
			PollInterval: v.GetDuration("poll-interval"),
			HistorySize:  v.GetInt("history-size"),
			HistoryTTL:   v.GetDuration("history-ttl"),
			HistoryLimit: v.GetInt("history-limit"),
		},
	}
}

// splitList flattens comma separated entries, which is how a list arrives
// from the environment.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// Defaults returns the configuration with every setting at its default
// value and environment overrides ignored.
func Defaults() *Config {
	fs := pflag.NewFlagSet("defaults", pflag.ContinueOnError)
	RegisterFlags(fs)
	v := viper.New()
	_ = v.BindPFlags(fs)
	return Load(v)
}

func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %s", c.Port)
	}

	g := c.Game
	switch {
	case g.MinPlayers < 1:
		return errors.New("min-players must be at least 1")
	case g.MaxPlayers < g.MinPlayers:
		return fmt.Errorf("max-players (%d) must not be below min-players (%d)", g.MaxPlayers, g.MinPlayers)
	case g.MaxRounds < 1:
		return errors.New("max-rounds must be at least 1")
	case g.RoundDuration <= 0 || g.TickInterval <= 0 || g.LobbyDuration <= 0:
		return errors.New("round-duration, tick-interval and lobby-duration must be positive")
	case g.MatchThreshold <= 0 || g.MatchThreshold > 1:
		return fmt.Errorf("match-threshold must be in (0, 1], got %v", g.MatchThreshold)
	case g.CorrectGuessPoints < 0 || g.PresenterPoints < 0:
		return errors.New("point values must not be negative")
	case g.GuessTTL > g.GameTTL:
		return errors.New("guess-ttl must not exceed game-ttl")
	case g.RoundDuration+g.TimerBuffer > g.GameTTL:
		return errors.New("round timer markers would outlive the game record")
	}

	r := c.Realtime
	switch {
	case r.HistorySize < 1:
		return errors.New("history-size must be at least 1")
	case r.HistoryTTL > g.GameTTL:
		return errors.New("history-ttl must not exceed game-ttl")
	case r.LongPollWait <= 0 || r.PollInterval <= 0:
		return errors.New("long-poll-wait and poll-interval must be positive")
	}

	return nil
}

func (c *Config) DatabaseEnabled() bool {
	return c.DBHost != ""
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return client
}
