package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 2, cfg.Game.MinPlayers)
	assert.Equal(t, 60*time.Second, cfg.Game.RoundDuration)
	assert.Equal(t, 0.8, cfg.Game.MatchThreshold)
	assert.Equal(t, 50, cfg.Realtime.HistorySize)
	assert.False(t, cfg.DatabaseEnabled())
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Port = "70000" }},
		{"port not a number", func(c *Config) { c.Port = "http" }},
		{"no players", func(c *Config) { c.Game.MinPlayers = 0 }},
		{"max below min", func(c *Config) { c.Game.MaxPlayers = 1 }},
		{"threshold above one", func(c *Config) { c.Game.MatchThreshold = 1.5 }},
		{"negative points", func(c *Config) { c.Game.PresenterPoints = -1 }},
		{"guesses outlive game", func(c *Config) { c.Game.GuessTTL = 3 * time.Hour }},
		{"marker outlives game", func(c *Config) { c.Game.RoundDuration = 2 * time.Hour }},
		{"empty history", func(c *Config) { c.Realtime.HistorySize = 0 }},
		{"zero poll interval", func(c *Config) { c.Realtime.PollInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("EMOJIPARTY_PORT", "9090")
	t.Setenv("EMOJIPARTY_BIND_ADDRESS", "0.0.0.0")
	t.Setenv("EMOJIPARTY_ROUND_DURATION", "45s")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	cfg := Load(NewViper(fs))

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.BindAddress)
	assert.Equal(t, 45*time.Second, cfg.Game.RoundDuration)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("EMOJIPARTY_MAX_ROUNDS", "7")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--max-rounds=3", "--db-host", "db"}))
	cfg := Load(NewViper(fs))

	assert.Equal(t, 3, cfg.Game.MaxRounds)
	assert.True(t, cfg.DatabaseEnabled())
}

func TestAdminUsersFromEnvironmentAndFlags(t *testing.T) {
	assert.Empty(t, Defaults().AdminUsers)

	t.Setenv("EMOJIPARTY_ADMIN_USERS", "alice, bob")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	assert.Equal(t, []string{"alice", "bob"}, Load(NewViper(fs)).AdminUsers)

	fs = pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--admin-users=carol,dave"}))
	assert.Equal(t, []string{"carol", "dave"}, Load(NewViper(fs)).AdminUsers)
}
