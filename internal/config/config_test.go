package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, int64(10), cfg.Wager.MinStake)
	assert.Equal(t, 30, cfg.Wager.MaxDuration)
	assert.Equal(t, 1, cfg.Wager.CashoutTolerance)
	assert.Len(t, cfg.Wager.HazardBands, 5)
	assert.Equal(t, 60*time.Second, cfg.Reaper.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Reaper.StaleAfter)
	assert.Equal(t, time.Second, cfg.Tick.Interval)
	assert.Equal(t, int64(10000), cfg.Accounts.InitialBalance)
	assert.Empty(t, cfg.Auth.AdminIDs)
	assert.False(t, cfg.IsAdmin(1))

	curve, err := cfg.Wager.Curve()
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.93").Equal(curve.Multiplier(1)))
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("WAGER_MAX_STAKE", "5000")
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("REAPER_STALE_AFTER", "5m")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, int64(5000), cfg.Wager.MaxStake)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5*time.Minute, cfg.Reaper.StaleAfter)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
auth:
  admin_ids: [900, 901]
wager:
  max_duration: 20
  house_edge: 0.05
  hazard_bands:
    - up_to: 10
      probability: 0.02
    - up_to: 20
      probability: 0.04
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	require.Len(t, cfg.Wager.HazardBands, 2)
	assert.Equal(t, 20, cfg.Wager.MaxDuration)
	assert.True(t, cfg.IsAdmin(901))
	assert.False(t, cfg.IsAdmin(7))

	curve, err := cfg.Wager.Curve()
	require.NoError(t, err)
	assert.Equal(t, 20, curve.MaxDuration())
	assert.True(t, decimal.RequireFromString("0.04").Equal(curve.HazardProbability(15)))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Wager: WagerConfig{
				MinStake:         10,
				MaxStake:         1000,
				MaxDuration:      30,
				HouseEdge:        0.08,
				HazardBands:      []HazardBandConfig{{UpTo: 30, Probability: 0.05}},
				CashoutTolerance: 1,
				MirrorTTL:        time.Minute,
			},
			Reaper: ReaperConfig{Interval: time.Minute, StaleAfter: 2 * time.Minute},
			Tick:   TickConfig{Interval: time.Second},
		}
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty stake range", func(c *Config) { c.Wager.MaxStake = 5 }},
		{"zero min stake", func(c *Config) { c.Wager.MinStake = 0 }},
		{"negative tolerance", func(c *Config) { c.Wager.CashoutTolerance = -1 }},
		{"mirror shorter than horizon", func(c *Config) { c.Wager.MirrorTTL = 10 * time.Second }},
		{"reaper inside playable window", func(c *Config) { c.Reaper.StaleAfter = 31 * time.Second }},
		{"invalid edge", func(c *Config) { c.Wager.HouseEdge = 1.5 }},
		{"no bands", func(c *Config) { c.Wager.HazardBands = nil }},
		{"zero tick interval", func(c *Config) { c.Tick.Interval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5432, Name: "n"}
	assert.Equal(t, "postgres://u:p@h:5432/n?sslmode=disable", d.DSN())
}
