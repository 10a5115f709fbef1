// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"hazard-wager/internal/payout"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Wager     WagerConfig     `mapstructure:"wager"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
	Tick      TickConfig      `mapstructure:"tick"`
	Accounts  AccountsConfig  `mapstructure:"accounts"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Env             string        `mapstructure:"env"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig holds JWT settings and the operator accounts allowed on the
// admin routes.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	AdminIDs  []int64       `mapstructure:"admin_ids"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds the ephemeral store connection.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// HazardBandConfig is one step of the hazard schedule.
type HazardBandConfig struct {
	UpTo        int     `mapstructure:"up_to"`
	Probability float64 `mapstructure:"probability"`
}

// WagerConfig holds the game economics and engine timeouts.
type WagerConfig struct {
	MinStake         int64              `mapstructure:"min_stake"`
	MaxStake         int64              `mapstructure:"max_stake"`
	MaxDuration      int                `mapstructure:"max_duration"`
	HouseEdge        float64            `mapstructure:"house_edge"`
	HazardBands      []HazardBandConfig `mapstructure:"hazard_bands"`
	CashoutTolerance int                `mapstructure:"cashout_tolerance"`
	MirrorTTL        time.Duration      `mapstructure:"mirror_ttl"`
	OpTimeout        time.Duration      `mapstructure:"op_timeout"`
	LockTimeout      time.Duration      `mapstructure:"lock_timeout"`
}

// ReaperConfig holds the abandonment sweep settings.
type ReaperConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	BatchSize  int           `mapstructure:"batch_size"`
}

// TickConfig holds the per-session tick loop settings.
type TickConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	DurableRecheck int           `mapstructure:"durable_recheck"`
}

// AccountsConfig holds account defaults.
type AccountsConfig struct {
	InitialBalance int64 `mapstructure:"initial_balance"`
}

// RateLimitConfig bounds wager requests per user.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Curve builds the payout curve described by the wager section.
func (w *WagerConfig) Curve() (*payout.Curve, error) {
	bands := make([]payout.Band, 0, len(w.HazardBands))
	for _, b := range w.HazardBands {
		bands = append(bands, payout.Band{
			UpTo:        b.UpTo,
			Probability: decimal.NewFromFloat(b.Probability),
		})
	}
	return payout.NewCurve(bands, decimal.NewFromFloat(w.HouseEdge), w.MaxDuration)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, REDIS_ADDR, WAGER_MAX_STAKE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the rules that span several settings.
func (c *Config) Validate() error {
	w := c.Wager
	if w.MinStake < 1 || w.MaxStake < w.MinStake {
		return fmt.Errorf("stake range [%d, %d] is empty", w.MinStake, w.MaxStake)
	}
	if w.CashoutTolerance < 0 {
		return errors.New("cashout tolerance must not be negative")
	}
	if _, err := w.Curve(); err != nil {
		return fmt.Errorf("hazard schedule: %w", err)
	}

	horizon := time.Duration(w.MaxDuration) * time.Second
	if w.MirrorTTL < horizon {
		return fmt.Errorf("mirror ttl %s is shorter than the %s horizon", w.MirrorTTL, horizon)
	}

	// The reaper must never settle a session the player could still cash out.
	playable := horizon + time.Duration(w.CashoutTolerance)*time.Second
	if c.Reaper.StaleAfter <= playable {
		return fmt.Errorf("reaper stale_after %s must exceed the playable window %s", c.Reaper.StaleAfter, playable)
	}
	if c.Reaper.Interval <= 0 || c.Tick.Interval <= 0 {
		return errors.New("reaper and tick intervals must be positive")
	}

	return nil
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Auth.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "change-me")
	v.SetDefault("auth.issuer", "hazard-wager")
	v.SetDefault("auth.token_ttl", "24h")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "wager")
	v.SetDefault("database.name", "wager")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "2s")
	v.SetDefault("redis.read_timeout", "500ms")
	v.SetDefault("redis.write_timeout", "500ms")

	// Wager defaults
	v.SetDefault("wager.min_stake", 10)
	v.SetDefault("wager.max_stake", 100000)
	v.SetDefault("wager.max_duration", payout.DefaultMaxDuration)
	v.SetDefault("wager.house_edge", 0.08)
	v.SetDefault("wager.hazard_bands", []map[string]any{
		{"up_to": 5, "probability": 0.01},
		{"up_to": 10, "probability": 0.03},
		{"up_to": 15, "probability": 0.05},
		{"up_to": 20, "probability": 0.07},
		{"up_to": 30, "probability": 0.10},
	})
	v.SetDefault("wager.cashout_tolerance", 1)
	v.SetDefault("wager.mirror_ttl", "2m")
	v.SetDefault("wager.op_timeout", "3s")
	v.SetDefault("wager.lock_timeout", "2s")

	// Reaper defaults
	v.SetDefault("reaper.interval", "60s")
	v.SetDefault("reaper.stale_after", "2m")
	v.SetDefault("reaper.batch_size", 100)

	// Tick defaults
	v.SetDefault("tick.interval", "1s")
	v.SetDefault("tick.durable_recheck", 5)

	// Account defaults
	v.SetDefault("accounts.initial_balance", 10000)

	// Rate limit defaults
	v.SetDefault("rate_limit.requests", 60)
	v.SetDefault("rate_limit.window", "1m")
}
