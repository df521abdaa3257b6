// Package config provides application configuration. Values start from
// Defaults(), are overlaid by an optional TOML file and finally by
// environment variables (a .env file is honoured).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        `toml:"port"`                   // e.g. "8080"
	BackofficePort       string        `toml:"backoffice_port"`        // e.g. "8081"
	Env                  string        `toml:"env"`                    // "development" | "production"
	ReadTimeout          time.Duration `toml:"read_timeout"`           // default 10s
	WriteTimeout         time.Duration `toml:"write_timeout"`          // default 10s
	ShutdownTimeout      time.Duration `toml:"shutdown_timeout"`       // default 15s
	BackofficeAllowedIPs string        `toml:"backoffice_allowed_ips"` // comma-separated IPs; "" = allow all
	AllowedOrigins       []string      `toml:"allowed_origins"`        // CORS + WS origins; empty = allow all
}

// DBConfig holds relational store connection settings.
type DBConfig struct {
	Driver          string        `toml:"driver"` // "postgres" (lib/pq) | "pgx" | "sqlite3"
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`    // default 25
	MaxIdleConns    int           `toml:"max_idle_conns"`    // default 10
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"` // default 5m
}

// JWTConfig holds the secret used to verify access tokens. Tokens are issued
// by the auth service; this process only verifies them.
type JWTConfig struct {
	AccessSecret string `toml:"access_secret"`
}

// EngineConfig controls the two periodic loops and position valuation.
type EngineConfig struct {
	PositionTickInterval time.Duration      `toml:"position_tick_interval"` // default 3s
	TargetTickInterval   time.Duration      `toml:"target_tick_interval"`   // default 5s
	TickTimeout          time.Duration      `toml:"tick_timeout"`           // upper bound for one pass
	BatchSize            int                `toml:"batch_size"`             // open positions loaded per tick
	DefaultMultiplier    float64            `toml:"default_multiplier"`     // contract multiplier, default 100
	Multipliers          map[string]float64 `toml:"multipliers"`            // per-symbol overrides
	LockTTL              time.Duration      `toml:"lock_ttl"`               // cross-replica tick lock, must outlive TickTimeout
}

// MultiplierFor returns the contract multiplier for symbol.
func (e EngineConfig) MultiplierFor(symbol string) decimal.Decimal {
	if m, ok := e.Multipliers[strings.ToUpper(symbol)]; ok && m > 0 {
		return decimal.NewFromFloat(m)
	}
	return decimal.NewFromFloat(e.DefaultMultiplier)
}

// PriceConfig holds quote feed and random-walk settings.
type PriceConfig struct {
	FeedURL      string        `toml:"feed_url"`      // Binance-compatible REST base URL
	FetchTimeout time.Duration `toml:"fetch_timeout"` // default 2s
	CacheTTL     time.Duration `toml:"cache_ttl"`     // default 5s

	SyntheticSymbols  []string           `toml:"synthetic_symbols"`  // random-walk instruments
	Anchors           map[string]string  `toml:"anchors"`            // synthetic → reference symbol used for reseeding
	Seeds             map[string]float64 `toml:"seeds"`              // fallback seed when no anchor quote exists
	SessionStartHour  int                `toml:"session_start_hour"` // UTC, inclusive
	SessionEndHour    int                `toml:"session_end_hour"`   // UTC, exclusive
	SessionBand       float64            `toml:"session_band"`       // max |δ| per tick in session
	OffSessionBand    float64            `toml:"off_session_band"`   // max |δ| per tick off session
	ReseedProbability float64            `toml:"reseed_probability"` // chance per call of reseeding from the anchor
	MaxTickMove       float64            `toml:"max_tick_move"`      // hard clamp relative to the previous price
}

// IsSynthetic reports whether symbol is priced by the random walk.
func (p PriceConfig) IsSynthetic(symbol string) bool {
	for _, s := range p.SyntheticSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// PayoutConfig holds daily-target drip settings.
type PayoutConfig struct {
	MinStep float64 `toml:"min_step"` // smallest intermediate payout, default 0.01
}

// RedisConfig holds the optional shared cache / lock backend.
type RedisConfig struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	PoolSize  int    `toml:"pool_size"`
	KeyPrefix string `toml:"key_prefix"`
}

// NotifyConfig holds outbound notification settings.
type NotifyConfig struct {
	TelegramToken  string        `toml:"telegram_token"`
	TelegramAPIURL string        `toml:"telegram_api_url"`
	QueueSize      int           `toml:"queue_size"`
	SendTimeout    time.Duration `toml:"send_timeout"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server   ServerConfig `toml:"server"`
	DB       DBConfig     `toml:"db"`
	JWT      JWTConfig    `toml:"jwt"`
	Engine   EngineConfig `toml:"engine"`
	Price    PriceConfig  `toml:"price"`
	Payout   PayoutConfig `toml:"payout"`
	Redis    RedisConfig  `toml:"redis"`
	Notify   NotifyConfig `toml:"notify"`
	LogLevel string       `toml:"log_level"`
}

// Defaults returns a Config populated with development defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			BackofficePort:  "8081",
			Env:             "development",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		DB: DBConfig{
			Driver:          "postgres",
			DSN:             "host=localhost port=5432 user=postgres dbname=tradesim sslmode=disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Engine: EngineConfig{
			PositionTickInterval: 3 * time.Second,
			TargetTickInterval:   5 * time.Second,
			TickTimeout:          30 * time.Second,
			BatchSize:            500,
			DefaultMultiplier:    100,
			Multipliers:          map[string]float64{},
			LockTTL:              45 * time.Second,
		},
		Price: PriceConfig{
			FeedURL:           "https://api.binance.com",
			FetchTimeout:      2 * time.Second,
			CacheTTL:          5 * time.Second,
			SyntheticSymbols:  []string{"XAUUSD"},
			Anchors:           map[string]string{"XAUUSD": "PAXGUSDT"},
			Seeds:             map[string]float64{"XAUUSD": 2650},
			SessionStartHour:  7,
			SessionEndHour:    21,
			SessionBand:       0.0015,
			OffSessionBand:    0.0004,
			ReseedProbability: 0.02,
			MaxTickMove:       0.01,
		},
		Payout: PayoutConfig{
			MinStep: 0.01,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "tradesim",
		},
		Notify: NotifyConfig{
			TelegramAPIURL: "https://api.telegram.org",
			QueueSize:      256,
			SendTimeout:    5 * time.Second,
		},
		LogLevel: "info",
	}
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

var validDrivers = map[string]bool{
	"postgres": true,
	"pgx":      true,
	"sqlite3":  true,
}

// Validate checks that all required configuration values are present and
// valid. Every problem found is reported in one joined error.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}
	if !validDrivers[c.DB.Driver] {
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q (valid: postgres, pgx, sqlite3)", c.DB.Driver))
	}
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	if c.Engine.PositionTickInterval <= 0 || c.Engine.TargetTickInterval <= 0 {
		errs = append(errs, errors.New("engine tick intervals must be positive"))
	}
	if c.Engine.TickTimeout <= 0 {
		errs = append(errs, errors.New("ENGINE_TICK_TIMEOUT must be positive"))
	}
	if c.Engine.LockTTL <= c.Engine.TickTimeout {
		errs = append(errs, fmt.Errorf(
			"ENGINE_LOCK_TTL (%s) must be longer than ENGINE_TICK_TIMEOUT (%s)",
			c.Engine.LockTTL, c.Engine.TickTimeout,
		))
	}
	if c.Engine.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ENGINE_BATCH_SIZE must be positive, got %d", c.Engine.BatchSize))
	}
	if c.Engine.DefaultMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("ENGINE_DEFAULT_MULTIPLIER must be positive, got %.4f", c.Engine.DefaultMultiplier))
	}

	if c.Price.SessionStartHour < 0 || c.Price.SessionStartHour > 23 ||
		c.Price.SessionEndHour < 0 || c.Price.SessionEndHour > 24 {
		errs = append(errs, fmt.Errorf(
			"session hours must be within 0..24, got %d..%d",
			c.Price.SessionStartHour, c.Price.SessionEndHour,
		))
	}
	if c.Price.MaxTickMove <= 0 || c.Price.MaxTickMove >= 1 {
		errs = append(errs, fmt.Errorf(
			"PRICE_MAX_TICK_MOVE must be between 0 and 1 (exclusive), got %.4f",
			c.Price.MaxTickMove,
		))
	}
	if c.Price.ReseedProbability < 0 || c.Price.ReseedProbability > 1 {
		errs = append(errs, fmt.Errorf(
			"PRICE_RESEED_PROBABILITY must be between 0 and 1, got %.4f",
			c.Price.ReseedProbability,
		))
	}
	if c.Payout.MinStep <= 0 {
		errs = append(errs, fmt.Errorf("PAYOUT_MIN_STEP must be positive, got %.4f", c.Payout.MinStep))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("REDIS_ADDR must be set when redis is enabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
