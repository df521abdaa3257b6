package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the Config: defaults, then the TOML file at path (skipped when
// path is empty), then .env and process environment overrides. The result is
// NOT validated; call Validate or use LoadValidated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadValidated loads configuration and runs Validate on the result.
// Every command that starts engine components goes through here.
func LoadValidated(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Environment overrides
// ──────────────────────────────────────────────────────────────────────────────

func applyEnv(cfg *Config) error {
	var errs []error
	intVar := func(dst *int, key string) {
		n, err := getInt(key, *dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	floatVar := func(dst *float64, key string) {
		f, err := getFloat(key, *dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.BackofficePort = getEnv("BACKOFFICE_PORT", cfg.Server.BackofficePort)
	cfg.Server.Env = getEnv("ENVIRONMENT", cfg.Server.Env)
	cfg.Server.ReadTimeout = getDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.ShutdownTimeout = getDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.BackofficeAllowedIPs = getEnv("BACKOFFICE_ALLOWED_IPS", cfg.Server.BackofficeAllowedIPs)
	cfg.Server.AllowedOrigins = getList("ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	// ── Database ──────────────────────────────────────────────────────────────
	cfg.DB.Driver = getEnv("DB_DRIVER", cfg.DB.Driver)
	cfg.DB.DSN = getEnv("DATABASE_DSN", cfg.DB.DSN)
	intVar(&cfg.DB.MaxOpenConns, "DB_MAX_OPEN_CONNS")
	intVar(&cfg.DB.MaxIdleConns, "DB_MAX_IDLE_CONNS")
	cfg.DB.ConnMaxLifetime = getDuration("DB_CONN_MAX_LIFETIME", cfg.DB.ConnMaxLifetime)

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT.AccessSecret = getEnv("JWT_ACCESS_SECRET", cfg.JWT.AccessSecret)

	// ── Engine ────────────────────────────────────────────────────────────────
	cfg.Engine.PositionTickInterval = getDuration("ENGINE_POSITION_TICK_INTERVAL", cfg.Engine.PositionTickInterval)
	cfg.Engine.TargetTickInterval = getDuration("ENGINE_TARGET_TICK_INTERVAL", cfg.Engine.TargetTickInterval)
	cfg.Engine.TickTimeout = getDuration("ENGINE_TICK_TIMEOUT", cfg.Engine.TickTimeout)
	intVar(&cfg.Engine.BatchSize, "ENGINE_BATCH_SIZE")
	floatVar(&cfg.Engine.DefaultMultiplier, "ENGINE_DEFAULT_MULTIPLIER")
	cfg.Engine.LockTTL = getDuration("ENGINE_LOCK_TTL", cfg.Engine.LockTTL)

	// ── Price ─────────────────────────────────────────────────────────────────
	cfg.Price.FeedURL = getEnv("PRICE_FEED_URL", cfg.Price.FeedURL)
	cfg.Price.FetchTimeout = getDuration("PRICE_FETCH_TIMEOUT", cfg.Price.FetchTimeout)
	cfg.Price.CacheTTL = getDuration("PRICE_CACHE_TTL", cfg.Price.CacheTTL)
	cfg.Price.SyntheticSymbols = getList("PRICE_SYNTHETIC_SYMBOLS", cfg.Price.SyntheticSymbols)
	intVar(&cfg.Price.SessionStartHour, "PRICE_SESSION_START_HOUR")
	intVar(&cfg.Price.SessionEndHour, "PRICE_SESSION_END_HOUR")
	floatVar(&cfg.Price.SessionBand, "PRICE_SESSION_BAND")
	floatVar(&cfg.Price.OffSessionBand, "PRICE_OFF_SESSION_BAND")
	floatVar(&cfg.Price.ReseedProbability, "PRICE_RESEED_PROBABILITY")
	floatVar(&cfg.Price.MaxTickMove, "PRICE_MAX_TICK_MOVE")

	// ── Payout ────────────────────────────────────────────────────────────────
	floatVar(&cfg.Payout.MinStep, "PAYOUT_MIN_STEP")

	// ── Redis ─────────────────────────────────────────────────────────────────
	cfg.Redis.Enabled = getBool("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	intVar(&cfg.Redis.DB, "REDIS_DB")
	intVar(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	cfg.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)

	// ── Notify ────────────────────────────────────────────────────────────────
	cfg.Notify.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.Notify.TelegramToken)
	cfg.Notify.TelegramAPIURL = getEnv("TELEGRAM_API_URL", cfg.Notify.TelegramAPIURL)
	intVar(&cfg.Notify.QueueSize, "NOTIFY_QUEUE_SIZE")
	cfg.Notify.SendTimeout = getDuration("NOTIFY_SEND_TIMEOUT", cfg.Notify.SendTimeout)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

func getBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// fall back to default; do not crash on parse error
		return defaultVal
	}
	return d
}

// getList splits a comma-separated env var, dropping blanks.
func getList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
