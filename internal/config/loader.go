package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, then applies environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// PORT is kept for platforms that inject it
	setStr(&cfg.Server.Port, "PORT")
	setStr(&cfg.Server.Port, "AUCTION_SERVER_PORT")
	setDuration(&cfg.Server.ReadTimeout, "AUCTION_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "AUCTION_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "AUCTION_SERVER_SHUTDOWN_TIMEOUT")
	setStringSlice(&cfg.Server.AllowedOrigins, "AUCTION_SERVER_ALLOWED_ORIGINS")
	setBool(&cfg.Server.SeedDemoData, "AUCTION_SERVER_SEED_DEMO_DATA")

	setStr(&cfg.Bidding.MinimumIncrement, "AUCTION_BIDDING_MINIMUM_INCREMENT")
	setInt(&cfg.Bidding.MaxConflictRetries, "AUCTION_BIDDING_MAX_CONFLICT_RETRIES")
	setStr(&cfg.Bidding.LockBackend, "AUCTION_BIDDING_LOCK_BACKEND")
	setDuration(&cfg.Bidding.LockTTL, "AUCTION_BIDDING_LOCK_TTL")
	setDuration(&cfg.Bidding.LockPollInterval, "AUCTION_BIDDING_LOCK_POLL_INTERVAL")

	setStr(&cfg.Storage.Backend, "AUCTION_STORAGE_BACKEND")
	setStr(&cfg.Storage.Driver, "AUCTION_STORAGE_DRIVER")
	setStr(&cfg.Storage.DSN, "AUCTION_STORAGE_DSN")
	setStr(&cfg.Storage.DSN, "DATABASE_URL") // compatibility alias
	setInt(&cfg.Storage.MaxOpenConns, "AUCTION_STORAGE_MAX_OPEN_CONNS")
	setInt(&cfg.Storage.MaxIdleConns, "AUCTION_STORAGE_MAX_IDLE_CONNS")
	setDuration(&cfg.Storage.ConnMaxLifetime, "AUCTION_STORAGE_CONN_MAX_LIFETIME")
	setBool(&cfg.Storage.RunMigrations, "AUCTION_STORAGE_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "AUCTION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTION_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUCTION_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUCTION_REDIS_MAX_RETRIES")

	setStr(&cfg.Events.Backend, "AUCTION_EVENTS_BACKEND")
	setStr(&cfg.Events.Channel, "AUCTION_EVENTS_CHANNEL")

	setBool(&cfg.Sweeper.Enabled, "AUCTION_SWEEPER_ENABLED")
	setDuration(&cfg.Sweeper.Interval, "AUCTION_SWEEPER_INTERVAL")

	setStr(&cfg.Log.Level, "AUCTION_LOG_LEVEL")
	setStr(&cfg.Log.Format, "AUCTION_LOG_FORMAT")
}

// Each helper only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var cleaned []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
