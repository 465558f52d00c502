// Package config holds the service configuration: defaults, an optional TOML
// file, a .env file and AUCTION_* environment overrides, applied in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"auction-bidding/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Config is the root configuration
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Bidding BiddingConfig `toml:"bidding"`
	Storage StorageConfig `toml:"storage"`
	Redis   RedisConfig   `toml:"redis"`
	Events  EventsConfig  `toml:"events"`
	Sweeper SweeperConfig `toml:"sweeper"`
	Log     LogConfig     `toml:"log"`
}

// ServerConfig holds HTTP server parameters
type ServerConfig struct {
	Port            string   `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	SeedDemoData    bool     `toml:"seed_demo_data"`
}

// BiddingConfig tunes the bidding engine
type BiddingConfig struct {
	MinimumIncrement   string   `toml:"minimum_increment"`
	MaxConflictRetries int      `toml:"max_conflict_retries"`
	LockBackend        string   `toml:"lock_backend"` // memory | redis | none
	LockTTL            duration `toml:"lock_ttl"`
	LockPollInterval   duration `toml:"lock_poll_interval"`
}

// Increment parses MinimumIncrement
func (b BiddingConfig) Increment() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(b.MinimumIncrement))
	if err != nil {
		return decimal.Zero, fmt.Errorf("bidding: minimum_increment %q: %w", b.MinimumIncrement, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("bidding: minimum_increment must be positive, got %s", d)
	}
	if !models.FitsMoneyScale(d) {
		return decimal.Zero, fmt.Errorf("bidding: minimum_increment %s has more than %d decimal places", d, models.MoneyScale)
	}
	return d, nil
}

// StorageConfig selects the auction store
type StorageConfig struct {
	Backend         string   `toml:"backend"` // memory | postgres
	Driver          string   `toml:"driver"`  // pgx | postgres
	DSN             string   `toml:"dsn"`
	MaxOpenConns    int      `toml:"max_open_conns"`
	MaxIdleConns    int      `toml:"max_idle_conns"`
	ConnMaxLifetime duration `toml:"conn_max_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// EventsConfig selects where committed bids are announced
type EventsConfig struct {
	Backend string `toml:"backend"` // hub | redis | both | none
	Channel string `toml:"channel"`
}

// SweeperConfig controls the expired-auction sweeper
type SweeperConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// LogConfig controls logrus output
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | text
}

// duration lets the TOML decoder read strings like "30s"
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration that runs fully in memory
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{10 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
			SeedDemoData:    true,
		},
		Bidding: BiddingConfig{
			MinimumIncrement:   "10",
			MaxConflictRetries: 3,
			LockBackend:        "memory",
			LockTTL:            duration{10 * time.Second},
			LockPollInterval:   duration{25 * time.Millisecond},
		},
		Storage: StorageConfig{
			Backend:         "memory",
			Driver:          "pgx",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: duration{30 * time.Minute},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Events: EventsConfig{
			Backend: "hub",
			Channel: "auctions",
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Interval: duration{30 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var (
	validLockBackends    = map[string]bool{"memory": true, "redis": true, "none": true}
	validStorageBackends = map[string]bool{"memory": true, "postgres": true}
	validDrivers         = map[string]bool{"pgx": true, "postgres": true}
	validEventBackends   = map[string]bool{"hub": true, "redis": true, "both": true, "none": true}
	validLogLevels       = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats      = map[string]bool{"json": true, "text": true}
)

// NeedsRedis reports whether any configured component talks to Redis
func (c *Config) NeedsRedis() bool {
	return c.Bidding.LockBackend == "redis" || c.Events.Backend == "redis" || c.Events.Backend == "both"
}

// Validate returns every problem found, joined
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server: port must not be empty"))
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, errors.New("server: shutdown_timeout must be positive"))
	}

	if _, err := c.Bidding.Increment(); err != nil {
		errs = append(errs, err)
	}
	if c.Bidding.MaxConflictRetries < 0 {
		errs = append(errs, errors.New("bidding: max_conflict_retries must not be negative"))
	}
	if !validLockBackends[c.Bidding.LockBackend] {
		errs = append(errs, fmt.Errorf("bidding: unknown lock_backend %q (valid: memory, redis, none)", c.Bidding.LockBackend))
	}
	if c.Bidding.LockBackend == "redis" && c.Bidding.LockTTL.Duration <= 0 {
		errs = append(errs, errors.New("bidding: lock_ttl must be positive for the redis lock"))
	}

	if !validStorageBackends[c.Storage.Backend] {
		errs = append(errs, fmt.Errorf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}
	if c.Storage.Backend == "postgres" {
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage: dsn is required for the postgres backend"))
		}
		if !validDrivers[c.Storage.Driver] {
			errs = append(errs, fmt.Errorf("storage: unknown driver %q (valid: pgx, postgres)", c.Storage.Driver))
		}
	}
	if c.Bidding.LockBackend == "none" && c.Storage.Backend != "postgres" {
		errs = append(errs, errors.New("bidding: lock_backend none requires the postgres storage backend"))
	}

	if c.NeedsRedis() && strings.TrimSpace(c.Redis.Addr) == "" {
		errs = append(errs, errors.New("redis: addr is required by the configured lock or events backend"))
	}

	if !validEventBackends[c.Events.Backend] {
		errs = append(errs, fmt.Errorf("events: unknown backend %q (valid: hub, redis, both, none)", c.Events.Backend))
	}

	if c.Sweeper.Enabled && c.Sweeper.Interval.Duration <= 0 {
		errs = append(errs, errors.New("sweeper: interval must be positive"))
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Errorf("log: unknown format %q (valid: json, text)", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Options converts the section into go-redis client options
func (r RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:       r.Addr,
		Password:   r.Password,
		DB:         r.DB,
		PoolSize:   r.PoolSize,
		MaxRetries: r.MaxRetries,
	}
}
