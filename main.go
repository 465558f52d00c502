package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-bidding/internal/bidding"
	"auction-bidding/internal/biddingerrors"
	"auction-bidding/internal/config"
	"auction-bidding/internal/events"
	"auction-bidding/internal/lock"
	"auction-bidding/internal/repository"
	"auction-bidding/internal/server"
	"auction-bidding/internal/sweeper"
	"auction-bidding/services/bidding/handler"
	"auction-bidding/utils"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUCTION_CONFIG"), "path to a TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		utils.Fatal("failed to load config", map[string]any{"path": *configPath, "error": err.Error()})
	}
	if err := cfg.Validate(); err != nil {
		utils.Fatal("invalid configuration", map[string]any{"error": err.Error()})
	}
	if err := utils.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		utils.Fatal("failed to configure logger", map[string]any{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		utils.Error("auction server stopped with error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	utils.Info("auction server stopped", nil)
}

func run(ctx context.Context, cfg *config.Config) error {
	repo, closeRepo, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeRepo()

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb = redis.NewClient(cfg.Redis.Options())
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return fmt.Errorf("redis: ping %s: %w", cfg.Redis.Addr, err)
		}
		defer rdb.Close()
	}

	increment, err := cfg.Bidding.Increment()
	if err != nil {
		return err
	}
	engine := bidding.NewEngine(repo, newLocker(cfg.Bidding, rdb),
		bidding.WithMinimumIncrement(increment),
		bidding.WithMaxConflictRetries(cfg.Bidding.MaxConflictRetries),
	)

	hub, publisher := newPublisher(cfg, rdb)
	biddingSvc := bidding.NewBiddingService(repo, engine, publisher)

	if cfg.Server.SeedDemoData {
		prepopulateAuctions(ctx, biddingSvc)
	}

	var live handler.LiveFeed
	if hub != nil {
		live = hub
	}
	router := server.SetupRouter(biddingSvc, live)

	srv := &http.Server{
		Addr:         getPort(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		utils.Info("starting auction server", map[string]any{
			"addr":     srv.Addr,
			"storage":  cfg.Storage.Backend,
			"lock":     cfg.Bidding.LockBackend,
			"events":   cfg.Events.Backend,
			"min_step": increment.String(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if hub != nil {
			hub.Close()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if cfg.Sweeper.Enabled {
		sw := sweeper.New(biddingSvc, cfg.Sweeper.Interval.Duration)
		g.Go(func() error { return sw.Run(gctx) })
	}

	return g.Wait()
}

// openStore returns the configured AuctionDB and a func releasing its resources
func openStore(ctx context.Context, cfg config.StorageConfig) (repository.AuctionDB, func(), error) {
	if cfg.Backend != "postgres" {
		return repository.NewMemoryRepo(), func() {}, nil
	}

	db, err := repository.OpenPostgres(ctx, repository.PostgresConfig{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime.Duration,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		if err := repository.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		utils.Info("database migrations applied", map[string]any{"driver": cfg.Driver})
	}
	return repository.NewPostgresRepo(db), func() { _ = db.Close() }, nil
}

func newLocker(cfg config.BiddingConfig, rdb *redis.Client) lock.Locker {
	switch cfg.LockBackend {
	case "redis":
		return lock.NewRedisLocker(rdb, cfg.LockTTL.Duration, cfg.LockPollInterval.Duration)
	case "none":
		return lock.NoopLocker{}
	default:
		return lock.NewKeyedLocker()
	}
}

// newPublisher builds the configured event fan-out. hub is nil unless the
// websocket feed is enabled.
func newPublisher(cfg *config.Config, rdb *redis.Client) (*events.Hub, events.Publisher) {
	var (
		hub  *events.Hub
		pubs events.Multi
	)
	switch cfg.Events.Backend {
	case "hub", "both":
		hub = events.NewHub(cfg.Server.AllowedOrigins)
		pubs = append(pubs, hub)
	}
	switch cfg.Events.Backend {
	case "redis", "both":
		pubs = append(pubs, events.NewRedisPublisher(rdb, cfg.Events.Channel))
	}
	if len(pubs) == 0 {
		return nil, events.Nop{}
	}
	return hub, pubs
}

// prepopulateAuctions adds sample auctions so a fresh server has something to bid on
func prepopulateAuctions(ctx context.Context, svc *bidding.BiddingService) {
	ends := time.Now().UTC().Add(24 * time.Hour)
	auctions := []bidding.CreateAuctionInput{
		{AuctionID: "auction1", ProductID: "product1", EndsAt: ends, MinPrice: decimal.NewFromInt(100)},
		{AuctionID: "auction2", ProductID: "product2", EndsAt: ends, MinPrice: decimal.NewFromInt(200)},
		{AuctionID: "auction3", ProductID: "product3", EndsAt: ends, MinPrice: decimal.NewFromInt(150)},
	}

	for _, in := range auctions {
		if _, err := svc.CreateAuction(ctx, in); err != nil && !errors.Is(err, biddingerrors.ErrAuctionExists) {
			utils.Warn("failed to seed auction", map[string]any{"auction_id": in.AuctionID, "error": err.Error()})
		}
	}
}

// getPort turns a bare port into a listen address, defaulting to ":8080"
func getPort(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
