package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"auction-bidding/internal/biddingerrors"
	model "auction-bidding/internal/models"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresConfig holds connection settings for OpenPostgres
type PostgresConfig struct {
	Driver          string // "pgx" or "postgres"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenPostgres connects, configures the pool and pings the database
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sqlx.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "pgx"
	}

	db, err := sqlx.ConnectContext(ctx, driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Migrate applies embedded migrations in lexicographic order and records them
// in schema_migrations.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	if _, err := db.ExecContext(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var applied bool
		if err := db.GetContext(ctx, &applied,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, name); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", name, err)
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("postgres: begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("postgres: exec migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("postgres: record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("postgres: commit migration %s: %w", name, err)
		}
	}
	return nil
}

const auctionColumns = `auction_id, product_id, starts_at, ends_at, min_price, current_price,
	is_active, version, created_at, updated_at`

// PostgresRepo implements AuctionDB on PostgreSQL through sqlx
type PostgresRepo struct {
	db *sqlx.DB
}

// NewPostgresRepo creates a repository backed by db
func NewPostgresRepo(db *sqlx.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// GetAuction fetches an auction by id
func (r *PostgresRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	var a model.Auction
	err := r.db.GetContext(ctx, &a, `SELECT `+auctionColumns+` FROM auctions WHERE auction_id = $1`, auctionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Auction{}, fmt.Errorf("auction_repo.GetAuction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		}
		return model.Auction{}, fmt.Errorf("auction_repo.GetAuction: %w", err)
	}
	return a, nil
}

// InsertAuction creates an auction. A taken id reports ErrAuctionExists and
// leaves the stored row alone.
func (r *PostgresRepo) InsertAuction(ctx context.Context, auction model.Auction) error {
	if auction.AuctionID == "" {
		return fmt.Errorf("auction_repo.InsertAuction: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}
	query := `
		INSERT INTO auctions (` + auctionColumns + `)
		VALUES
			(:auction_id, :product_id, :starts_at, :ends_at, :min_price, :current_price,
			 :is_active, :version, :created_at, :updated_at)
		ON CONFLICT (auction_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, auction)
	if err != nil {
		return fmt.Errorf("auction_repo.InsertAuction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("auction_repo.InsertAuction rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("auction_repo.InsertAuction %s: %w", auction.AuctionID, biddingerrors.ErrAuctionExists)
	}
	return nil
}

// FindAuctions lists auctions matching filter ordered by creation time
func (r *PostgresRepo) FindAuctions(ctx context.Context, filter AuctionFilter) ([]model.Auction, error) {
	var (
		conds []string
		args  []any
	)
	if filter.ActiveOnly {
		conds = append(conds, "is_active")
	}
	if !filter.EndedBefore.IsZero() {
		args = append(args, filter.EndedBefore)
		conds = append(conds, fmt.Sprintf("ends_at <= $%d", len(args)))
	}

	query := `SELECT ` + auctionColumns + ` FROM auctions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at ASC, auction_id ASC`

	auctions := []model.Auction{}
	if err := r.db.SelectContext(ctx, &auctions, query, args...); err != nil {
		return nil, fmt.Errorf("auction_repo.FindAuctions: %w", err)
	}
	return auctions, nil
}

// ListBidsByAuction returns the ledger for an auction ordered by timestamp ascending
func (r *PostgresRepo) ListBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	bids := []model.Bid{}
	err := r.db.SelectContext(ctx, &bids,
		`SELECT bid_id, auction_id, user_id, amount, placed_at FROM bids
		 WHERE auction_id = $1 ORDER BY placed_at ASC, amount ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("bid_repo.ListBidsByAuction: %w", err)
	}
	return bids, nil
}

// GetWinningBid returns the highest bid, earliest first on ties
func (r *PostgresRepo) GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error) {
	var b model.Bid
	err := r.db.GetContext(ctx, &b,
		`SELECT bid_id, auction_id, user_id, amount, placed_at FROM bids
		 WHERE auction_id = $1 ORDER BY amount DESC, placed_at ASC LIMIT 1`, auctionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Bid{}, fmt.Errorf("bid_repo.GetWinningBid %s: %w", auctionID, biddingerrors.ErrNoBids)
		}
		return model.Bid{}, fmt.Errorf("bid_repo.GetWinningBid: %w", err)
	}
	return b, nil
}

// GetAuctionsByUser returns every auction the user has bid on
func (r *PostgresRepo) GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error) {
	var auctions []model.Auction
	err := r.db.SelectContext(ctx, &auctions,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE auction_id IN (SELECT DISTINCT auction_id FROM bids WHERE user_id = $1)
		 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.GetAuctionsByUser: %w", err)
	}
	if len(auctions) == 0 {
		return nil, fmt.Errorf("auction_repo.GetAuctionsByUser %s: %w", userID, biddingerrors.ErrUserNoBids)
	}
	return auctions, nil
}

// WithinTx runs fn inside a database transaction, rolling back on any error
func (r *PostgresRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx *sqlx.Tx
}

func (t *postgresTx) InsertBid(ctx context.Context, bid model.Bid) error {
	query := `
		INSERT INTO bids (bid_id, auction_id, user_id, amount, placed_at)
		VALUES (:bid_id, :auction_id, :user_id, :amount, :placed_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, bid); err != nil {
		return fmt.Errorf("bid_repo.InsertBid: %w", err)
	}
	return nil
}

func (t *postgresTx) UpdateAuction(ctx context.Context, auction model.Auction) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE auctions
		SET current_price = $1,
		    is_active     = $2,
		    updated_at    = $3,
		    version       = version + 1
		WHERE auction_id = $4 AND version = $5`,
		auction.CurrentPrice, auction.IsActive, auction.UpdatedAt, auction.AuctionID, auction.Version)
	if err != nil {
		return fmt.Errorf("auction_repo.UpdateAuction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("auction_repo.UpdateAuction rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("auction_repo.UpdateAuction %s at version %d: %w",
			auction.AuctionID, auction.Version, biddingerrors.ErrVersionConflict)
	}
	return nil
}
