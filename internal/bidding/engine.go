package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-bidding/internal/biddingerrors"
	"auction-bidding/internal/lock"
	"auction-bidding/internal/models"
	"auction-bidding/internal/repository"
	"auction-bidding/utils"

	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxConflictRetries bounds how often a bid is re-validated after
	// another writer committed between our read and our conditional update.
	DefaultMaxConflictRetries = 3
)

// DefaultMinimumIncrement is the platform-wide step between accepted bids
var DefaultMinimumIncrement = decimal.NewFromInt(10)

// Engine serializes bids per auction and commits accepted ones atomically
type Engine struct {
	repo   repository.AuctionDB
	locker lock.Locker

	increment  decimal.Decimal
	maxRetries int
	now        func() time.Time
	newID      func() string
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the clock used for the bidding window and timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMinimumIncrement sets the step between accepted bids. Non-positive
// values and values finer than models.MoneyScale are ignored.
func WithMinimumIncrement(inc decimal.Decimal) Option {
	return func(e *Engine) {
		if inc.IsPositive() && models.FitsMoneyScale(inc) {
			e.increment = inc
		}
	}
}

// WithMaxConflictRetries bounds re-validation after a version conflict
func WithMaxConflictRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithIDGenerator overrides bid ID generation
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewEngine creates an Engine. A nil locker falls back to an in-process KeyedLocker.
func NewEngine(repo repository.AuctionDB, locker lock.Locker, opts ...Option) *Engine {
	if locker == nil {
		locker = lock.NewKeyedLocker()
	}
	e := &Engine{
		repo:       repo,
		locker:     locker,
		increment:  DefaultMinimumIncrement,
		maxRetries: DefaultMaxConflictRetries,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      utils.NewID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MinimumIncrement returns the configured step between accepted bids
func (e *Engine) MinimumIncrement() decimal.Decimal {
	return e.increment
}

// PlaceBid accepts amount for auctionID or returns a *biddingerrors.Rejection.
// A ctx that is done before the auction's scope is acquired yields the ctx
// error; once validation has passed the commit runs to completion regardless
// of ctx.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, userID string, amount decimal.Decimal) (models.Bid, error) {
	switch {
	case auctionID == "":
		return models.Bid{}, biddingerrors.InvalidBid("missing auction id")
	case userID == "":
		return models.Bid{}, biddingerrors.InvalidBid("missing user id")
	case !amount.IsPositive():
		return models.Bid{}, biddingerrors.InvalidBid("bid amount must be positive")
	case !models.FitsMoneyScale(amount):
		return models.Bid{}, biddingerrors.InvalidBid(fmt.Sprintf("bid amount has more than %d decimal places", models.MoneyScale))
	}

	release, err := e.acquire(ctx, auctionID)
	if err != nil {
		return models.Bid{}, err
	}
	defer release()

	for attempt := 0; ; attempt++ {
		auction, err := e.repo.GetAuction(ctx, auctionID)
		if err != nil {
			return models.Bid{}, e.readError(ctx, auctionID, err)
		}

		now := e.now()
		if !auction.OpenAt(now) {
			return models.Bid{}, biddingerrors.AuctionNotActive(auctionID)
		}

		required := auction.NextMinimum(e.increment)
		if amount.LessThan(required) {
			return models.Bid{}, biddingerrors.BidTooLow(auctionID, required)
		}

		if auction.UpdatedAt.After(now) {
			now = auction.UpdatedAt
		}
		bid := models.Bid{
			BidID:     e.newID(),
			AuctionID: auctionID,
			UserID:    userID,
			Amount:    amount,
			Timestamp: now,
		}
		auction.CurrentPrice = amount
		auction.UpdatedAt = now

		err = e.repo.WithinTx(context.WithoutCancel(ctx), func(ctx context.Context, tx repository.Tx) error {
			if err := tx.InsertBid(ctx, bid); err != nil {
				return err
			}
			return tx.UpdateAuction(ctx, auction)
		})
		switch {
		case err == nil:
			return bid, nil
		case errors.Is(err, biddingerrors.ErrVersionConflict) && attempt < e.maxRetries:
			utils.Warn("engine: version conflict, re-validating bid", map[string]any{
				"auction_id": auctionID,
				"attempt":    attempt + 1,
			})
			continue
		case errors.Is(err, biddingerrors.ErrAuctionNotFound):
			return models.Bid{}, biddingerrors.AuctionNotFound(auctionID)
		default:
			utils.Error("engine: failed to commit bid", map[string]any{
				"auction_id": auctionID,
				"user_id":    userID,
				"amount":     amount.String(),
				"error":      err.Error(),
			})
			return models.Bid{}, biddingerrors.PersistenceFailure(auctionID, err)
		}
	}
}

// CloseAuction marks the auction inactive under the same scope bids use, so a
// close never interleaves with a bid's validate-and-commit step. The price is
// left untouched. closed is false when the auction was already inactive.
func (e *Engine) CloseAuction(ctx context.Context, auctionID string) (auction models.Auction, closed bool, err error) {
	if auctionID == "" {
		return models.Auction{}, false, biddingerrors.InvalidBid("missing auction id")
	}

	release, err := e.acquire(ctx, auctionID)
	if err != nil {
		return models.Auction{}, false, err
	}
	defer release()

	for attempt := 0; ; attempt++ {
		auction, err = e.repo.GetAuction(ctx, auctionID)
		if err != nil {
			return models.Auction{}, false, e.readError(ctx, auctionID, err)
		}
		if !auction.IsActive {
			return auction, false, nil
		}

		now := e.now()
		if auction.UpdatedAt.After(now) {
			now = auction.UpdatedAt
		}
		auction.IsActive = false
		auction.UpdatedAt = now

		err = e.repo.WithinTx(context.WithoutCancel(ctx), func(ctx context.Context, tx repository.Tx) error {
			return tx.UpdateAuction(ctx, auction)
		})
		switch {
		case err == nil:
			auction.Version++
			return auction, true, nil
		case errors.Is(err, biddingerrors.ErrVersionConflict) && attempt < e.maxRetries:
			continue
		case errors.Is(err, biddingerrors.ErrAuctionNotFound):
			return models.Auction{}, false, biddingerrors.AuctionNotFound(auctionID)
		default:
			return models.Auction{}, false, biddingerrors.PersistenceFailure(auctionID, err)
		}
	}
}

func (e *Engine) acquire(ctx context.Context, auctionID string) (func(), error) {
	release, err := e.locker.Acquire(ctx, auctionID)
	if err == nil {
		return release, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("engine: bid on %s abandoned: %w", auctionID, ctxErr)
	}
	return nil, biddingerrors.PersistenceFailure(auctionID, err)
}

func (e *Engine) readError(ctx context.Context, auctionID string, err error) error {
	if errors.Is(err, biddingerrors.ErrAuctionNotFound) {
		return biddingerrors.AuctionNotFound(auctionID)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("engine: bid on %s abandoned: %w", auctionID, ctxErr)
	}
	return biddingerrors.PersistenceFailure(auctionID, err)
}
