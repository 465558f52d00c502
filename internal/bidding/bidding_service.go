package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-bidding/internal/biddingerrors"
	"auction-bidding/internal/events"
	"auction-bidding/internal/models"
	"auction-bidding/internal/repository"
	"auction-bidding/utils"

	"github.com/shopspring/decimal"
)

// BidRequest is a single bid attempt. SeenPrice is the current price the
// bidder was shown, if known; it only affects how a rejection is classified.
type BidRequest struct {
	AuctionID string
	UserID    string
	Amount    decimal.Decimal
	SeenPrice *decimal.Decimal
}

// CreateAuctionInput describes a new auction. An empty AuctionID is generated
// and a zero StartsAt means "now".
type CreateAuctionInput struct {
	AuctionID string
	ProductID string
	StartsAt  time.Time
	EndsAt    time.Time
	MinPrice  decimal.Decimal
}

// BiddingService defines the business logic for auction bidding
type BiddingService struct {
	repo      repository.AuctionDB
	engine    *Engine
	publisher events.Publisher
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, engine *Engine, publisher events.Publisher) *BiddingService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &BiddingService{
		repo:      repo,
		engine:    engine,
		publisher: publisher,
	}
}

// PlaceBid runs the bid through the engine and announces it once committed
func (s *BiddingService) PlaceBid(ctx context.Context, req BidRequest) (models.Bid, error) {
	bid, err := s.engine.PlaceBid(ctx, req.AuctionID, req.UserID, req.Amount)
	if err != nil {
		return models.Bid{}, s.classify(req, err)
	}

	s.publish(ctx, events.BidEvent{
		Type:         events.EventBidPlaced,
		AuctionID:    bid.AuctionID,
		BidID:        bid.BidID,
		UserID:       bid.UserID,
		CurrentPrice: bid.Amount,
		Timestamp:    bid.Timestamp,
	})
	return bid, nil
}

// classify turns a too-low rejection into an outbid one when the amount was
// enough against the price the bidder saw.
func (s *BiddingService) classify(req BidRequest, err error) error {
	r, ok := biddingerrors.AsRejection(err)
	if !ok || r.Kind != biddingerrors.KindBidTooLow || req.SeenPrice == nil {
		return err
	}
	if req.Amount.LessThan(req.SeenPrice.Add(s.engine.MinimumIncrement())) {
		return err
	}
	return biddingerrors.OutbidByConcurrentHigherBid(r.AuctionID, r.RequiredMinimum)
}

// CreateAuction validates and stores a new active auction priced at its floor
func (s *BiddingService) CreateAuction(ctx context.Context, in CreateAuctionInput) (models.Auction, error) {
	now := s.engine.now()
	if in.StartsAt.IsZero() {
		in.StartsAt = now
	}
	if err := validateAuction(in, now); err != nil {
		return models.Auction{}, err
	}
	if in.AuctionID == "" {
		in.AuctionID = utils.NewID()
	}

	auction := models.Auction{
		AuctionID:    in.AuctionID,
		ProductID:    in.ProductID,
		StartsAt:     in.StartsAt.UTC(),
		EndsAt:       in.EndsAt.UTC(),
		MinPrice:     in.MinPrice,
		CurrentPrice: in.MinPrice,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.InsertAuction(ctx, auction); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to create auction %s: %w", auction.AuctionID, err)
	}
	return auction, nil
}

func validateAuction(in CreateAuctionInput, now time.Time) error {
	switch {
	case in.ProductID == "":
		return fmt.Errorf("service: %w - missing product id", biddingerrors.ErrInvalidAuction)
	case !in.MinPrice.IsPositive():
		return fmt.Errorf("service: %w - min price must be positive", biddingerrors.ErrInvalidAuction)
	case !models.FitsMoneyScale(in.MinPrice):
		return fmt.Errorf("service: %w - min price has more than %d decimal places", biddingerrors.ErrInvalidAuction, models.MoneyScale)
	case in.EndsAt.IsZero() || !in.EndsAt.After(in.StartsAt):
		return fmt.Errorf("service: %w - ends_at must be after starts_at", biddingerrors.ErrInvalidAuction)
	case !in.EndsAt.After(now):
		return fmt.Errorf("service: %w - ends_at is in the past", biddingerrors.ErrInvalidAuction)
	}
	return nil
}

// GetAuction returns the current state of an auction
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return auction, nil
}

// ListAuctions returns every auction, or only active ones
func (s *BiddingService) ListAuctions(ctx context.Context, activeOnly bool) ([]models.Auction, error) {
	auctions, err := s.repo.FindAuctions(ctx, repository.AuctionFilter{ActiveOnly: activeOnly})
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}
	return auctions, nil
}

// GetBidsForAuction returns the auction's bid history, oldest first
func (s *BiddingService) GetBidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}
	if _, err := s.repo.GetAuction(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}

	bids, err := s.repo.ListBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// GetWinningBid returns the highest bid for a specific auction
func (s *BiddingService) GetWinningBid(ctx context.Context, auctionID string) (models.Bid, error) {
	if auctionID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	bid, err := s.repo.GetWinningBid(ctx, auctionID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get winning bid for auction %s: %w", auctionID, err)
	}
	return bid, nil
}

// GetAuctionsByUser returns all auctions a user has placed bids on
func (s *BiddingService) GetAuctionsByUser(ctx context.Context, userID string) ([]models.Auction, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}

	auctions, err := s.repo.GetAuctionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for user %s: %w", userID, err)
	}
	return auctions, nil
}

// CloseAuction stops bidding on an auction and announces the final price
func (s *BiddingService) CloseAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	auction, closed, err := s.engine.CloseAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, err
	}
	if closed {
		s.publish(ctx, events.BidEvent{
			Type:         events.EventAuctionClosed,
			AuctionID:    auction.AuctionID,
			CurrentPrice: auction.CurrentPrice,
			Timestamp:    auction.UpdatedAt,
		})
	}
	return auction, nil
}

// CloseExpired closes every active auction whose window has ended and
// returns how many were closed.
func (s *BiddingService) CloseExpired(ctx context.Context) (int, error) {
	due, err := s.repo.FindAuctions(ctx, repository.AuctionFilter{
		ActiveOnly:  true,
		EndedBefore: s.engine.now(),
	})
	if err != nil {
		return 0, fmt.Errorf("service: failed to find expired auctions: %w", err)
	}

	var (
		closed int
		errs   []error
	)
	for _, a := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := s.CloseAuction(ctx, a.AuctionID); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", a.AuctionID, err))
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

func (s *BiddingService) publish(ctx context.Context, event events.BidEvent) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		utils.Warn("service: failed to publish event", map[string]any{
			"type":       string(event.Type),
			"auction_id": event.AuctionID,
			"error":      err.Error(),
		})
	}
}
