package helpers

import (
	"time"

	model "auction-bidding/internal/models"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs

// PlaceBidRequest accepts amounts as JSON numbers or strings. SeenPrice is the
// price the bidder was looking at when they bid.
type PlaceBidRequest struct {
	AuctionID string           `json:"auction_id" binding:"required"`
	UserID    string           `json:"user_id" binding:"required"`
	Amount    decimal.Decimal  `json:"amount"`
	SeenPrice *decimal.Decimal `json:"seen_price,omitempty"`
}

type CreateAuctionRequest struct {
	AuctionID string          `json:"auction_id"`
	ProductID string          `json:"product_id" binding:"required"`
	StartsAt  *time.Time      `json:"starts_at"`
	EndsAt    time.Time       `json:"ends_at" binding:"required"`
	MinPrice  decimal.Decimal `json:"min_price"`
}

type BidResponse struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp string          `json:"timestamp"`
}

// RejectionData tells the bidder what would have been accepted
type RejectionData struct {
	Reason          string          `json:"reason"`
	RequiredMinimum decimal.Decimal `json:"required_minimum"`
}

func NewBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:     bid.BidID,
		AuctionID: bid.AuctionID,
		UserID:    bid.UserID,
		Amount:    bid.Amount,
		Timestamp: bid.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
