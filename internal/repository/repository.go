package repository

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

import (
	"context"
	"time"

	model "auction-bidding/internal/models"
)

// AuctionFilter narrows FindAuctions results. Zero values disable a condition.
type AuctionFilter struct {
	ActiveOnly  bool
	EndedBefore time.Time
}

// Tx is the write side of a single durable transaction
type Tx interface {
	// InsertBid appends a bid to the ledger.
	InsertBid(ctx context.Context, bid model.Bid) error
	// UpdateAuction overwrites the auction's mutable state. auction.Version must
	// equal the stored version, otherwise ErrVersionConflict is returned; the
	// stored version is incremented on success.
	UpdateAuction(ctx context.Context, auction model.Auction) error
}

// AuctionDB defines the auction store and bid ledger used by the bidding engine
type AuctionDB interface {
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	// InsertAuction stores a new auction. ErrAuctionExists is returned when
	// the id is taken; the stored auction is left untouched.
	InsertAuction(ctx context.Context, auction model.Auction) error
	FindAuctions(ctx context.Context, filter AuctionFilter) ([]model.Auction, error)
	ListBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error)
	// WithinTx runs fn in one transaction. Writes made through tx are applied
	// only if fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
