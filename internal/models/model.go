package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places stored for prices and amounts
const MoneyScale int32 = 4

// FitsMoneyScale reports whether d can be stored without rounding
func FitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// Auction is the mutable projection of a single-item auction
type Auction struct {
	AuctionID    string          `json:"auction_id" db:"auction_id"`
	ProductID    string          `json:"product_id" db:"product_id"`
	StartsAt     time.Time       `json:"starts_at" db:"starts_at"`
	EndsAt       time.Time       `json:"ends_at" db:"ends_at"`
	MinPrice     decimal.Decimal `json:"min_price" db:"min_price"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	IsActive     bool            `json:"is_active" db:"is_active"`
	Version      int64           `json:"version" db:"version"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// OpenAt reports whether the auction accepts bids at t.
// The window is [StartsAt, EndsAt).
func (a Auction) OpenAt(t time.Time) bool {
	return a.IsActive && !t.Before(a.StartsAt) && t.Before(a.EndsAt)
}

// NextMinimum returns the smallest amount the next bid may carry
func (a Auction) NextMinimum(increment decimal.Decimal) decimal.Decimal {
	return a.CurrentPrice.Add(increment)
}

// Bid is an immutable record of an accepted bid
type Bid struct {
	BidID     string          `json:"bid_id" db:"bid_id"`
	AuctionID string          `json:"auction_id" db:"auction_id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Timestamp time.Time       `json:"timestamp" db:"placed_at"`
}
