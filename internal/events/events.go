// Package events carries auction updates to observers after the engine has
// committed them. Publishing is best effort: a failed publish never changes
// the outcome of a bid.
package events

//go:generate mockgen -source=events.go -destination=mock_events.go -package=events

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names an auction update
type EventType string

const (
	EventBidPlaced     EventType = "bid_placed"
	EventAuctionClosed EventType = "auction_closed"
)

// BidEvent describes a committed change to an auction
type BidEvent struct {
	Type         EventType       `json:"type"`
	AuctionID    string          `json:"auction_id"`
	BidID        string          `json:"bid_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Publisher delivers events to observers
type Publisher interface {
	Publish(ctx context.Context, event BidEvent) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, BidEvent) error { return nil }

// Multi fans an event out to every publisher and joins their errors
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event BidEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
