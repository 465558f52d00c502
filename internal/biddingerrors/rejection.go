package biddingerrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies why a bid attempt did not succeed
type Kind int

const (
	KindAuctionNotFound Kind = iota + 1
	KindAuctionNotActive
	KindBidTooLow
	KindOutbid
	KindPersistenceFailure
	KindInvalidBid
)

func (k Kind) String() string {
	switch k {
	case KindAuctionNotFound:
		return "auction_not_found"
	case KindAuctionNotActive:
		return "auction_not_active"
	case KindBidTooLow:
		return "bid_too_low"
	case KindOutbid:
		return "outbid"
	case KindPersistenceFailure:
		return "persistence_failure"
	case KindInvalidBid:
		return "invalid_bid"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindAuctionNotFound:
		return ErrAuctionNotFound
	case KindAuctionNotActive:
		return ErrAuctionNotActive
	case KindBidTooLow:
		return ErrBidTooLow
	case KindOutbid:
		return ErrOutbid
	case KindPersistenceFailure:
		return ErrPersistence
	default:
		return ErrInvalidBid
	}
}

// Rejection is the typed outcome of a bid attempt that was not accepted.
// It matches its sentinel (and, for KindOutbid, ErrBidTooLow as well) with errors.Is.
type Rejection struct {
	Kind            Kind
	AuctionID       string
	RequiredMinimum decimal.Decimal
	Detail          string
	cause           error
}

func (r *Rejection) Error() string {
	msg := r.Kind.sentinel().Error()
	if r.AuctionID != "" {
		msg = fmt.Sprintf("%s (auction %s)", msg, r.AuctionID)
	}
	switch {
	case r.Kind == KindBidTooLow || r.Kind == KindOutbid:
		return fmt.Sprintf("%s: minimum acceptable bid is %s", msg, r.RequiredMinimum.String())
	case r.Detail != "":
		return msg + ": " + r.Detail
	default:
		return msg
	}
}

func (r *Rejection) Unwrap() []error {
	errs := []error{r.Kind.sentinel()}
	if r.Kind == KindOutbid {
		errs = append(errs, ErrBidTooLow)
	}
	if r.cause != nil {
		errs = append(errs, r.cause)
	}
	return errs
}

// AuctionNotFound reports a bid against an unknown auction
func AuctionNotFound(auctionID string) *Rejection {
	return &Rejection{Kind: KindAuctionNotFound, AuctionID: auctionID}
}

// AuctionNotActive reports a bid outside the auction's bidding window
func AuctionNotActive(auctionID string) *Rejection {
	return &Rejection{Kind: KindAuctionNotActive, AuctionID: auctionID}
}

// BidTooLow reports an amount below requiredMinimum
func BidTooLow(auctionID string, requiredMinimum decimal.Decimal) *Rejection {
	return &Rejection{Kind: KindBidTooLow, AuctionID: auctionID, RequiredMinimum: requiredMinimum}
}

// OutbidByConcurrentHigherBid reports a bid that would have been accepted
// against the price the caller last saw, but another bid moved the price first.
func OutbidByConcurrentHigherBid(auctionID string, requiredMinimum decimal.Decimal) *Rejection {
	return &Rejection{Kind: KindOutbid, AuctionID: auctionID, RequiredMinimum: requiredMinimum}
}

// PersistenceFailure wraps a storage error so it never crosses the engine boundary untyped
func PersistenceFailure(auctionID string, cause error) *Rejection {
	r := &Rejection{Kind: KindPersistenceFailure, AuctionID: auctionID, cause: cause}
	if cause != nil {
		r.Detail = cause.Error()
	}
	return r
}

// InvalidBid reports malformed input
func InvalidBid(detail string) *Rejection {
	return &Rejection{Kind: KindInvalidBid, Detail: detail}
}

// AsRejection extracts a *Rejection from an error chain
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
