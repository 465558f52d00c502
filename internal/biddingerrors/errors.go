package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrAuctionExists   = errors.New("auction already exists")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrUserNoBids      = errors.New("user has not placed any bids")
	ErrVersionConflict = errors.New("auction was modified concurrently")
)

// business logic errors
var (
	ErrInvalidBid       = errors.New("invalid bid")
	ErrInvalidAuction   = errors.New("invalid auction")
	ErrBidTooLow        = errors.New("bid amount too low")
	ErrOutbid           = errors.New("outbid by a concurrent higher bid")
	ErrAuctionNotActive = errors.New("auction is not active")
	ErrPersistence      = errors.New("persistence failure")
)

// serialization scope errors
var ErrLockUnavailable = errors.New("serialization scope unavailable")
