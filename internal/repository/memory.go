package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"auction-bidding/internal/biddingerrors"
	model "auction-bidding/internal/models"
)

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB.
// Transactions stage their writes without holding mu; the version check and
// the writes happen together under mu at commit, so commits on different
// auctions never wait on each other's staging.
type MemoryRepo struct {
	mu           sync.RWMutex
	auctions     map[string]model.Auction // key: auctionID -> value: auction
	bids         map[string][]model.Bid   // key: auctionID -> value: bids in commit order
	userAuctions map[string][]string      // key: userID -> value: auctionIDs user has bid on
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:     make(map[string]model.Auction),
		bids:         make(map[string][]model.Bid),
		userAuctions: make(map[string][]string),
	}
}

// GetAuction returns the stored auction
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return a, nil
}

// InsertAuction stores a new auction, failing with ErrAuctionExists if the id is taken
func (r *MemoryRepo) InsertAuction(_ context.Context, auction model.Auction) error {
	if auction.AuctionID == "" {
		return fmt.Errorf("insert auction: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auction.AuctionID]; ok {
		return fmt.Errorf("insert auction %s: %w", auction.AuctionID, biddingerrors.ErrAuctionExists)
	}
	r.auctions[auction.AuctionID] = auction
	return nil
}

// FindAuctions returns auctions matching filter ordered by creation time
func (r *MemoryRepo) FindAuctions(_ context.Context, filter AuctionFilter) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		if filter.ActiveOnly && !a.IsActive {
			continue
		}
		if !filter.EndedBefore.IsZero() && a.EndsAt.After(filter.EndedBefore) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AuctionID < out[j].AuctionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListBidsByAuction returns the auction's ledger ordered by timestamp ascending
func (r *MemoryRepo) ListBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := append([]model.Bid{}, r.bids[auctionID]...)
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Timestamp.Before(bids[j].Timestamp) })
	return bids, nil
}

// GetWinningBid returns the highest bid for an auction
func (r *MemoryRepo) GetWinningBid(_ context.Context, auctionID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := r.bids[auctionID]
	if len(bids) == 0 {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}

	winning := bids[0]
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(winning.Amount) || (b.Amount.Equal(winning.Amount) && b.Timestamp.Before(winning.Timestamp)) {
			winning = b
		}
	}
	return winning, nil
}

// GetAuctionsByUser returns all auctions a user has bid on
func (r *MemoryRepo) GetAuctionsByUser(_ context.Context, userID string) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.userAuctions[userID]
	if len(ids) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}

	auctions := make([]model.Auction, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.auctions[id]; ok {
			auctions = append(auctions, a)
		}
	}
	return auctions, nil
}

// WithinTx stages writes made by fn and applies them together if fn succeeds.
// The apply fails with ErrVersionConflict if another transaction committed to
// one of the staged auctions in the meantime.
func (r *MemoryRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{
		repo:     r,
		auctions: make(map[string]model.Auction),
		expected: make(map[string]int64),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return r.apply(tx)
}

func (r *MemoryRepo) apply(tx *memoryTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, version := range tx.expected {
		stored, ok := r.auctions[id]
		if !ok {
			return fmt.Errorf("commit auction %s: %w", id, biddingerrors.ErrAuctionNotFound)
		}
		if stored.Version != version {
			return fmt.Errorf("commit auction %s staged at version %d (stored %d): %w",
				id, version, stored.Version, biddingerrors.ErrVersionConflict)
		}
	}
	for _, b := range tx.bids {
		if _, ok := r.auctions[b.AuctionID]; !ok {
			return fmt.Errorf("commit bid for auction %s: %w", b.AuctionID, biddingerrors.ErrAuctionNotFound)
		}
	}

	for id, a := range tx.auctions {
		r.auctions[id] = a
	}
	for _, b := range tx.bids {
		r.bids[b.AuctionID] = append(r.bids[b.AuctionID], b)
		r.trackUser(b.UserID, b.AuctionID)
	}
	return nil
}

// trackUser must be called with mu held
func (r *MemoryRepo) trackUser(userID, auctionID string) {
	for _, id := range r.userAuctions[userID] {
		if id == auctionID {
			return
		}
	}
	r.userAuctions[userID] = append(r.userAuctions[userID], auctionID)
}

// AddAuction adds an auction to the repository as-is. This method is intended for tests and seeding.
func (r *MemoryRepo) AddAuction(auction model.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[auction.AuctionID] = auction
}

type memoryTx struct {
	repo     *MemoryRepo
	auctions map[string]model.Auction
	expected map[string]int64 // stored version each staged auction was read at
	bids     []model.Bid
}

func (t *memoryTx) lookup(auctionID string) (model.Auction, bool) {
	if a, ok := t.auctions[auctionID]; ok {
		return a, true
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	a, ok := t.repo.auctions[auctionID]
	return a, ok
}

func (t *memoryTx) InsertBid(_ context.Context, bid model.Bid) error {
	if _, ok := t.lookup(bid.AuctionID); !ok {
		return fmt.Errorf("insert bid for auction %s: %w", bid.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	t.bids = append(t.bids, bid)
	return nil
}

func (t *memoryTx) UpdateAuction(_ context.Context, auction model.Auction) error {
	current, ok := t.lookup(auction.AuctionID)
	if !ok {
		return fmt.Errorf("update auction %s: %w", auction.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	if current.Version != auction.Version {
		return fmt.Errorf("update auction %s at version %d (stored %d): %w",
			auction.AuctionID, auction.Version, current.Version, biddingerrors.ErrVersionConflict)
	}
	if _, staged := t.auctions[auction.AuctionID]; !staged {
		t.expected[auction.AuctionID] = current.Version
	}
	auction.Version++
	t.auctions[auction.AuctionID] = auction
	return nil
}
