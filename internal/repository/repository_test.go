package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"auction-bidding/internal/biddingerrors"
	model "auction-bidding/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Helper to create a new Auction
func newAuction(auctionID string, minPrice int64, createdAt time.Time) model.Auction {
	return model.Auction{
		AuctionID:    auctionID,
		ProductID:    fmt.Sprintf("%s-product", auctionID),
		StartsAt:     createdAt,
		EndsAt:       createdAt.Add(time.Hour),
		MinPrice:     decimal.NewFromInt(minPrice),
		CurrentPrice: decimal.NewFromInt(minPrice),
		IsActive:     true,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

// Helper to create a new Bid
func newBid(bidID, auctionID, userID string, amount int64, ts time.Time) model.Bid {
	return model.Bid{
		BidID:     bidID,
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    decimal.NewFromInt(amount),
		Timestamp: ts,
	}
}

// commitBid writes a bid and moves the price in one transaction
func commitBid(repo *MemoryRepo, bid model.Bid) error {
	return repo.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		a, err := repo.GetAuction(ctx, bid.AuctionID)
		if err != nil {
			return err
		}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return err
		}
		a.CurrentPrice = bid.Amount
		a.UpdatedAt = bid.Timestamp
		return tx.UpdateAuction(ctx, a)
	})
}

func TestMemoryRepo_GetAuction(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	now := time.Now().UTC()
	repo.AddAuction(newAuction("a1", 100, now))

	got, err := repo.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, "a1", got.AuctionID)
	require.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(100)))

	_, err = repo.GetAuction(context.Background(), "missing")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
}

func TestMemoryRepo_WithinTx(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	boom := errors.New("boom")

	tests := []struct {
		name      string
		fn        func(ctx context.Context, tx Tx) error
		wantErr   error
		wantPrice int64
		wantBids  int
	}{
		{
			name: "commit_applies_both_writes",
			fn: func(ctx context.Context, tx Tx) error {
				a := newAuction("a1", 100, now)
				if err := tx.InsertBid(ctx, newBid("b1", "a1", "u1", 110, now)); err != nil {
					return err
				}
				a.CurrentPrice = decimal.NewFromInt(110)
				return tx.UpdateAuction(ctx, a)
			},
			wantPrice: 110,
			wantBids:  1,
		},
		{
			name: "failure_after_update_discards_everything",
			fn: func(ctx context.Context, tx Tx) error {
				a := newAuction("a1", 100, now)
				a.CurrentPrice = decimal.NewFromInt(150)
				if err := tx.UpdateAuction(ctx, a); err != nil {
					return err
				}
				return boom
			},
			wantErr:   boom,
			wantPrice: 100,
			wantBids:  0,
		},
		{
			name: "failure_after_insert_discards_bid",
			fn: func(ctx context.Context, tx Tx) error {
				if err := tx.InsertBid(ctx, newBid("b1", "a1", "u1", 110, now)); err != nil {
					return err
				}
				return boom
			},
			wantErr:   boom,
			wantPrice: 100,
			wantBids:  0,
		},
		{
			name: "stale_version_conflicts",
			fn: func(ctx context.Context, tx Tx) error {
				a := newAuction("a1", 100, now)
				a.Version = 7
				return tx.UpdateAuction(ctx, a)
			},
			wantErr:   biddingerrors.ErrVersionConflict,
			wantPrice: 100,
		},
		{
			name: "bid_for_unknown_auction",
			fn: func(ctx context.Context, tx Tx) error {
				return tx.InsertBid(ctx, newBid("b1", "ghost", "u1", 110, now))
			},
			wantErr:   biddingerrors.ErrAuctionNotFound,
			wantPrice: 100,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := NewMemoryRepo()
			repo.AddAuction(newAuction("a1", 100, now))

			err := repo.WithinTx(context.Background(), tc.fn)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}

			a, err := repo.GetAuction(context.Background(), "a1")
			require.NoError(t, err)
			require.True(t, a.CurrentPrice.Equal(decimal.NewFromInt(tc.wantPrice)), "price %s", a.CurrentPrice)

			bids, err := repo.ListBidsByAuction(context.Background(), "a1")
			require.NoError(t, err)
			require.Len(t, bids, tc.wantBids)
		})
	}
}

func TestMemoryRepo_UpdateAuctionBumpsVersion(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	now := time.Now().UTC()
	repo.AddAuction(newAuction("a1", 100, now))

	require.NoError(t, commitBid(repo, newBid("b1", "a1", "u1", 110, now)))
	require.NoError(t, commitBid(repo, newBid("b2", "a1", "u2", 120, now.Add(time.Second))))

	a, err := repo.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, int64(2), a.Version)
}

func TestMemoryRepo_ListBidsByAuction(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	now := time.Now().UTC()
	repo.AddAuction(newAuction("a1", 100, now))
	repo.AddAuction(newAuction("a2", 100, now))

	// committed out of timestamp order on purpose
	require.NoError(t, commitBid(repo, newBid("b2", "a1", "u2", 120, now.Add(2*time.Second))))
	require.NoError(t, commitBid(repo, newBid("b1", "a1", "u1", 110, now.Add(time.Second))))

	bids, err := repo.ListBidsByAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.Equal(t, "b1", bids[0].BidID)
	require.Equal(t, "b2", bids[1].BidID)

	// restartable: a second read returns the same sequence
	again, err := repo.ListBidsByAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, bids, again)

	empty, err := repo.ListBidsByAuction(context.Background(), "a2")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestMemoryRepo_GetWinningBid(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	now := time.Now().UTC()
	repo.AddAuction(newAuction("a1", 100, now))
	repo.AddAuction(newAuction("a2", 100, now))

	_, err := repo.GetWinningBid(context.Background(), "a1")
	require.ErrorIs(t, err, biddingerrors.ErrNoBids)

	require.NoError(t, commitBid(repo, newBid("b1", "a1", "u1", 110, now)))
	require.NoError(t, commitBid(repo, newBid("b2", "a1", "u2", 140, now.Add(time.Second))))

	winning, err := repo.GetWinningBid(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, "b2", winning.BidID)
	require.Equal(t, "u2", winning.UserID)
}

func TestMemoryRepo_GetAuctionsByUser(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	now := time.Now().UTC()
	repo.AddAuction(newAuction("a1", 100, now))
	repo.AddAuction(newAuction("a2", 100, now))

	_, err := repo.GetAuctionsByUser(context.Background(), "u1")
	require.ErrorIs(t, err, biddingerrors.ErrUserNoBids)

	require.NoError(t, commitBid(repo, newBid("b1", "a1", "u1", 110, now)))
	require.NoError(t, commitBid(repo, newBid("b2", "a1", "u1", 120, now.Add(time.Second))))
	require.NoError(t, commitBid(repo, newBid("b3", "a2", "u1", 110, now)))

	auctions, err := repo.GetAuctionsByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, auctions, 2)
}

func TestMemoryRepo_InsertAuction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Now().UTC()
	require.NoError(t, repo.InsertAuction(ctx, newAuction("a1", 100, now)))
	require.NoError(t, commitBid(repo, newBid("b1", "a1", "u1", 110, now)))

	closed, err := repo.GetAuction(ctx, "a1")
	require.NoError(t, err)
	closed.IsActive = false
	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UpdateAuction(ctx, closed)
	}))

	again := newAuction("a1", 5, now)
	again.EndsAt = now.Add(2 * time.Hour)
	require.ErrorIs(t, repo.InsertAuction(ctx, again), biddingerrors.ErrAuctionExists)

	a, err := repo.GetAuction(ctx, "a1")
	require.NoError(t, err)
	require.False(t, a.IsActive)
	require.True(t, a.CurrentPrice.Equal(decimal.NewFromInt(110)))
	require.True(t, a.MinPrice.Equal(decimal.NewFromInt(100)))
	require.Equal(t, now.Add(time.Hour), a.EndsAt)

	require.ErrorIs(t, repo.InsertAuction(ctx, model.Auction{}), biddingerrors.ErrInvalidAuction)
}

func TestMemoryRepo_InsertAuctionConcurrentSameID(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	now := time.Now().UTC()

	const creators = 16
	var (
		wg       sync.WaitGroup
		inserted atomic.Int32
		exists   atomic.Int32
	)
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.InsertAuction(context.Background(), newAuction("dup", 100, now))
			switch {
			case err == nil:
				inserted.Add(1)
			case errors.Is(err, biddingerrors.ErrAuctionExists):
				exists.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), inserted.Load())
	require.Equal(t, int32(creators-1), exists.Load())
}

func TestMemoryRepo_FindAuctions(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	now := time.Now().UTC()

	open := newAuction("open", 100, now)
	expired := newAuction("expired", 100, now.Add(-2*time.Hour))
	closed := newAuction("closed", 100, now.Add(-time.Hour))
	closed.IsActive = false
	for _, a := range []model.Auction{open, expired, closed} {
		repo.AddAuction(a)
	}

	all, err := repo.FindAuctions(context.Background(), AuctionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "expired", all[0].AuctionID)

	active, err := repo.FindAuctions(context.Background(), AuctionFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 2)

	due, err := repo.FindAuctions(context.Background(), AuctionFilter{ActiveOnly: true, EndedBefore: now})
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "expired", due[0].AuctionID)
}

func TestMemoryRepo_ConcurrentTransactions(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	now := time.Now().UTC()
	repo.AddAuction(newAuction("a1", 100, now))

	var (
		wg        sync.WaitGroup
		committed atomic.Int64
		conflicts atomic.Int64
	)
	concurrentCount := 50

	for i := 0; i < concurrentCount; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			err := commitBid(repo, newBid(fmt.Sprintf("bid-%d", i), "a1", fmt.Sprintf("user-%d", i), int64(110+i), now))
			switch {
			case err == nil:
				committed.Add(1)
			case errors.Is(err, biddingerrors.ErrVersionConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// a transaction that lost the race leaves nothing behind
	require.Equal(t, int64(concurrentCount), committed.Load()+conflicts.Load())
	require.NotZero(t, committed.Load())

	a, err := repo.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, committed.Load(), a.Version)

	bids, err := repo.ListBidsByAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, bids, int(committed.Load()))
}

func TestMemoryRepo_StaleTransactionConflictsAtCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Now().UTC()
	repo.AddAuction(newAuction("a1", 100, now))

	err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := repo.GetAuction(ctx, "a1")
		if err != nil {
			return err
		}
		if err := tx.InsertBid(ctx, newBid("slow", "a1", "u1", 110, now)); err != nil {
			return err
		}
		a.CurrentPrice = decimal.NewFromInt(110)
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return err
		}
		// another writer commits while this one is still staging
		return commitBid(repo, newBid("fast", "a1", "u2", 120, now))
	})
	require.ErrorIs(t, err, biddingerrors.ErrVersionConflict)

	a, err := repo.GetAuction(ctx, "a1")
	require.NoError(t, err)
	require.True(t, a.CurrentPrice.Equal(decimal.NewFromInt(120)))
	require.Equal(t, int64(1), a.Version)

	bids, err := repo.ListBidsByAuction(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Equal(t, "fast", bids[0].BidID)
}

func TestMemoryRepo_TransactionsOnDifferentAuctionsDoNotBlock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Now().UTC()
	repo.AddAuction(newAuction("a1", 100, now))
	repo.AddAuction(newAuction("a2", 100, now))

	staging := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.InsertBid(ctx, newBid("b1", "a1", "u1", 110, now)); err != nil {
				return err
			}
			close(staging)
			<-release
			return nil
		})
	}()

	<-staging
	committed := make(chan error, 1)
	go func() { committed <- commitBid(repo, newBid("b2", "a2", "u2", 110, now)) }()

	select {
	case err := <-committed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("commit on a2 waited for a transaction on a1")
	}

	close(release)
	require.NoError(t, <-done)
}
