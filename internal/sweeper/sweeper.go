// Package sweeper closes auctions whose bidding window has ended.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"auction-bidding/utils"
)

// DefaultInterval is used when New is given a non-positive interval
const DefaultInterval = 30 * time.Second

// Closer closes expired auctions and reports how many it closed
type Closer interface {
	CloseExpired(ctx context.Context) (int, error)
}

// Sweeper periodically runs a Closer until its context is cancelled
type Sweeper struct {
	closer   Closer
	interval time.Duration
}

// New creates a Sweeper
func New(closer Closer, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{closer: closer, interval: interval}
}

// Run sweeps once immediately and then on every tick. It returns nil when ctx
// is cancelled so it can run under an errgroup.
func (s *Sweeper) Run(ctx context.Context) error {
	utils.Info("sweeper started", map[string]any{"interval": s.interval.String()})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			utils.Info("sweeper stopped", nil)
			return nil
		case <-ticker.C:
		}
	}
}

// sweep runs one pass. A panic is logged and the loop carries on.
func (s *Sweeper) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			utils.Error("sweeper: recovered from panic", map[string]any{"panic": fmt.Sprint(r)})
		}
	}()

	n, err := s.closer.CloseExpired(ctx)
	if err != nil {
		utils.Error("sweeper: failed to close expired auctions", map[string]any{
			"closed": n,
			"error":  err.Error(),
		})
		return
	}
	if n > 0 {
		utils.Info("sweeper: closed expired auctions", map[string]any{"closed": n})
	}
}
