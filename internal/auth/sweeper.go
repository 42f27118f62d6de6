package auth

import (
	"context"
	"time"
)

// Sweeper periodically deletes tokens past their expiration. Expired
// tokens already fail Resolve, so the sweep is pure cleanup: idempotent,
// order-independent and safe to run concurrently with live traffic.
type Sweeper struct {
	store    Store
	interval time.Duration
	now      func() time.Time
}

// NewSweeper constructs a Sweeper. A non-positive interval defaults to
// one hour.
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: store, interval: interval, now: time.Now}
}

// Run sweeps on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}

// SweepOnce deletes all currently expired tokens and returns the count.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	return s.store.Tokens().DeleteExpired(ctx, s.now().UTC())
}
