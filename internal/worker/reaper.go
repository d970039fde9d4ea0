// Package worker runs background maintenance for the ledger.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Expirer moves stale settlement attempts out of the way.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Reaper periodically expires settlement attempts that were never approved.
type Reaper struct {
	expirer  Expirer
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReaper(expirer Expirer, interval time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		expirer:  expirer,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the reaper until ctx is done or Shutdown is called. A
// non-positive interval disables it.
func (r *Reaper) Start(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("attempt reaper disabled")
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx)
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.expirer.ExpireStale(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("attempt expiry failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("expired stale settlement attempts", "count", n)
	}
}

// Shutdown stops the loop and waits for an in-progress sweep to finish.
func (r *Reaper) Shutdown() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
