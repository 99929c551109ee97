package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/driftlabs/mixpool/internal/clock"
)

// Timer periodically expires pending obligations that have outlived maxAge,
// returning their reserved funds to the available balance.
type Timer struct {
	service  *Service
	store    Store
	clk      clock.Clock
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates an obligation expiry timer.
func NewTimer(service *Service, store Store, clk clock.Clock, maxAge, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		clk:      clk,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeExpireStale(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeExpireStale(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in obligation expiry timer", "panic", fmt.Sprint(r))
		}
	}()
	t.ExpireStale(ctx)
}

// ExpireStale performs one sweep. Exported so operators can trigger a sweep
// out of band.
func (t *Timer) ExpireStale(ctx context.Context) {
	cutoff := t.clk.Now().Add(-t.maxAge)

	stale, err := t.store.ListPendingBefore(ctx, cutoff, 100)
	if err != nil {
		t.logger.Warn("failed to list stale obligations", "error", err)
		return
	}

	for _, ob := range stale {
		expired, err := t.service.Expire(ctx, ob.ID)
		if err != nil {
			t.logger.Warn("failed to expire obligation",
				"obligationId", ob.ID,
				"error", err,
			)
			continue
		}
		if expired {
			t.logger.Info("expired stale obligation",
				"obligationId", ob.ID,
				"amount", ob.Amount,
				"age", t.clk.Now().Sub(ob.CreatedAt).String(),
			)
		}
	}
}
