// Monitor polls the chain and turns raw chain state into domain events.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftlabs/mixpool/internal/clock"
	"github.com/driftlabs/mixpool/internal/events"
)

// Publisher fans chain events out to observers.
type Publisher interface {
	Publish(ctx context.Context, e events.Event)
}

// Monitor watches the chain tip, fee market, and a set of deposit addresses.
// It emits BlockObserved when the tip advances, FeeEstimateUpdated when a fee
// tier moves, and DepositConfirmed exactly once per transaction that reaches
// the confirmation target.
type Monitor struct {
	source   DataSource
	clk      clock.Clock
	bus      Publisher
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	watched   map[string]bool
	confirmed map[string]bool // txid -> already announced
	lastTip   int64
	lastFees  FeeEstimates

	stop chan struct{}
	done chan struct{}
}

// NewMonitor creates a chain monitor.
func NewMonitor(source DataSource, clk clock.Clock, bus Publisher, interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		source:    source,
		clk:       clk,
		bus:       bus,
		interval:  interval,
		logger:    logger,
		watched:   make(map[string]bool),
		confirmed: make(map[string]bool),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// WatchAddress adds an address to the deposit watch set.
func (m *Monitor) WatchAddress(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[address] = true
}

// UnwatchAddress drops an address from the watch set.
func (m *Monitor) UnwatchAddress(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, address)
}

// Start begins the poll loop. Call in a goroutine; Stop blocks until the
// loop exits.
func (m *Monitor) Start(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.safePoll(ctx)
		}
	}
}

// Stop stops the monitor and waits for the loop to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) safePoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in chain monitor", "panic", fmt.Sprint(r))
		}
	}()
	if err := m.Poll(ctx); err != nil {
		m.logger.Error("chain poll failed", "error", err)
	}
}

// Poll performs one monitor pass. Exported so tests can drive the monitor
// without the ticker.
func (m *Monitor) Poll(ctx context.Context) error {
	now := m.clk.Now()

	tip, err := m.source.TipHeight(ctx)
	if err != nil {
		return fmt.Errorf("get tip height: %w", err)
	}

	m.mu.Lock()
	advanced := tip > m.lastTip && m.lastTip != 0
	first := m.lastTip == 0
	m.lastTip = tip
	addresses := make([]string, 0, len(m.watched))
	for addr := range m.watched {
		addresses = append(addresses, addr)
	}
	m.mu.Unlock()

	if first {
		m.logger.Info("chain monitor synced", "height", tip)
	}
	if advanced {
		m.bus.Publish(ctx, BlockObserved{Height: tip, Timestamp: now})
	}

	if err := m.checkFees(ctx, first, now); err != nil {
		m.logger.Warn("fee check failed", "error", err)
	}

	for _, addr := range addresses {
		if err := m.checkDeposits(ctx, addr, tip, now); err != nil {
			m.logger.Warn("deposit check failed", "address", addr, "error", err)
		}
	}
	return nil
}

// checkFees announces fee tier changes. The first poll only records a
// baseline, matching the tip handling above.
func (m *Monitor) checkFees(ctx context.Context, first bool, now time.Time) error {
	fees, err := m.source.FeeEstimates(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	changed := fees != m.lastFees && !first
	m.lastFees = fees
	m.mu.Unlock()

	if changed {
		m.bus.Publish(ctx, FeeEstimateUpdated{Fees: fees, Timestamp: now})
	}
	return nil
}

func (m *Monitor) checkDeposits(ctx context.Context, address string, tip int64, now time.Time) error {
	txs, err := m.source.AddressTransactions(ctx, address)
	if err != nil {
		return err
	}

	for _, tx := range txs {
		confs := tx.Confirmations(tip)
		if confs < ConfirmationTarget {
			continue
		}

		m.mu.Lock()
		seen := m.confirmed[tx.TxID]
		if !seen {
			m.confirmed[tx.TxID] = true
		}
		m.mu.Unlock()
		if seen {
			continue
		}

		m.logger.Info("deposit confirmed",
			"address", address,
			"txId", tx.TxID,
			"amount", tx.Amount,
			"confirmations", confs,
		)
		m.bus.Publish(ctx, DepositConfirmed{
			Address:       address,
			TxID:          tx.TxID,
			Amount:        tx.Amount,
			Confirmations: confs,
			Timestamp:     now,
		})
	}
	return nil
}
