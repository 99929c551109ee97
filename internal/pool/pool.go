// Package pool implements the liquidity reservation ledger.
//
// Flow:
//  1. A mixing operation reserves funds: available → reserved, plus a pending Obligation
//  2. The payout settles: total and reserved shrink together (obligation fulfilled)
//  3. Or the operation is abandoned: reserved flows back to available (obligation expired)
//
// The Reserve invariant total = available + reserved, all non-negative, holds
// before and after every operation.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftlabs/mixpool/internal/clock"
	"github.com/driftlabs/mixpool/internal/events"
	"github.com/driftlabs/mixpool/internal/idgen"
	"github.com/driftlabs/mixpool/internal/metrics"
	"github.com/driftlabs/mixpool/internal/traces"
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrNotFound              = errors.New("obligation not found")
	ErrVersionConflict       = errors.New("reserve version conflict")
)

// ObligationStatus tracks an obligation through its lifecycle.
type ObligationStatus string

const (
	StatusPending   ObligationStatus = "pending"
	StatusFulfilled ObligationStatus = "fulfilled"
	StatusExpired   ObligationStatus = "expired"
)

// ReleaseReason explains why reserved funds were released.
type ReleaseReason string

const (
	ReasonFulfilled ReleaseReason = "fulfilled"
	ReasonExpired   ReleaseReason = "expired"
)

// Reserve is the pool-level fund accounting record. Amounts are satoshis.
// The version increments on every mutation and guards concurrent writers
// across processes.
type Reserve struct {
	TotalAmount     int64  `json:"totalAmount"`
	AvailableAmount int64  `json:"availableAmount"`
	ReservedAmount  int64  `json:"reservedAmount"`
	Currency        string `json:"currency"`
	Version         int64  `json:"version"`
}

// UtilizationRate is the fraction of total funds currently reserved.
func (r Reserve) UtilizationRate() float64 {
	if r.TotalAmount == 0 {
		return 0
	}
	return float64(r.ReservedAmount) / float64(r.TotalAmount)
}

// AvailableRate is the fraction of total funds still available.
func (r Reserve) AvailableRate() float64 {
	if r.TotalAmount == 0 {
		return 0
	}
	return float64(r.AvailableAmount) / float64(r.TotalAmount)
}

// AfterReservation returns the reserve with amount moved available → reserved.
func (r Reserve) AfterReservation(amount int64) Reserve {
	r.AvailableAmount -= amount
	r.ReservedAmount += amount
	r.Version++
	return r
}

// AfterFulfillment returns the reserve after amount leaves the pool entirely.
// Available is untouched because the funds were already earmarked.
func (r Reserve) AfterFulfillment(amount int64) Reserve {
	r.TotalAmount -= amount
	r.ReservedAmount -= amount
	r.Version++
	return r
}

// AfterExpiry returns the reserve with amount moved reserved → available.
func (r Reserve) AfterExpiry(amount int64) Reserve {
	r.ReservedAmount -= amount
	r.AvailableAmount += amount
	r.Version++
	return r
}

// Obligation is a commitment to eventually pay out a reserved amount.
// Terminal once non-pending.
type Obligation struct {
	ID         string           `json:"id"`
	Amount     int64            `json:"amount"`
	CreatedAt  time.Time        `json:"createdAt"`
	Status     ObligationStatus `json:"status"`
	ResolvedAt *time.Time       `json:"resolvedAt,omitempty"`
}

// Store persists the reserve and its obligations. A reserve mutation and its
// obligation write must commit as one unit; implementations reject writes
// whose version does not directly follow the stored version.
type Store interface {
	GetReserve(ctx context.Context) (Reserve, error)
	ApplyReservation(ctx context.Context, r Reserve, ob *Obligation) error
	ApplyRelease(ctx context.Context, r Reserve, ob *Obligation) error
	FindObligation(ctx context.Context, id string) (*Obligation, error)
	CountPending(ctx context.Context) (int, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Obligation, error)
}

// Publisher fans ledger events out to observers.
type Publisher interface {
	Publish(ctx context.Context, e events.Event)
}

// Service implements the ledger operations. The read-modify-write of
// Reserve+Obligation is serialized by a single mutex so concurrent
// reservations can never both observe stale availability and overcommit.
type Service struct {
	store  Store
	ids    idgen.Generator
	clk    clock.Clock
	bus    Publisher
	logger *slog.Logger
	mu     sync.Mutex
}

// NewService creates the ledger service.
func NewService(store Store, ids idgen.Generator, clk clock.Clock, bus Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		ids:    ids,
		clk:    clk,
		bus:    bus,
		logger: logger,
	}
}

// Reserve earmarks amount satoshis for a future payout. Returns
// ErrInsufficientLiquidity, with no state change and no event, when the
// available balance cannot cover the request.
func (s *Service) Reserve(ctx context.Context, amount int64) (*Obligation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx, span := traces.StartSpan(ctx, "pool.Reserve", traces.AmountSats(amount))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()

	before, err := s.store.GetReserve(ctx)
	if err != nil {
		return nil, fmt.Errorf("get reserve: %w", err)
	}

	if before.AvailableAmount < amount {
		metrics.ReservationsTotal.WithLabelValues("insufficient").Inc()
		return nil, ErrInsufficientLiquidity
	}

	after := before.AfterReservation(amount)
	ob := &Obligation{
		ID:        s.ids.Generate("obl_"),
		Amount:    amount,
		CreatedAt: now,
		Status:    StatusPending,
	}

	if err := s.store.ApplyReservation(ctx, after, ob); err != nil {
		return nil, fmt.Errorf("apply reservation: %w", err)
	}

	metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
	s.observeReserve(after)

	s.bus.Publish(ctx, LiquidityReserved{
		ObligationID: ob.ID,
		Amount:       amount,
		Timestamp:    now,
	})
	s.publishHealthChange(ctx, before, after, now)

	return ob, nil
}

// Fulfill settles a pending obligation: the reserved funds leave the pool.
// Returns false, without error or event, when the obligation is absent or
// no longer pending.
func (s *Service) Fulfill(ctx context.Context, obligationID string) (bool, error) {
	ctx, span := traces.StartSpan(ctx, "pool.Fulfill", traces.ObligationID(obligationID))
	defer span.End()

	return s.release(ctx, obligationID, ReasonFulfilled)
}

// Expire abandons a pending obligation: the reserved funds flow back to
// available. Returns false when the obligation is absent or not pending.
func (s *Service) Expire(ctx context.Context, obligationID string) (bool, error) {
	ctx, span := traces.StartSpan(ctx, "pool.Expire", traces.ObligationID(obligationID))
	defer span.End()

	return s.release(ctx, obligationID, ReasonExpired)
}

func (s *Service) release(ctx context.Context, obligationID string, reason ReleaseReason) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()

	ob, err := s.store.FindObligation(ctx, obligationID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find obligation: %w", err)
	}
	if ob.Status != StatusPending {
		return false, nil
	}

	before, err := s.store.GetReserve(ctx)
	if err != nil {
		return false, fmt.Errorf("get reserve: %w", err)
	}

	var after Reserve
	if reason == ReasonFulfilled {
		after = before.AfterFulfillment(ob.Amount)
		ob.Status = StatusFulfilled
	} else {
		after = before.AfterExpiry(ob.Amount)
		ob.Status = StatusExpired
	}
	ob.ResolvedAt = &now

	if err := s.store.ApplyRelease(ctx, after, ob); err != nil {
		return false, fmt.Errorf("apply release: %w", err)
	}

	metrics.ReleasesTotal.WithLabelValues(string(reason)).Inc()
	s.observeReserve(after)

	s.bus.Publish(ctx, LiquidityReleased{
		ObligationID: ob.ID,
		Amount:       ob.Amount,
		Reason:       reason,
		Timestamp:    now,
	})
	s.publishHealthChange(ctx, before, after, now)

	return true, nil
}

// Health classifies the current reserve and counts pending obligations.
func (s *Service) Health(ctx context.Context) (*Health, error) {
	reserve, err := s.store.GetReserve(ctx)
	if err != nil {
		return nil, fmt.Errorf("get reserve: %w", err)
	}
	pending, err := s.store.CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}

	h := EvaluateHealth(reserve)
	h.PendingObligations = pending
	metrics.PendingObligations.Set(float64(pending))
	return &h, nil
}

// Snapshot returns the current reserve.
func (s *Service) Snapshot(ctx context.Context) (Reserve, error) {
	return s.store.GetReserve(ctx)
}

// publishHealthChange compares the health classification of the reserve
// before and after one serialized mutation and emits a change event only when
// the status class differs.
func (s *Service) publishHealthChange(ctx context.Context, before, after Reserve, now time.Time) {
	prev := EvaluateHealth(before)
	curr := EvaluateHealth(after)
	if prev.Status == curr.Status {
		return
	}

	s.logger.Info("pool health changed",
		"previous", prev.Status,
		"new", curr.Status,
		"utilization", curr.UtilizationRate,
	)
	s.bus.Publish(ctx, PoolHealthChanged{
		PreviousStatus:  prev.Status,
		NewStatus:       curr.Status,
		UtilizationRate: curr.UtilizationRate,
		Timestamp:       now,
	})
}

func (s *Service) observeReserve(r Reserve) {
	metrics.PoolUtilization.Set(r.UtilizationRate())
	metrics.PoolAvailableRate.Set(r.AvailableRate())
}
