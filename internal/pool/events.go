package pool

import (
	"time"

	"github.com/driftlabs/mixpool/internal/events"
)

const (
	EventLiquidityReserved events.Type = "LIQUIDITY_RESERVED"
	EventLiquidityReleased events.Type = "LIQUIDITY_RELEASED"
	EventPoolHealthChanged events.Type = "POOL_HEALTH_CHANGED"
)

// LiquidityReserved is emitted after a successful reservation commits.
type LiquidityReserved struct {
	ObligationID string    `json:"obligationId"`
	Amount       int64     `json:"amount"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e LiquidityReserved) EventType() events.Type { return EventLiquidityReserved }
func (e LiquidityReserved) OccurredAt() time.Time  { return e.Timestamp }

// LiquidityReleased is emitted after an obligation is fulfilled or expired.
type LiquidityReleased struct {
	ObligationID string        `json:"obligationId"`
	Amount       int64         `json:"amount"`
	Reason       ReleaseReason `json:"reason"`
	Timestamp    time.Time     `json:"timestamp"`
}

func (e LiquidityReleased) EventType() events.Type { return EventLiquidityReleased }
func (e LiquidityReleased) OccurredAt() time.Time  { return e.Timestamp }

// PoolHealthChanged is emitted only when a mutation moves the pool across a
// status boundary, never on repeated evaluations inside the same class.
type PoolHealthChanged struct {
	PreviousStatus  Status    `json:"previousStatus"`
	NewStatus       Status    `json:"newStatus"`
	UtilizationRate float64   `json:"utilizationRate"`
	Timestamp       time.Time `json:"timestamp"`
}

func (e PoolHealthChanged) EventType() events.Type { return EventPoolHealthChanged }
func (e PoolHealthChanged) OccurredAt() time.Time  { return e.Timestamp }
