package chain

import (
	"time"

	"github.com/driftlabs/mixpool/internal/events"
)

const (
	EventBlockObserved      events.Type = "BLOCK_OBSERVED"
	EventDepositConfirmed   events.Type = "DEPOSIT_CONFIRMED"
	EventFeeEstimateUpdated events.Type = "FEE_ESTIMATE_UPDATED"
)

// BlockObserved is emitted when the monitor sees the tip advance. It carries
// only the height: downstream consumers never see raw chain structures.
type BlockObserved struct {
	Height    int64     `json:"height"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BlockObserved) EventType() events.Type { return EventBlockObserved }
func (e BlockObserved) OccurredAt() time.Time  { return e.Timestamp }

// DepositConfirmed is emitted once per deposit transaction after it reaches
// the confirmation target.
type DepositConfirmed struct {
	Address       string    `json:"address"`
	TxID          string    `json:"txId"`
	Amount        int64     `json:"amount"`
	Confirmations int64     `json:"confirmations"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e DepositConfirmed) EventType() events.Type { return EventDepositConfirmed }
func (e DepositConfirmed) OccurredAt() time.Time  { return e.Timestamp }

// FeeEstimateUpdated is emitted when any fee tier changes between polls.
type FeeEstimateUpdated struct {
	Fees      FeeEstimates `json:"fees"`
	Timestamp time.Time    `json:"timestamp"`
}

func (e FeeEstimateUpdated) EventType() events.Type { return EventFeeEstimateUpdated }
func (e FeeEstimateUpdated) OccurredAt() time.Time  { return e.Timestamp }
