package scheduler

import (
	"time"

	"github.com/driftlabs/mixpool/internal/events"
)

const (
	EventPaymentPlanned      events.Type = "PAYMENT_PLANNED"
	EventPaymentBatchCreated events.Type = "PAYMENT_BATCH_CREATED"
	EventPaymentExecuted     events.Type = "PAYMENT_EXECUTED"
	EventPaymentFailed       events.Type = "PAYMENT_FAILED"
)

// PaymentPlanned is emitted when a payout is scheduled. WindowStart and
// WindowEnd bound when the payment may execute.
type PaymentPlanned struct {
	PaymentID    string     `json:"paymentId"`
	Address      string     `json:"address"`
	Amount       int64      `json:"amount"`
	Policy       PolicyType `json:"policy"`
	ScheduledFor time.Time  `json:"scheduledFor"`
	WindowStart  time.Time  `json:"windowStart"`
	WindowEnd    time.Time  `json:"windowEnd"`
	Timestamp    time.Time  `json:"timestamp"`
}

func (e PaymentPlanned) EventType() events.Type { return EventPaymentPlanned }
func (e PaymentPlanned) OccurredAt() time.Time  { return e.Timestamp }

// PaymentBatchCreated is emitted when queued payments are claimed into a
// batch.
type PaymentBatchCreated struct {
	BatchID      string     `json:"batchId"`
	PaymentIDs   []string   `json:"paymentIds"`
	PaymentCount int        `json:"paymentCount"`
	Window       TimeWindow `json:"window"`
	Timestamp    time.Time  `json:"timestamp"`
}

func (e PaymentBatchCreated) EventType() events.Type { return EventPaymentBatchCreated }
func (e PaymentBatchCreated) OccurredAt() time.Time  { return e.Timestamp }

// PaymentExecuted is emitted when a payout settles on chain.
type PaymentExecuted struct {
	PaymentID string    `json:"paymentId"`
	BatchID   string    `json:"batchId"`
	Address   string    `json:"address"`
	Amount    int64     `json:"amount"`
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`
}

func (e PaymentExecuted) EventType() events.Type { return EventPaymentExecuted }
func (e PaymentExecuted) OccurredAt() time.Time  { return e.Timestamp }

// PaymentFailed is emitted when a payout exhausts its retry budget.
type PaymentFailed struct {
	PaymentID  string    `json:"paymentId"`
	Address    string    `json:"address"`
	Amount     int64     `json:"amount"`
	RetryCount int       `json:"retryCount"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e PaymentFailed) EventType() events.Type { return EventPaymentFailed }
func (e PaymentFailed) OccurredAt() time.Time  { return e.Timestamp }
