// Package scheduler implements delayed and batched payment planning.
//
// Payouts are never executed at request time. A payment is planned with a
// timing policy, sits in the queue, is claimed into a batch, and leaves
// through the executor once its scheduled time arrives. The indirection
// between request time and execution time is the point.
package scheduler

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
	ErrUnknownPolicy = errors.New("unknown scheduling policy")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrNotFound      = errors.New("payment not found")
	ErrBatchNotFound = errors.New("batch not found")
)

// PolicyType selects how a payment's execution time is chosen.
type PolicyType string

const (
	// PolicyImmediate schedules for right now.
	PolicyImmediate PolicyType = "immediate"
	// PolicyDelayed schedules the minimum delay out.
	PolicyDelayed PolicyType = "delayed"
	// PolicyRandomWindow samples the delay uniformly from the delay range.
	PolicyRandomWindow PolicyType = "random_window"
)

const (
	// DefaultMinDelay and DefaultMaxDelay bound the delay policies when the
	// caller does not override them.
	DefaultMinDelay = 5 * time.Minute
	DefaultMaxDelay = time.Hour

	// processingGrace is the execution window granted past scheduledFor for
	// the immediate and delayed policies.
	processingGrace = time.Minute

	// batchWindow is how long a freshly cut batch stays eligible for
	// processing.
	batchWindow = time.Hour
)

// Policy selects the timing behavior for a planned payment. MinDelay and
// MaxDelay override DefaultMinDelay/DefaultMaxDelay when positive.
type Policy struct {
	Type     PolicyType
	MinDelay time.Duration
	MaxDelay time.Duration
}

// bounds resolves the delay bounds, applying defaults and swapping a
// backwards pair.
func (p Policy) bounds() (time.Duration, time.Duration) {
	min, max := p.MinDelay, p.MaxDelay
	if min <= 0 {
		min = DefaultMinDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if max < min {
		min, max = max, min
	}
	return min, max
}

// DelayRange is a half-open delay range [Min, Max) the sampler draws from.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// NewDelayRange builds a range, swapping bounds if given backwards.
func NewDelayRange(min, max time.Duration) DelayRange {
	if max < min {
		min, max = max, min
	}
	return DelayRange{Min: min, Max: max}
}

// TimeWindow is a start/end timestamp pair bounding when a scheduled action
// may occur.
type TimeWindow struct {
	Start           time.Time `json:"startTime"`
	End             time.Time `json:"endTime"`
	DurationSeconds int64     `json:"durationSeconds"`
}

// NewTimeWindow builds the window [start, end].
func NewTimeWindow(start, end time.Time) TimeWindow {
	return TimeWindow{
		Start:           start,
		End:             end,
		DurationSeconds: int64(end.Sub(start) / time.Second),
	}
}

// PaymentStatus tracks a payment through planning, batching, and execution.
type PaymentStatus string

const (
	StatusQueued     PaymentStatus = "queued"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
)

// ScheduledPayment is a planned payout to a destination address.
type ScheduledPayment struct {
	ID           string        `json:"id"`
	Address      string        `json:"address"`
	Amount       int64         `json:"amount"`
	Policy       PolicyType    `json:"policy"`
	Status       PaymentStatus `json:"status"`
	ScheduledFor time.Time     `json:"scheduledFor"`
	BatchID      string        `json:"batchId,omitempty"`
	RetryCount   int           `json:"retryCount"`
	TxID         string        `json:"txId,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	ExecutedAt   *time.Time    `json:"executedAt,omitempty"`
}

// BatchStatus tracks a batch from creation through the executor.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// PaymentBatch groups queued payments claimed for one processing window.
type PaymentBatch struct {
	ID         string      `json:"id"`
	PaymentIDs []string    `json:"paymentIds"`
	Window     TimeWindow  `json:"window"`
	Status     BatchStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Store persists payments and batches. ListQueued returns queued payments in
// insertion order. ClaimForBatch must stamp payments atomically so two
// concurrent batchers never share a payment.
type Store interface {
	CreatePayment(ctx context.Context, p *ScheduledPayment) error
	GetPayment(ctx context.Context, id string) (*ScheduledPayment, error)
	UpdatePayment(ctx context.Context, p *ScheduledPayment) error
	ListQueued(ctx context.Context, limit int) ([]*ScheduledPayment, error)
	ClaimForBatch(ctx context.Context, paymentIDs []string, batchID string) ([]string, error)
	CreateBatch(ctx context.Context, b *PaymentBatch) error
	GetBatch(ctx context.Context, id string) (*PaymentBatch, error)
	UpdateBatch(ctx context.Context, b *PaymentBatch) error
	ListBatchesByStatus(ctx context.Context, status BatchStatus, limit int) ([]*PaymentBatch, error)
}

// Publisher fans scheduler events out to observers.
type Publisher interface {
	Publish(ctx context.Context, e events.Event)
}

// Service plans payments and cuts batches.
type Service struct {
	store     Store
	ids       idgen.Generator
	clk       clock.Clock
	sampler   DelaySampler
	bus       Publisher
	logger    *slog.Logger
	batchSize int
	batchMu   sync.Mutex
}

// NewService creates the scheduler service. batchSize is the default batch
// size used when CreateBatch is called without one.
func NewService(store Store, ids idgen.Generator, clk clock.Clock, sampler DelaySampler, bus Publisher, batchSize int, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		ids:       ids,
		clk:       clk,
		sampler:   sampler,
		bus:       bus,
		logger:    logger,
		batchSize: batchSize,
	}
}

// PlanPayment schedules a payout under the given timing policy and computes
// its processing window: immediate and delayed payments get a one-minute
// window from their scheduled time, random-window payments may execute any
// time up to the maximum delay past it.
func (s *Service) PlanPayment(ctx context.Context, address string, amount int64, policy Policy) (*ScheduledPayment, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx, span := traces.StartSpan(ctx, "scheduler.PlanPayment", traces.AmountSats(amount))
	defer span.End()

	now := s.clk.Now()
	min, max := policy.bounds()

	var scheduledFor time.Time
	var window TimeWindow
	switch policy.Type {
	case PolicyImmediate:
		scheduledFor = now
		window = NewTimeWindow(now, now.Add(processingGrace))
	case PolicyDelayed:
		scheduledFor = now.Add(min)
		window = NewTimeWindow(scheduledFor, scheduledFor.Add(processingGrace))
	case PolicyRandomWindow:
		delay := s.sampler.Sample(NewDelayRange(min, max))
		scheduledFor = now.Add(delay)
		window = NewTimeWindow(scheduledFor, scheduledFor.Add(max))
	default:
		return nil, ErrUnknownPolicy
	}

	p := &ScheduledPayment{
		ID:           s.ids.Generate("pay_"),
		Address:      address,
		Amount:       amount,
		Policy:       policy.Type,
		Status:       StatusQueued,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
	}

	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	metrics.PaymentsPlannedTotal.WithLabelValues(string(policy.Type)).Inc()
	s.bus.Publish(ctx, PaymentPlanned{
		PaymentID:    p.ID,
		Address:      p.Address,
		Amount:       p.Amount,
		Policy:       policy.Type,
		ScheduledFor: p.ScheduledFor,
		WindowStart:  window.Start,
		WindowEnd:    window.End,
		Timestamp:    now,
	})

	return p, nil
}

// CreateBatch claims up to batchSize queued payments, in insertion order,
// into a new batch with a one-hour processing window. A non-positive
// batchSize uses the service default. Returns (nil, nil) when nothing is
// queued: an empty batch is never created and no event is emitted.
//
// Queued payments are claimed regardless of their scheduled time; the
// executor holds each claimed payment until it comes due within the batch
// window.
func (s *Service) CreateBatch(ctx context.Context, batchSize int) (*PaymentBatch, error) {
	ctx, span := traces.StartSpan(ctx, "scheduler.CreateBatch")
	defer span.End()

	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	now := s.clk.Now()

	queued, err := s.store.ListQueued(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("list queued payments: %w", err)
	}
	if len(queued) == 0 {
		return nil, nil
	}

	batchID := s.ids.Generate("bat_")
	candidates := make([]string, 0, len(queued))
	for _, p := range queued {
		candidates = append(candidates, p.ID)
	}

	claimed, err := s.store.ClaimForBatch(ctx, candidates, batchID)
	if err != nil {
		return nil, fmt.Errorf("claim payments: %w", err)
	}
	if len(claimed) == 0 {
		// Another batcher got there first.
		return nil, nil
	}

	b := &PaymentBatch{
		ID:         batchID,
		PaymentIDs: claimed,
		Window:     NewTimeWindow(now, now.Add(batchWindow)),
		Status:     BatchPending,
		CreatedAt:  now,
	}
	if err := s.store.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	metrics.BatchesCreatedTotal.Inc()
	s.bus.Publish(ctx, PaymentBatchCreated{
		BatchID:      b.ID,
		PaymentIDs:   claimed,
		PaymentCount: len(claimed),
		Window:       b.Window,
		Timestamp:    now,
	})

	return b, nil
}

// GetPayment returns a payment by ID.
func (s *Service) GetPayment(ctx context.Context, id string) (*ScheduledPayment, error) {
	return s.store.GetPayment(ctx, id)
}

// GetBatch returns a batch by ID.
func (s *Service) GetBatch(ctx context.Context, id string) (*PaymentBatch, error) {
	return s.store.GetBatch(ctx, id)
}
