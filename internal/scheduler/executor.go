package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/driftlabs/mixpool/internal/clock"
	"github.com/driftlabs/mixpool/internal/metrics"
)

// Sender pushes a payout onto the wire and returns its transaction ID.
type Sender interface {
	Send(ctx context.Context, address string, amount int64) (string, error)
}

// retryDelay is how far out a failed payment is rescheduled.
const retryDelay = 30 * time.Second

// Executor drives the payout pipeline: each tick it cuts a batch of queued
// payments, then drains open batches through the Sender. A claimed payment
// whose scheduled time has not arrived is held, and its batch stays open
// until every payment has either executed or left the batch. A failed send
// requeues the payment until its retry budget runs out.
type Executor struct {
	service  *Service
	store    Store
	sender   Sender
	clk      clock.Clock
	bus      Publisher
	interval time.Duration
	maxRetry int
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewExecutor creates a payment executor.
func NewExecutor(service *Service, store Store, sender Sender, clk clock.Clock, bus Publisher, interval time.Duration, maxRetry int, logger *slog.Logger) *Executor {
	return &Executor{
		service:  service,
		store:    store,
		sender:   sender,
		clk:      clk,
		bus:      bus,
		interval: interval,
		maxRetry: maxRetry,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the executor loop is actively running.
func (e *Executor) Running() bool {
	return e.running.Load()
}

// Start begins the execution loop. Call in a goroutine.
func (e *Executor) Start(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.safeTick(ctx)
		}
	}
}

// Stop signals the executor to stop.
func (e *Executor) Stop() {
	select {
	case e.stop <- struct{}{}:
	default:
	}
}

func (e *Executor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in payment executor", "panic", fmt.Sprint(r))
		}
	}()
	e.Tick(ctx)
}

// Tick performs one executor pass. Exported so tests and operators can drive
// the pipeline without the ticker.
func (e *Executor) Tick(ctx context.Context) {
	if _, err := e.service.CreateBatch(ctx, 0); err != nil {
		e.logger.Warn("failed to create payment batch", "error", err)
	}

	for _, status := range []BatchStatus{BatchPending, BatchProcessing} {
		open, err := e.store.ListBatchesByStatus(ctx, status, 10)
		if err != nil {
			e.logger.Warn("failed to list open batches", "status", status, "error", err)
			return
		}
		for _, b := range open {
			e.processBatch(ctx, b)
		}
	}
}

func (e *Executor) processBatch(ctx context.Context, b *PaymentBatch) {
	now := e.clk.Now()

	held := 0
	for _, id := range b.PaymentIDs {
		p, err := e.store.GetPayment(ctx, id)
		if err != nil {
			e.logger.Warn("batched payment missing", "paymentId", id, "batchId", b.ID, "error", err)
			continue
		}
		if p.Status != StatusProcessing {
			continue
		}
		if p.ScheduledFor.After(now) {
			// Claimed but not yet due. Hold the batch open.
			held++
			continue
		}
		e.executePayment(ctx, p)
	}

	if held > 0 {
		if b.Status != BatchProcessing {
			b.Status = BatchProcessing
			if err := e.store.UpdateBatch(ctx, b); err != nil {
				e.logger.Warn("failed to mark batch processing", "batchId", b.ID, "error", err)
			}
		}
		return
	}

	e.closeBatch(ctx, b)
}

// closeBatch marks a drained batch completed, or failed when every payment
// in it ended terminally failed.
func (e *Executor) closeBatch(ctx context.Context, b *PaymentBatch) {
	status := BatchCompleted
	allFailed := len(b.PaymentIDs) > 0
	for _, id := range b.PaymentIDs {
		p, err := e.store.GetPayment(ctx, id)
		if err != nil || p.Status != StatusFailed {
			allFailed = false
			break
		}
	}
	if allFailed {
		status = BatchFailed
	}

	b.Status = status
	if err := e.store.UpdateBatch(ctx, b); err != nil {
		e.logger.Warn("failed to close batch", "batchId", b.ID, "error", err)
		return
	}
	e.logger.Info("closed payment batch",
		"batchId", b.ID, "status", status, "payments", len(b.PaymentIDs))
}

func (e *Executor) executePayment(ctx context.Context, p *ScheduledPayment) {
	now := e.clk.Now()

	txID, err := e.sender.Send(ctx, p.Address, p.Amount)
	if err != nil {
		p.RetryCount++
		if p.RetryCount >= e.maxRetry {
			p.Status = StatusFailed
			if uerr := e.store.UpdatePayment(ctx, p); uerr != nil {
				e.logger.Error("failed to persist failed payment", "paymentId", p.ID, "error", uerr)
				return
			}
			metrics.PaymentExecutionsTotal.WithLabelValues("failed").Inc()
			e.logger.Error("payment failed permanently",
				"paymentId", p.ID, "retryCount", p.RetryCount, "error", err)
			e.bus.Publish(ctx, PaymentFailed{
				PaymentID:  p.ID,
				Address:    p.Address,
				Amount:     p.Amount,
				RetryCount: p.RetryCount,
				Timestamp:  now,
			})
			return
		}

		// Back onto the queue for a later batch.
		p.Status = StatusQueued
		p.BatchID = ""
		p.ScheduledFor = now.Add(retryDelay)
		if uerr := e.store.UpdatePayment(ctx, p); uerr != nil {
			e.logger.Error("failed to requeue payment", "paymentId", p.ID, "error", uerr)
			return
		}
		metrics.PaymentExecutionsTotal.WithLabelValues("requeued").Inc()
		e.logger.Warn("payment send failed, requeued",
			"paymentId", p.ID, "retryCount", p.RetryCount, "error", err)
		return
	}

	p.Status = StatusCompleted
	p.TxID = txID
	p.ExecutedAt = &now
	if err := e.store.UpdatePayment(ctx, p); err != nil {
		e.logger.Error("failed to persist completed payment", "paymentId", p.ID, "error", err)
		return
	}

	metrics.PaymentExecutionsTotal.WithLabelValues("completed").Inc()
	e.bus.Publish(ctx, PaymentExecuted{
		PaymentID: p.ID,
		BatchID:   p.BatchID,
		Address:   p.Address,
		Amount:    p.Amount,
		TxID:      txID,
		Timestamp: now,
	})
}
