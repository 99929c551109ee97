package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/mixpool/internal/clock"
	"github.com/driftlabs/mixpool/internal/events"
	"github.com/driftlabs/mixpool/internal/idgen"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(ctx context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) byType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

const btc = 100_000_000

func newTestService(batchSize int, sampler DelaySampler) (*Service, *MemoryStore, *capturePublisher, *clock.TestClock) {
	store := NewMemoryStore()
	pub := &capturePublisher{}
	clk := clock.NewTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := NewService(store, idgen.Crypto{}, clk, sampler, pub, batchSize, logger)
	return svc, store, pub, clk
}

func TestPlanPaymentPolicies(t *testing.T) {
	svc, _, pub, clk := newTestService(10, FixedSampler{Delay: 17 * time.Minute})
	ctx := context.Background()
	now := clk.Now()

	immediate, err := svc.PlanPayment(ctx, "bc1qdest1", btc, Policy{Type: PolicyImmediate})
	require.NoError(t, err)
	assert.True(t, immediate.ScheduledFor.Equal(now))
	assert.Equal(t, StatusQueued, immediate.Status)
	assert.Equal(t, 0, immediate.RetryCount)

	delayed, err := svc.PlanPayment(ctx, "bc1qdest2", btc, Policy{Type: PolicyDelayed})
	require.NoError(t, err)
	assert.True(t, delayed.ScheduledFor.Equal(now.Add(DefaultMinDelay)))

	random, err := svc.PlanPayment(ctx, "bc1qdest3", btc, Policy{Type: PolicyRandomWindow})
	require.NoError(t, err)
	assert.True(t, random.ScheduledFor.Equal(now.Add(17*time.Minute)))

	planned := pub.byType(EventPaymentPlanned)
	require.Len(t, planned, 3)

	// Immediate and delayed payments get a one-minute processing window from
	// their scheduled time; random-window payments may slip up to the
	// maximum delay past it.
	imm := planned[0].(PaymentPlanned)
	assert.True(t, imm.WindowStart.Equal(now))
	assert.True(t, imm.WindowEnd.Equal(now.Add(time.Minute)))

	del := planned[1].(PaymentPlanned)
	assert.True(t, del.WindowStart.Equal(delayed.ScheduledFor))
	assert.True(t, del.WindowEnd.Equal(delayed.ScheduledFor.Add(time.Minute)))

	rnd := planned[2].(PaymentPlanned)
	assert.True(t, rnd.WindowStart.Equal(random.ScheduledFor))
	assert.True(t, rnd.WindowEnd.Equal(random.ScheduledFor.Add(DefaultMaxDelay)))
}

func TestPlanPaymentCustomDelayBounds(t *testing.T) {
	svc, _, pub, clk := newTestService(10, CryptoSampler{})
	ctx := context.Background()
	now := clk.Now()

	p, err := svc.PlanPayment(ctx, "bc1qdest", btc, Policy{
		Type:     PolicyRandomWindow,
		MinDelay: 300 * time.Second,
		MaxDelay: 3600 * time.Second,
	})
	require.NoError(t, err)

	assert.False(t, p.ScheduledFor.Before(now.Add(300*time.Second)))
	assert.True(t, p.ScheduledFor.Before(now.Add(3600*time.Second)))

	planned := pub.byType(EventPaymentPlanned)
	require.Len(t, planned, 1)
	evt := planned[0].(PaymentPlanned)
	assert.True(t, evt.WindowStart.Equal(p.ScheduledFor))
	assert.True(t, evt.WindowEnd.Equal(p.ScheduledFor.Add(3600*time.Second)))

	// Custom minimum on the delayed policy.
	d, err := svc.PlanPayment(ctx, "bc1qdest", btc, Policy{
		Type:     PolicyDelayed,
		MinDelay: 42 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, d.ScheduledFor.Equal(now.Add(42*time.Second)))
}

func TestPlanPaymentRejectsBadInput(t *testing.T) {
	svc, _, _, _ := newTestService(10, CryptoSampler{})
	ctx := context.Background()

	_, err := svc.PlanPayment(ctx, "bc1qdest", 0, Policy{Type: PolicyImmediate})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.PlanPayment(ctx, "bc1qdest", btc, Policy{Type: PolicyType("whenever")})
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestCryptoSamplerStaysInRange(t *testing.T) {
	r := NewDelayRange(DefaultMinDelay, DefaultMaxDelay)
	s := CryptoSampler{}
	for i := 0; i < 200; i++ {
		d := s.Sample(r)
		assert.GreaterOrEqual(t, d, DefaultMinDelay)
		assert.Less(t, d, DefaultMaxDelay)
	}
}

func TestCreateBatchClaimsQueuedInInsertionOrder(t *testing.T) {
	svc, store, pub, clk := newTestService(10, CryptoSampler{})
	ctx := context.Background()
	now := clk.Now()

	first, err := svc.PlanPayment(ctx, "bc1qdest1", btc, Policy{Type: PolicyImmediate})
	require.NoError(t, err)
	// Not yet due, but queued: it still belongs in the next batch.
	second, err := svc.PlanPayment(ctx, "bc1qdest2", btc, Policy{Type: PolicyDelayed})
	require.NoError(t, err)
	third, err := svc.PlanPayment(ctx, "bc1qdest3", btc, Policy{Type: PolicyImmediate})
	require.NoError(t, err)

	b, err := svc.CreateBatch(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, b.PaymentIDs)
	assert.Equal(t, BatchPending, b.Status)

	// One-hour processing window starting at batch creation.
	assert.True(t, b.Window.Start.Equal(now))
	assert.True(t, b.Window.End.Equal(now.Add(time.Hour)))
	assert.Equal(t, int64(3600), b.Window.DurationSeconds)

	p, err := store.GetPayment(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, p.Status)
	assert.Equal(t, b.ID, p.BatchID)

	created := pub.byType(EventPaymentBatchCreated)
	require.Len(t, created, 1)
	evt := created[0].(PaymentBatchCreated)
	assert.Equal(t, 3, evt.PaymentCount)
	assert.True(t, evt.Window.End.Equal(b.Window.End))
}

func TestCreateBatchWithNothingQueued(t *testing.T) {
	svc, _, pub, _ := newTestService(10, CryptoSampler{})

	b, err := svc.CreateBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.Empty(t, pub.byType(EventPaymentBatchCreated))
}

func TestCreateBatchHonorsBatchSize(t *testing.T) {
	svc, _, _, _ := newTestService(3, CryptoSampler{})
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := svc.PlanPayment(ctx, "bc1qdest", btc, Policy{Type: PolicyImmediate})
		require.NoError(t, err)
	}

	// Per-call override beats the service default.
	b, err := svc.CreateBatch(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Len(t, b.PaymentIDs, 5)

	// Zero falls back to the default of 3; the remaining two fit one batch.
	var sizes []int
	for {
		b, err := svc.CreateBatch(ctx, 0)
		require.NoError(t, err)
		if b == nil {
			break
		}
		sizes = append(sizes, len(b.PaymentIDs))
	}
	assert.Equal(t, []int{2}, sizes)
}

func TestPaymentClaimedByExactlyOneBatch(t *testing.T) {
	svc, store, _, _ := newTestService(10, CryptoSampler{})
	ctx := context.Background()

	var planned []string
	for i := 0; i < 10; i++ {
		p, err := svc.PlanPayment(ctx, "bc1qdest", btc, Policy{Type: PolicyImmediate})
		require.NoError(t, err)
		planned = append(planned, p.ID)
	}

	// Concurrent batchers must partition the queue, never overlap it.
	var wg sync.WaitGroup
	var mu sync.Mutex
	var claimed []string
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := svc.CreateBatch(ctx, 4)
			require.NoError(t, err)
			if b != nil {
				mu.Lock()
				claimed = append(claimed, b.PaymentIDs...)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, planned, claimed)

	for _, id := range planned {
		p, err := store.GetPayment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, p.Status)
		assert.NotEmpty(t, p.BatchID)
	}
}

// flakySender fails the first n sends, then succeeds.
type flakySender struct {
	mu       sync.Mutex
	failures int
	sent     []string
}

func (f *flakySender) Send(ctx context.Context, address string, amount int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return "", errors.New("broadcast failed")
	}
	txid := idgen.Hex(16)
	f.sent = append(f.sent, address)
	return txid, nil
}

func newTestExecutor(svc *Service, store Store, sender Sender, clk clock.Clock, pub Publisher, maxRetry int) *Executor {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewExecutor(svc, store, sender, clk, pub, time.Second, maxRetry, logger)
}

func TestExecutorCompletesBatchedPayments(t *testing.T) {
	svc, store, pub, clk := newTestService(10, CryptoSampler{})
	ctx := context.Background()

	p1, err := svc.PlanPayment(ctx, "bc1qdest1", btc, Policy{Type: PolicyImmediate})
	require.NoError(t, err)
	p2, err := svc.PlanPayment(ctx, "bc1qdest2", 2*btc, Policy{Type: PolicyImmediate})
	require.NoError(t, err)

	sender := &flakySender{}
	exec := newTestExecutor(svc, store, sender, clk, pub, 3)
	exec.Tick(ctx)

	for _, id := range []string{p1.ID, p2.ID} {
		p, err := store.GetPayment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, p.Status)
		assert.NotEmpty(t, p.TxID)
		require.NotNil(t, p.ExecutedAt)
	}
	assert.Len(t, pub.byType(EventPaymentExecuted), 2)

	batches, err := store.ListBatchesByStatus(ctx, BatchCompleted, 10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
}

func TestExecutorHoldsClaimedPaymentUntilDue(t *testing.T) {
	svc, store, pub, clk := newTestService(10, CryptoSampler{})
	ctx := context.Background()

	p, err := svc.PlanPayment(ctx, "bc1qdest", btc, Policy{Type: PolicyDelayed})
	require.NoError(t, err)

	sender := &flakySender{}
	exec := newTestExecutor(svc, store, sender, clk, pub, 3)

	// The payment is claimed right away but held until its scheduled time.
	exec.Tick(ctx)
	got, err := store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	require.NotEmpty(t, got.BatchID)
	assert.Empty(t, sender.sent)

	b, err := store.GetBatch(ctx, got.BatchID)
	require.NoError(t, err)
	assert.Equal(t, BatchProcessing, b.Status)

	clk.Advance(DefaultMinDelay)
	exec.Tick(ctx)

	got, err = store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Len(t, pub.byType(EventPaymentExecuted), 1)

	b, err = store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchCompleted, b.Status)
}

func TestExecutorRequeuesFailedSendThenSucceeds(t *testing.T) {
	svc, store, pub, clk := newTestService(10, CryptoSampler{})
	ctx := context.Background()

	p, err := svc.PlanPayment(ctx, "bc1qdest", btc, Policy{Type: PolicyImmediate})
	require.NoError(t, err)

	sender := &flakySender{failures: 1}
	exec := newTestExecutor(svc, store, sender, clk, pub, 3)

	exec.Tick(ctx)
	got, err := store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.BatchID)

	// The next tick re-claims it, but the retry delay keeps it held.
	exec.Tick(ctx)
	got, err = store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Empty(t, sender.sent)

	clk.Advance(retryDelay)
	exec.Tick(ctx)
	got, err = store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Len(t, pub.byType(EventPaymentExecuted), 1)
}

func TestExecutorFailsPaymentAfterRetryBudget(t *testing.T) {
	svc, store, pub, clk := newTestService(10, CryptoSampler{})
	ctx := context.Background()

	p, err := svc.PlanPayment(ctx, "bc1qdest", btc, Policy{Type: PolicyImmediate})
	require.NoError(t, err)

	sender := &flakySender{failures: 100}
	exec := newTestExecutor(svc, store, sender, clk, pub, 2)

	exec.Tick(ctx)
	clk.Advance(retryDelay)
	exec.Tick(ctx)

	got, err := store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)

	failed := pub.byType(EventPaymentFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, p.ID, failed[0].(PaymentFailed).PaymentID)
	assert.Equal(t, 2, failed[0].(PaymentFailed).RetryCount)
	assert.Empty(t, pub.byType(EventPaymentExecuted))

	// A batch whose every payment failed terminally is itself failed.
	batches, err := store.ListBatchesByStatus(ctx, BatchFailed, 10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Contains(t, batches[0].PaymentIDs, p.ID)
}
