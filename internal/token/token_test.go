package token

import (
	"context"
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

func newTestService() (*Service, *capturePublisher, *clock.TestClock) {
	pub := &capturePublisher{}
	clk := clock.NewTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := NewService(NewMemoryStore(), idgen.Crypto{}, clk, pub, logger)
	return svc, pub, clk
}

func TestDefaultPolicies(t *testing.T) {
	deposit, err := DefaultPolicy(PurposeDeposit)
	require.NoError(t, err)
	assert.Equal(t, PolicyHybrid, deposit.Type)
	assert.Equal(t, time.Hour, deposit.TTL)
	assert.Equal(t, 1, deposit.MaxUsage)

	withdrawal, err := DefaultPolicy(PurposeWithdrawal)
	require.NoError(t, err)
	assert.Equal(t, PolicyUsage, withdrawal.Type)
	assert.Equal(t, 1, withdrawal.MaxUsage)
	assert.False(t, withdrawal.CountsTime())

	internal, err := DefaultPolicy(PurposeInternal)
	require.NoError(t, err)
	assert.Equal(t, PolicyTime, internal.Type)
	assert.Equal(t, 24*time.Hour, internal.TTL)
	assert.False(t, internal.CountsUsage())

	_, err = DefaultPolicy(Purpose("bogus"))
	assert.ErrorIs(t, err, ErrUnknownPurpose)
}

func TestWithdrawalTokenIsSingleUse(t *testing.T) {
	svc, pub, _ := newTestService()
	ctx := context.Background()

	emitted, err := svc.Emit(ctx, PurposeWithdrawal)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, emitted.Status)
	// The usage policy carries no TTL, so the 24h fallback applies.
	require.NotNil(t, emitted.ExpiresAt)
	assert.Equal(t, emitted.CreatedAt.Add(24*time.Hour), *emitted.ExpiresAt)

	// First resolution succeeds and consumes the token.
	resolved, ok, err := svc.Resolve(ctx, emitted.Address)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, emitted.ID, resolved.ID)
	assert.Equal(t, 1, resolved.UsageCount)

	// Second resolution is a miss.
	_, ok, err = svc.Resolve(ctx, emitted.Address)
	require.NoError(t, err)
	assert.False(t, ok)

	expired := pub.byType(EventTokenExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, ReasonUsage, expired[0].(TokenExpired).Reason)
}

func TestDepositTokenTTLBeatsRemainingUses(t *testing.T) {
	svc, pub, clk := newTestService()
	ctx := context.Background()

	emitted, err := svc.Emit(ctx, PurposeDeposit)
	require.NoError(t, err)
	require.NotNil(t, emitted.ExpiresAt)

	// TTL elapses before anyone uses the token.
	clk.Advance(time.Hour)

	_, ok, err := svc.Resolve(ctx, emitted.Address)
	require.NoError(t, err)
	assert.False(t, ok)

	expired := pub.byType(EventTokenExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, ReasonTTL, expired[0].(TokenExpired).Reason)
	assert.Empty(t, pub.byType(EventTokenResolved))
}

func TestInternalTokenResolvesRepeatedlyWithinTTL(t *testing.T) {
	svc, _, clk := newTestService()
	ctx := context.Background()

	emitted, err := svc.Emit(ctx, PurposeInternal)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		clk.Advance(time.Hour)
		resolved, ok, err := svc.Resolve(ctx, emitted.Address)
		require.NoError(t, err)
		require.True(t, ok, "resolution %d", i)
		assert.Equal(t, i, resolved.UsageCount)
	}

	// Past the 24h TTL the token stops resolving.
	clk.Advance(20 * time.Hour)
	_, ok, err := svc.Resolve(ctx, emitted.Address)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveUnknownAddressIsMissNotError(t *testing.T) {
	svc, pub, _ := newTestService()

	_, ok, err := svc.Resolve(context.Background(), "bc1qneverexisted")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, pub.events)
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	svc, pub, clk := newTestService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Emit(ctx, PurposeDeposit)
		require.NoError(t, err)
	}
	// Withdrawal tokens run on the 24h fallback TTL and must survive an
	// early sweep.
	withdrawal, err := svc.Emit(ctx, PurposeWithdrawal)
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)

	expired, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, expired)

	expired, err = svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	// Exactly one expiry event per token, even across repeated sweeps.
	assert.Len(t, pub.byType(EventTokenExpired), 3)

	_, ok, err := svc.Resolve(ctx, withdrawal.Address)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmitWithPolicyOverridesDefault(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	emitted, err := svc.EmitWithPolicy(ctx, PurposeDeposit, ExpirationPolicy{
		Type:     PolicyUsage,
		MaxUsage: 3,
	})
	require.NoError(t, err)
	require.NotNil(t, emitted.ExpiresAt)
	assert.Equal(t, emitted.CreatedAt.Add(24*time.Hour), *emitted.ExpiresAt)

	for i := 1; i <= 3; i++ {
		resolved, ok, err := svc.Resolve(ctx, emitted.Address)
		require.NoError(t, err)
		require.True(t, ok, "resolution %d", i)
		assert.Equal(t, i, resolved.UsageCount)
	}
	_, ok, err := svc.Resolve(ctx, emitted.Address)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.EmitWithPolicy(ctx, Purpose("fiat"), ExpirationPolicy{Type: PolicyTime, TTL: time.Hour})
	assert.ErrorIs(t, err, ErrUnknownPurpose)
}

func TestConcurrentResolveElectsSingleWinner(t *testing.T) {
	svc, pub, _ := newTestService()
	ctx := context.Background()

	emitted, err := svc.Emit(ctx, PurposeWithdrawal)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := svc.Resolve(ctx, emitted.Address)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Len(t, pub.byType(EventTokenResolved), 1)
	assert.Len(t, pub.byType(EventTokenExpired), 1)
}

func TestEmitUnknownPurpose(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Emit(context.Background(), Purpose("fiat"))
	assert.ErrorIs(t, err, ErrUnknownPurpose)
}
