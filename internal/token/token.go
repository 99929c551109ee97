// Package token implements single-use address tokens.
//
// A token binds a freshly generated address to a namespace purpose and an
// expiration policy. Resolution is the only read path: it either returns an
// active token (counting the use) or a miss. Expired tokens are
// indistinguishable from addresses that never existed.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftlabs/mixpool/internal/clock"
	"github.com/driftlabs/mixpool/internal/events"
	"github.com/driftlabs/mixpool/internal/idgen"
	"github.com/driftlabs/mixpool/internal/metrics"
	"github.com/driftlabs/mixpool/internal/syncutil"
	"github.com/driftlabs/mixpool/internal/traces"
)

var (
	ErrUnknownPurpose = errors.New("unknown token purpose")
	ErrNotFound       = errors.New("token not found")
)

// Purpose namespaces tokens by what the address is for.
type Purpose string

const (
	PurposeDeposit    Purpose = "deposit"
	PurposeWithdrawal Purpose = "withdrawal"
	PurposeInternal   Purpose = "internal"
)

// PolicyType selects which limits an expiration policy enforces.
type PolicyType string

const (
	// PolicyTime expires tokens after a TTL.
	PolicyTime PolicyType = "time"
	// PolicyUsage expires tokens after a use count.
	PolicyUsage PolicyType = "usage"
	// PolicyHybrid expires on whichever limit trips first.
	PolicyHybrid PolicyType = "hybrid"
)

// ExpirationPolicy bounds a token's lifetime.
type ExpirationPolicy struct {
	Type     PolicyType    `json:"type"`
	TTL      time.Duration `json:"ttl,omitempty"`
	MaxUsage int           `json:"maxUsage,omitempty"`
}

// CountsTime reports whether the TTL limit applies.
func (p ExpirationPolicy) CountsTime() bool {
	return p.Type == PolicyTime || p.Type == PolicyHybrid
}

// CountsUsage reports whether the use-count limit applies.
func (p ExpirationPolicy) CountsUsage() bool {
	return p.Type == PolicyUsage || p.Type == PolicyHybrid
}

// DefaultPolicy returns the expiration policy for a purpose.
func DefaultPolicy(purpose Purpose) (ExpirationPolicy, error) {
	switch purpose {
	case PurposeDeposit:
		return ExpirationPolicy{Type: PolicyHybrid, TTL: time.Hour, MaxUsage: 1}, nil
	case PurposeWithdrawal:
		return ExpirationPolicy{Type: PolicyUsage, MaxUsage: 1}, nil
	case PurposeInternal:
		return ExpirationPolicy{Type: PolicyTime, TTL: 24 * time.Hour}, nil
	default:
		return ExpirationPolicy{}, ErrUnknownPurpose
	}
}

// Status is the token lifecycle state. Expired is terminal.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// ExpiryReason records which limit expired a token.
type ExpiryReason string

const (
	ReasonTTL   ExpiryReason = "ttl"
	ReasonUsage ExpiryReason = "usage"
)

// AddressToken is a single-use claim on an address.
type AddressToken struct {
	ID           string           `json:"id"`
	Address      string           `json:"address"`
	Purpose      Purpose          `json:"purpose"`
	Policy       ExpirationPolicy `json:"policy"`
	Status       Status           `json:"status"`
	UsageCount   int              `json:"usageCount"`
	CreatedAt    time.Time        `json:"createdAt"`
	ExpiresAt    *time.Time       `json:"expiresAt,omitempty"`
	ExpiredAt    *time.Time       `json:"expiredAt,omitempty"`
	ExpiryReason ExpiryReason     `json:"expiryReason,omitempty"`
}

// Store persists address tokens. MarkExpired is conditional on the token
// still being active so concurrent expirers elect exactly one winner.
type Store interface {
	Create(ctx context.Context, t *AddressToken) error
	Get(ctx context.Context, id string) (*AddressToken, error)
	GetByAddress(ctx context.Context, address string) (*AddressToken, error)
	RecordUsage(ctx context.Context, id string, usageCount int) error
	MarkExpired(ctx context.Context, id string, reason ExpiryReason, at time.Time) (bool, error)
	ListExpiredBy(ctx context.Context, now time.Time, limit int) ([]*AddressToken, error)
	CountActive(ctx context.Context) (int, error)
}

// Publisher fans token events out to observers.
type Publisher interface {
	Publish(ctx context.Context, e events.Event)
}

// Service emits and resolves address tokens. Resolutions for the same
// address are serialized by a keyed mutex so a token with one use left is
// consumed by exactly one caller.
type Service struct {
	store  Store
	ids    idgen.Generator
	clk    clock.Clock
	bus    Publisher
	logger *slog.Logger
	locks  *syncutil.KeyedMutex
}

// NewService creates the token service.
func NewService(store Store, ids idgen.Generator, clk clock.Clock, bus Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		ids:    ids,
		clk:    clk,
		bus:    bus,
		logger: logger,
		locks:  syncutil.NewKeyedMutex(128),
	}
}

// fallbackTTL bounds tokens whose policy carries no TTL of its own, so no
// token is immortal.
const fallbackTTL = 24 * time.Hour

// Emit creates a token for the purpose with a fresh address and the
// purpose's default policy.
func (s *Service) Emit(ctx context.Context, purpose Purpose) (*AddressToken, error) {
	policy, err := DefaultPolicy(purpose)
	if err != nil {
		return nil, err
	}
	return s.EmitWithPolicy(ctx, purpose, policy)
}

// EmitWithPolicy creates a token for the purpose under an explicit policy.
func (s *Service) EmitWithPolicy(ctx context.Context, purpose Purpose, policy ExpirationPolicy) (*AddressToken, error) {
	if purpose != PurposeDeposit && purpose != PurposeWithdrawal && purpose != PurposeInternal {
		return nil, ErrUnknownPurpose
	}

	ctx, span := traces.StartSpan(ctx, "token.Emit")
	defer span.End()

	now := s.clk.Now()
	t := &AddressToken{
		ID:         s.ids.Generate("tok_"),
		Address:    s.ids.Generate("bc1q"),
		Purpose:    purpose,
		Policy:     policy,
		Status:     StatusActive,
		UsageCount: 0,
		CreatedAt:  now,
	}
	ttl := policy.TTL
	if ttl <= 0 {
		ttl = fallbackTTL
	}
	exp := now.Add(ttl)
	t.ExpiresAt = &exp

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	metrics.TokensEmittedTotal.WithLabelValues(string(purpose)).Inc()
	s.bus.Publish(ctx, TokenEmitted{
		TokenID:   t.ID,
		Address:   t.Address,
		Purpose:   purpose,
		ExpiresAt: t.ExpiresAt,
		Timestamp: now,
	})

	return t, nil
}

// Resolve looks an address up and counts the use. A miss (unknown address,
// expired token, TTL elapsed) returns ok=false without error: callers cannot
// distinguish a dead token from an address that never existed.
//
// TTL takes priority over usage: a token whose TTL elapsed is expired on
// contact even if it has uses left.
func (s *Service) Resolve(ctx context.Context, address string) (*AddressToken, bool, error) {
	ctx, span := traces.StartSpan(ctx, "token.Resolve")
	defer span.End()

	unlock := s.locks.Lock(address)
	defer unlock()

	now := s.clk.Now()

	t, err := s.store.GetByAddress(ctx, address)
	if errors.Is(err, ErrNotFound) {
		metrics.TokenResolutionsTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get token: %w", err)
	}
	if t.Status != StatusActive {
		metrics.TokenResolutionsTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}

	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		s.expire(ctx, t, ReasonTTL, now)
		metrics.TokenResolutionsTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}

	t.UsageCount++
	if err := s.store.RecordUsage(ctx, t.ID, t.UsageCount); err != nil {
		return nil, false, fmt.Errorf("record usage: %w", err)
	}

	metrics.TokenResolutionsTotal.WithLabelValues("resolved").Inc()
	s.bus.Publish(ctx, TokenResolved{
		TokenID:    t.ID,
		Address:    t.Address,
		Purpose:    t.Purpose,
		UsageCount: t.UsageCount,
		Timestamp:  now,
	})

	// The final permitted use still succeeds; the token dies behind it.
	if t.Policy.CountsUsage() && t.UsageCount >= t.Policy.MaxUsage {
		s.expire(ctx, t, ReasonUsage, now)
	}

	return t, true, nil
}

// SweepExpired expires every active token whose TTL has elapsed and returns
// how many were expired. Safe to run concurrently: MarkExpired elects one
// winner per token.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ctx, span := traces.StartSpan(ctx, "token.SweepExpired")
	defer span.End()

	now := s.clk.Now()

	stale, err := s.store.ListExpiredBy(ctx, now, 100)
	if err != nil {
		return 0, fmt.Errorf("list expired tokens: %w", err)
	}

	expired := 0
	for _, t := range stale {
		if s.expire(ctx, t, ReasonTTL, now) {
			expired++
		}
	}
	return expired, nil
}

// Get returns a token by ID.
func (s *Service) Get(ctx context.Context, id string) (*AddressToken, error) {
	return s.store.Get(ctx, id)
}

// expire conditionally marks the token expired and, if this caller won,
// publishes the expiry event. Returns whether this caller was the winner.
func (s *Service) expire(ctx context.Context, t *AddressToken, reason ExpiryReason, now time.Time) bool {
	won, err := s.store.MarkExpired(ctx, t.ID, reason, now)
	if err != nil {
		s.logger.Warn("failed to expire token", "tokenId", t.ID, "error", err)
		return false
	}
	if !won {
		return false
	}

	t.Status = StatusExpired
	t.ExpiredAt = &now
	t.ExpiryReason = reason

	metrics.TokensExpiredTotal.WithLabelValues(string(reason)).Inc()
	s.bus.Publish(ctx, TokenExpired{
		TokenID:   t.ID,
		Address:   t.Address,
		Purpose:   t.Purpose,
		Reason:    reason,
		Timestamp: now,
	})
	return true
}
