package token

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	tokens    map[string]*AddressToken
	byAddress map[string]string // address -> token ID
	order     []string
}

// NewMemoryStore creates a memory-backed token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:    make(map[string]*AddressToken),
		byAddress: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, t *AddressToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := copyToken(t)
	m.tokens[cp.ID] = cp
	m.byAddress[cp.Address] = cp.ID
	m.order = append(m.order, cp.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*AddressToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyToken(t), nil
}

func (m *MemoryStore) GetByAddress(ctx context.Context, address string) (*AddressToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byAddress[address]
	if !ok {
		return nil, ErrNotFound
	}
	return copyToken(m.tokens[id]), nil
}

func (m *MemoryStore) RecordUsage(ctx context.Context, id string, usageCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.UsageCount = usageCount
	return nil
}

func (m *MemoryStore) MarkExpired(ctx context.Context, id string, reason ExpiryReason, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[id]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status != StatusActive {
		return false, nil
	}
	t.Status = StatusExpired
	ts := at
	t.ExpiredAt = &ts
	t.ExpiryReason = reason
	return true, nil
}

func (m *MemoryStore) ListExpiredBy(ctx context.Context, now time.Time, limit int) ([]*AddressToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*AddressToken
	for _, id := range m.order {
		t := m.tokens[id]
		if t.Status != StatusActive || t.ExpiresAt == nil || now.Before(*t.ExpiresAt) {
			continue
		}
		result = append(result, copyToken(t))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) CountActive(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, t := range m.tokens {
		if t.Status == StatusActive {
			count++
		}
	}
	return count, nil
}

func copyToken(t *AddressToken) *AddressToken {
	cp := *t
	if t.ExpiresAt != nil {
		ts := *t.ExpiresAt
		cp.ExpiresAt = &ts
	}
	if t.ExpiredAt != nil {
		ts := *t.ExpiredAt
		cp.ExpiredAt = &ts
	}
	return &cp
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
