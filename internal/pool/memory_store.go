package pool

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	reserve     Reserve
	obligations map[string]*Obligation
	order       []string // insertion order, for deterministic sweeps
}

// NewMemoryStore creates a memory-backed store seeded with the given reserve.
func NewMemoryStore(initial Reserve) *MemoryStore {
	if initial.Version == 0 {
		initial.Version = 1
	}
	return &MemoryStore{
		reserve:     initial,
		obligations: make(map[string]*Obligation),
	}
}

func (m *MemoryStore) GetReserve(ctx context.Context) (Reserve, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reserve, nil
}

func (m *MemoryStore) ApplyReservation(ctx context.Context, r Reserve, ob *Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.Version != m.reserve.Version+1 {
		return ErrVersionConflict
	}
	m.reserve = r

	cp := *ob
	m.obligations[cp.ID] = &cp
	m.order = append(m.order, cp.ID)
	return nil
}

func (m *MemoryStore) ApplyRelease(ctx context.Context, r Reserve, ob *Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.Version != m.reserve.Version+1 {
		return ErrVersionConflict
	}
	if _, ok := m.obligations[ob.ID]; !ok {
		return ErrNotFound
	}
	m.reserve = r

	cp := *ob
	if ob.ResolvedAt != nil {
		t := *ob.ResolvedAt
		cp.ResolvedAt = &t
	}
	m.obligations[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) FindObligation(ctx context.Context, id string) (*Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ob, ok := m.obligations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ob
	if ob.ResolvedAt != nil {
		t := *ob.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp, nil
}

func (m *MemoryStore) CountPending(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, ob := range m.obligations {
		if ob.Status == StatusPending {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Obligation
	for _, id := range m.order {
		ob := m.obligations[id]
		if ob.Status != StatusPending || !ob.CreatedAt.Before(cutoff) {
			continue
		}
		cp := *ob
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
