package scheduler

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]*ScheduledPayment
	batches  map[string]*PaymentBatch
	order    []string
}

// NewMemoryStore creates a memory-backed scheduler store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]*ScheduledPayment),
		batches:  make(map[string]*PaymentBatch),
	}
}

func (m *MemoryStore) CreatePayment(ctx context.Context, p *ScheduledPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := copyPayment(p)
	m.payments[cp.ID] = cp
	m.order = append(m.order, cp.ID)
	return nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, id string) (*ScheduledPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPayment(p), nil
}

func (m *MemoryStore) UpdatePayment(ctx context.Context, p *ScheduledPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[p.ID]; !ok {
		return ErrNotFound
	}
	m.payments[p.ID] = copyPayment(p)
	return nil
}

// ListQueued returns queued payments in insertion order, regardless of
// their scheduled time.
func (m *MemoryStore) ListQueued(ctx context.Context, limit int) ([]*ScheduledPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var queued []*ScheduledPayment
	for _, id := range m.order {
		p := m.payments[id]
		if p.Status != StatusQueued {
			continue
		}
		queued = append(queued, copyPayment(p))
		if limit > 0 && len(queued) == limit {
			break
		}
	}
	return queued, nil
}

func (m *MemoryStore) ClaimForBatch(ctx context.Context, paymentIDs []string, batchID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var claimed []string
	for _, id := range paymentIDs {
		p, ok := m.payments[id]
		if !ok || p.Status != StatusQueued {
			continue
		}
		p.Status = StatusProcessing
		p.BatchID = batchID
		claimed = append(claimed, id)
	}
	return claimed, nil
}

func (m *MemoryStore) CreateBatch(ctx context.Context, b *PaymentBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches[b.ID] = copyBatch(b)
	return nil
}

func (m *MemoryStore) GetBatch(ctx context.Context, id string) (*PaymentBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return copyBatch(b), nil
}

func (m *MemoryStore) UpdateBatch(ctx context.Context, b *PaymentBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.batches[b.ID]; !ok {
		return ErrBatchNotFound
	}
	m.batches[b.ID] = copyBatch(b)
	return nil
}

func (m *MemoryStore) ListBatchesByStatus(ctx context.Context, status BatchStatus, limit int) ([]*PaymentBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*PaymentBatch
	for _, b := range m.batches {
		if b.Status != status {
			continue
		}
		result = append(result, copyBatch(b))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copyPayment(p *ScheduledPayment) *ScheduledPayment {
	cp := *p
	if p.ExecutedAt != nil {
		ts := *p.ExecutedAt
		cp.ExecutedAt = &ts
	}
	return &cp
}

func copyBatch(b *PaymentBatch) *PaymentBatch {
	cp := *b
	cp.PaymentIDs = append([]string(nil), b.PaymentIDs...)
	return &cp
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
