// README: In-memory payment store used when no database is configured and in tests.
package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"ambulance/internal/types"
)

type MemoryStore struct {
	mu       sync.RWMutex
	payments map[types.ID]Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[types.ID]Payment)}
}

func (m *MemoryStore) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.TransactionID] = *p
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) Update(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.TransactionID]; !ok {
		return ErrNotFound
	}
	m.payments[p.TransactionID] = *p
	return nil
}

func (m *MemoryStore) ListByBooking(_ context.Context, bookingID types.ID) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Payment, 0)
	for _, p := range m.payments {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (m *MemoryStore) ListPending(_ context.Context, f PendingFilter) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Payment, 0)
	for _, p := range m.payments {
		if f.match(&p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortByCreated(ps []Payment) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].TransactionID < ps[j].TransactionID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

// PendingFilter selects pending attempts by expiry for the sweeper and reminder.
type PendingFilter struct {
	ExpiresBefore time.Time
	ExpiresAfter  time.Time
	Unreminded    bool
	Limit         int
}

func (f PendingFilter) match(p *Payment) bool {
	if p.Status != StatusPending {
		return false
	}
	if !f.ExpiresBefore.IsZero() && !p.ExpiresAt.Before(f.ExpiresBefore) {
		return false
	}
	if !f.ExpiresAfter.IsZero() && !p.ExpiresAt.After(f.ExpiresAfter) {
		return false
	}
	if f.Unreminded && p.RemindedAt != nil {
		return false
	}
	return true
}
