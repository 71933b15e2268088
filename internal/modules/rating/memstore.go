// README: In-memory rating store used when no database is configured and in tests.
package rating

import (
	"context"
	"sort"
	"sync"

	"ambulance/internal/types"
)

type MemoryStore struct {
	mu      sync.RWMutex
	ratings map[types.ID]Rating
	// byBooking enforces one rating per booking.
	byBooking map[types.ID]types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ratings:   make(map[types.ID]Rating),
		byBooking: make(map[types.ID]types.ID),
	}
}

func (m *MemoryStore) Create(_ context.Context, r *Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byBooking[r.BookingID]; ok {
		return ErrAlreadyRated
	}
	m.ratings[r.ID] = *r
	m.byBooking[r.BookingID] = r.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.ratings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) GetByBooking(_ context.Context, bookingID types.ID) (*Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byBooking[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	r := m.ratings[id]
	return &r, nil
}

func (m *MemoryStore) SaveResponse(_ context.Context, r *Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.ratings[r.ID]
	if !ok {
		return ErrNotFound
	}
	cur.AdminResponse = r.AdminResponse
	cur.RespondedAt = r.RespondedAt
	m.ratings[r.ID] = cur
	return nil
}

func (m *MemoryStore) ListByDriver(_ context.Context, driverID types.ID) ([]Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Rating, 0)
	for _, r := range m.ratings {
		if r.DriverID != nil && *r.DriverID == driverID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
