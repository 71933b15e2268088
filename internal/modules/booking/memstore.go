// README: In-memory booking store used when no database is configured and in tests.
package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"ambulance/internal/types"
)

type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[types.ID]Booking
	events   map[types.ID][]Event
	seq      map[string]int
	nextEvID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[types.ID]Booking),
		events:   make(map[types.ID][]Event),
		seq:      make(map[string]int),
	}
}

func (m *MemoryStore) NextSequence(_ context.Context, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := day.Format("20060102")
	m.seq[k]++
	return m.seq[k], nil
}

func (m *MemoryStore) Create(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *MemoryStore) Update(_ context.Context, b *Booking, version int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.bookings[b.ID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.StatusVersion != version {
		return false, nil
	}
	b.StatusVersion = version + 1
	m.bookings[b.ID] = *b
	return true, nil
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Booking, 0)
	for _, b := range m.bookings {
		b := b
		if f.Match(&b) {
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEvID++
	e.ID = m.nextEvID
	m.events[e.BookingID] = append(m.events[e.BookingID], *e)
	return nil
}

func (m *MemoryStore) Events(_ context.Context, id types.ID) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events[id]))
	copy(out, m.events[id])
	return out, nil
}
