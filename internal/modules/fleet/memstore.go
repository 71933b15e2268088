// README: In-memory fleet store used when no database is configured and in tests.
package fleet

import (
	"context"
	"sort"
	"sync"

	"ambulance/internal/types"
)

type MemoryStore struct {
	mu         sync.RWMutex
	drivers    map[types.ID]Driver
	ambulances map[types.ID]Ambulance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drivers:    make(map[types.ID]Driver),
		ambulances: make(map[types.ID]Ambulance),
	}
}

func (m *MemoryStore) GetDriver(_ context.Context, id types.ID) (*Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *MemoryStore) GetAmbulance(_ context.Context, id types.ID) (*Ambulance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.ambulances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemoryStore) SaveDriver(_ context.Context, d *Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = *d
	return nil
}

func (m *MemoryStore) SaveAmbulance(_ context.Context, a *Ambulance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ambulances[a.ID] = *a
	return nil
}

func (m *MemoryStore) ListDrivers(_ context.Context, status DriverStatus) ([]Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HireDate.Equal(out[j].HireDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].HireDate.Before(out[j].HireDate)
	})
	return out, nil
}

func (m *MemoryStore) ListAmbulances(_ context.Context, status AmbulanceStatus) ([]Ambulance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Ambulance, 0, len(m.ambulances))
	for _, a := range m.ambulances {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
