package backend

import (
	"context"
	"sync"

	"github.com/example/ridehail-demo/internal/models"
)

// MemoryStore keeps trips and vehicles in process memory. It is the
// default store when no Postgres DSN is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	trips    map[string]*TripRecord
	vehicles map[string]*VehicleRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:    make(map[string]*TripRecord),
		vehicles: make(map[string]*VehicleRecord),
	}
}

func (m *MemoryStore) CreateTrip(ctx context.Context, t *TripRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[t.ID] = cloneTrip(t)
	return nil
}

func (m *MemoryStore) GetTrip(ctx context.Context, id string) (*TripRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTrip(t), nil
}

func (m *MemoryStore) UpdateTrip(ctx context.Context, t *TripRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; !ok {
		return ErrNotFound
	}
	m.trips[t.ID] = cloneTrip(t)
	return nil
}

func (m *MemoryStore) TripsByStatus(ctx context.Context, status models.TripStatus) ([]*TripRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*TripRecord
	for _, t := range m.trips {
		if t.Status == status {
			out = append(out, cloneTrip(t))
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateVehicle(ctx context.Context, v *VehicleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.ID] = cloneVehicle(v)
	return nil
}

func (m *MemoryStore) GetVehicle(ctx context.Context, id string) (*VehicleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVehicle(v), nil
}

func (m *MemoryStore) UpdateVehicle(ctx context.Context, v *VehicleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[v.ID]; !ok {
		return ErrNotFound
	}
	m.vehicles[v.ID] = cloneVehicle(v)
	return nil
}

func (m *MemoryStore) OnlineVehicles(ctx context.Context) ([]*VehicleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*VehicleRecord
	for _, v := range m.vehicles {
		if v.Online {
			out = append(out, cloneVehicle(v))
		}
	}
	return out, nil
}

func cloneTrip(t *TripRecord) *TripRecord {
	c := *t
	c.Waypoints = append([]models.TripWaypoint(nil), t.Waypoints...)
	return &c
}

func cloneVehicle(v *VehicleRecord) *VehicleRecord {
	c := *v
	c.TripIDs = append([]string(nil), v.TripIDs...)
	return &c
}
