package storage

import "sync"

// PartyStats is the per-party ride counter plus, for drivers, credited
// earnings in whole currency units.
type PartyStats struct {
	Rides    int64 `json:"rides"`
	Earnings int64 `json:"earnings,omitempty"`
}

// StatsStore receives ride-completion side effects. Implementations must make
// the driver credit and both counter increments atomic: either all land or
// none do.
type StatsStore interface {
	RecordCompletion(rideID, driverID, passengerID string, earnings int64) error
	DriverStats(driverID string) (PartyStats, error)
	RiderStats(passengerID string) (PartyStats, error)
}

type MemoryStats struct {
	mu      sync.Mutex
	drivers map[string]*PartyStats
	riders  map[string]*PartyStats
}

func NewMemoryStats() *MemoryStats {
	return &MemoryStats{
		drivers: make(map[string]*PartyStats),
		riders:  make(map[string]*PartyStats),
	}
}

func (m *MemoryStats) RecordCompletion(rideID, driverID, passengerID string, earnings int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.drivers[driverID]
	if d == nil {
		d = &PartyStats{}
		m.drivers[driverID] = d
	}
	d.Rides++
	d.Earnings += earnings

	r := m.riders[passengerID]
	if r == nil {
		r = &PartyStats{}
		m.riders[passengerID] = r
	}
	r.Rides++
	return nil
}

func (m *MemoryStats) DriverStats(driverID string) (PartyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.drivers[driverID]; d != nil {
		return *d, nil
	}
	return PartyStats{}, nil
}

func (m *MemoryStats) RiderStats(passengerID string) (PartyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.riders[passengerID]; r != nil {
		return *r, nil
	}
	return PartyStats{}, nil
}
