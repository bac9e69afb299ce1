package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrRideNotFound = errors.New("storage: ride not found")

// RideStore defines persistence operations for rides.
type RideStore interface {
	SaveRide(r *models.Ride) error
	UpdateRide(r *models.Ride) error
	GetRide(id string) (models.Ride, error)
	// History returns rides where the party is passenger or driver, most
	// recent first.
	History(partyID string, limit int) ([]models.Ride, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]models.Ride)}
}

func (m *MemoryStore) SaveRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) UpdateRide(r *models.Ride) error { return m.SaveRide(r) }

func (m *MemoryStore) GetRide(id string) (models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.Ride{}, ErrRideNotFound
	}
	return r, nil
}

func (m *MemoryStore) History(partyID string, limit int) ([]models.Ride, error) {
	m.mu.RLock()
	var out []models.Ride
	for _, r := range m.rides {
		if r.PassengerID == partyID || r.DriverID == partyID {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
