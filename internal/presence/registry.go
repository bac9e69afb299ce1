// Package presence owns the mutable per-driver state: online/available flags
// and last-known location. Every mutation goes through the registry mutex and
// bumps the driver's revision counter, so reserve/release races resolve by
// revision order rather than wall-clock arrival.
package presence

import (
	"errors"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrUnknownDriver = errors.New("presence: unknown driver")
	ErrOffline       = errors.New("presence: driver offline")
	ErrNotAvailable  = errors.New("presence: driver not available")
)

type Registry struct {
	mu      sync.Mutex
	drivers map[string]*models.DriverPresence
	index   geo.Index // mirrored on every mutation; may be nil in tests
	now     func() time.Time
}

func NewRegistry(index geo.Index) *Registry {
	return &Registry{
		drivers: make(map[string]*models.DriverPresence),
		index:   index,
		now:     time.Now,
	}
}

// SetOnline registers (or re-registers) a driver as online and available.
func (r *Registry) SetOnline(driverID string, class models.VehicleClass) {
	r.mu.Lock()
	d, ok := r.drivers[driverID]
	if !ok {
		d = &models.DriverPresence{DriverID: driverID}
		r.drivers[driverID] = d
	}
	d.Online = true
	d.Available = true
	d.VehicleClass = class
	d.HeartbeatAt = r.now()
	d.Rev++
	cp := *d
	r.mu.Unlock()
	r.mirror(cp)
}

// SetOffline clears both flags and drops the driver from the index.
func (r *Registry) SetOffline(driverID string) {
	r.mu.Lock()
	d, ok := r.drivers[driverID]
	if ok {
		d.Online = false
		d.Available = false
		d.Rev++
	}
	r.mu.Unlock()
	if ok && r.index != nil {
		r.index.Remove(driverID)
	}
}

// Heartbeat records a location ping. Offline drivers are rejected so a stray
// ping cannot resurrect a disconnected session.
func (r *Registry) Heartbeat(driverID string, loc models.Coord) error {
	r.mu.Lock()
	d, ok := r.drivers[driverID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownDriver
	}
	if !d.Online {
		r.mu.Unlock()
		return ErrOffline
	}
	d.Loc = loc
	d.HeartbeatAt = r.now()
	d.Rev++
	cp := *d
	r.mu.Unlock()
	r.mirror(cp)
	return nil
}

// Reserve flips a driver to unavailable. Only the dispatch commit step calls
// this; it fails if the driver is already taken or offline.
func (r *Registry) Reserve(driverID string) error {
	r.mu.Lock()
	d, ok := r.drivers[driverID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownDriver
	}
	if !d.Online {
		r.mu.Unlock()
		return ErrOffline
	}
	if !d.Available {
		r.mu.Unlock()
		return ErrNotAvailable
	}
	d.Available = false
	d.Rev++
	cp := *d
	r.mu.Unlock()
	r.mirror(cp)
	return nil
}

// Release returns a reserved driver to the available pool. Idempotent: a
// double release is a no-op.
func (r *Registry) Release(driverID string) {
	r.mu.Lock()
	d, ok := r.drivers[driverID]
	var cp models.DriverPresence
	changed := false
	if ok && d.Online && !d.Available {
		d.Available = true
		d.Rev++
		cp = *d
		changed = true
	}
	r.mu.Unlock()
	if changed {
		r.mirror(cp)
	}
}

// ReleaseIfRev is the disconnect-detection path: it releases only if the
// record has not been mutated since the caller observed revision rev. A
// driver reserved after the disconnect was detected keeps the reservation.
func (r *Registry) ReleaseIfRev(driverID string, rev uint64) bool {
	r.mu.Lock()
	d, ok := r.drivers[driverID]
	if !ok || d.Rev != rev || !d.Online || d.Available {
		r.mu.Unlock()
		return false
	}
	d.Available = true
	d.Rev++
	cp := *d
	r.mu.Unlock()
	r.mirror(cp)
	return true
}

// Get returns a copy of the driver's record.
func (r *Registry) Get(driverID string) (models.DriverPresence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drivers[driverID]
	if !ok {
		return models.DriverPresence{}, false
	}
	return *d, true
}

func (r *Registry) mirror(p models.DriverPresence) {
	if r.index != nil {
		r.index.Upsert(p)
	}
}
