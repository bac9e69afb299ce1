package ride

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/models"
)

// Store mirrors ride state to durable storage. The in-memory record under the
// per-ride lock is authoritative while the ride is live; store writes are
// best-effort write-through, and terminal rides are served from the store.
type Store interface {
	SaveRide(r *models.Ride) error
	UpdateRide(r *models.Ride) error
	GetRide(id string) (models.Ride, error)
}

// Stats receives the completion side effects: driver earnings credit and both
// parties' ride counters. Called at most once per ride, while the ride lock
// is held, and only after the completed transition has been applied.
type Stats interface {
	RecordCompletion(rideID, driverID, passengerID string, earnings int64) error
}

type entry struct {
	mu   sync.Mutex
	ride *models.Ride
}

// Registry owns every live ride record and is the only mutation path.
type Registry struct {
	mu     sync.RWMutex
	rides  map[string]*entry
	store  Store
	stats  Stats
	logger *slog.Logger
	now    func() time.Time
}

func NewRegistry(store Store, stats Stats, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rides:  make(map[string]*entry),
		store:  store,
		stats:  stats,
		logger: logger,
		now:    time.Now,
	}
}

// Create builds a ride in requested state with a fresh ID and pickup code.
func (g *Registry) Create(req models.RideRequest, distanceKm, durationMin float64, f models.FareBreakdown) *models.Ride {
	now := g.now()
	r := &models.Ride{
		ID:            uuid.NewString(),
		PassengerID:   req.PassengerID,
		VehicleClass:  req.VehicleClass,
		Pickup:        req.Pickup,
		Destination:   req.Destination,
		DistanceKm:    distanceKm,
		DurationMin:   durationMin,
		Fare:          f,
		Status:        models.StatusRequested,
		PaymentMethod: req.PaymentMethod,
		PickupCode:    newPickupCode(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	g.mu.Lock()
	g.rides[r.ID] = &entry{ride: r}
	g.mu.Unlock()
	if err := g.store.SaveRide(copyRide(r)); err != nil {
		g.logger.Error("ride save failed", "ride_id", r.ID, "error", err)
	}
	return copyRide(r)
}

func (g *Registry) lookup(id string) (*entry, error) {
	g.mu.RLock()
	e, ok := g.rides[id]
	g.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Get returns a copy of the ride, falling back to the store for rides that
// already reached a terminal status.
func (g *Registry) Get(id string) (models.Ride, error) {
	if e, err := g.lookup(id); err == nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return *copyRide(e.ride), nil
	}
	r, err := g.store.GetRide(id)
	if err != nil {
		return models.Ride{}, ErrNotFound
	}
	return r, nil
}

// Transition moves the ride to the target status if the table allows it,
// stamping the matching timestamp. Completion additionally fires the stats
// hook exactly once, under the same lock as the transition. Terminal rides
// are evicted from the live map once the transition has been applied.
func (g *Registry) Transition(id string, to models.RideStatus) (models.Ride, error) {
	e, err := g.lookup(id)
	if err != nil {
		return models.Ride{}, g.terminalFromStore(id, to)
	}
	e.mu.Lock()
	r := e.ride
	if !CanTransition(r.Status, to) {
		e.mu.Unlock()
		return models.Ride{}, &InvalidTransitionError{From: r.Status, To: to}
	}
	g.apply(r, to)
	out := *copyRide(r)
	e.mu.Unlock()
	if to.Terminal() {
		g.evict(id)
	}
	return out, nil
}

// AssignDriver is the acceptance-race compare-and-set: it succeeds only if
// the ride is still in searching at the instant of the attempt. Losers get
// ErrAlreadyAssigned and the ride is untouched.
func (g *Registry) AssignDriver(id, driverID string, reserve func() error) (models.Ride, error) {
	e, err := g.lookup(id)
	if err != nil {
		return models.Ride{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.ride
	if r.Status != models.StatusSearching {
		if r.Status == models.StatusDriverAssigned || r.Status.Terminal() {
			return models.Ride{}, ErrAlreadyAssigned
		}
		return models.Ride{}, &InvalidTransitionError{From: r.Status, To: models.StatusDriverAssigned}
	}
	// Reserve while holding the ride lock so status flip and presence flip
	// commit as one unit; a failed reservation leaves the ride in searching.
	if reserve != nil {
		if err := reserve(); err != nil {
			return models.Ride{}, err
		}
	}
	r.DriverID = driverID
	g.apply(r, models.StatusDriverAssigned)
	return *copyRide(r), nil
}

// Cancel is Transition(cancelled) with the reason recorded.
func (g *Registry) Cancel(id, by, reason string) (models.Ride, error) {
	return g.cancel(id, "", by, reason)
}

// CancelIf cancels only while the ride is still in from. A ride that moved
// on, for example to driver_assigned just before an offer timer fired, is
// left untouched. This is the only cancel path timers may use.
func (g *Registry) CancelIf(id string, from models.RideStatus, by, reason string) (models.Ride, error) {
	return g.cancel(id, from, by, reason)
}

func (g *Registry) cancel(id string, from models.RideStatus, by, reason string) (models.Ride, error) {
	e, err := g.lookup(id)
	if err != nil {
		return models.Ride{}, g.terminalFromStore(id, models.StatusCancelled)
	}
	e.mu.Lock()
	r := e.ride
	if from != "" && r.Status != from {
		e.mu.Unlock()
		return models.Ride{}, &InvalidTransitionError{From: r.Status, To: models.StatusCancelled}
	}
	if !CanTransition(r.Status, models.StatusCancelled) {
		e.mu.Unlock()
		return models.Ride{}, &InvalidTransitionError{From: r.Status, To: models.StatusCancelled}
	}
	r.CancelReason = reason
	r.CancelledBy = by
	g.apply(r, models.StatusCancelled)
	out := *copyRide(r)
	e.mu.Unlock()
	g.evict(id)
	return out, nil
}

// AppendRouteSample records a driver location sample on an active ride.
func (g *Registry) AppendRouteSample(id string, s models.LocationSample) (models.Ride, error) {
	e, err := g.lookup(id)
	if err != nil {
		return models.Ride{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.ride
	if r.Status.Terminal() {
		return models.Ride{}, &InvalidTransitionError{From: r.Status, To: r.Status}
	}
	r.AppendLocation(s)
	r.UpdatedAt = g.now()
	return *copyRide(r), nil
}

// ActiveRideForDriver scans for the driver's non-terminal ride, if any.
func (g *Registry) ActiveRideForDriver(driverID string) (models.Ride, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.rides {
		e.mu.Lock()
		r := e.ride
		if r.DriverID == driverID && !r.Status.Terminal() {
			cp := *copyRide(r)
			e.mu.Unlock()
			return cp, true
		}
		e.mu.Unlock()
	}
	return models.Ride{}, false
}

// apply mutates under the caller-held entry lock.
func (g *Registry) apply(r *models.Ride, to models.RideStatus) {
	now := g.now()
	r.Status = to
	r.UpdatedAt = now
	switch to {
	case models.StatusDriverAssigned:
		r.AssignedAt = &now
	case models.StatusDriverArrived:
		r.ArrivedAt = &now
	case models.StatusPickupConfirmed:
		r.PickedUpAt = &now
	case models.StatusCompleted:
		r.CompletedAt = &now
		if g.stats != nil {
			if err := g.stats.RecordCompletion(r.ID, r.DriverID, r.PassengerID, driverEarnings(r.Fare)); err != nil {
				g.logger.Error("completion stats failed", "ride_id", r.ID, "error", err)
			}
		}
	case models.StatusCancelled:
		r.CancelledAt = &now
	}
	// Snapshot before handing off: the store must never share the live
	// RouteLog backing array with the registry.
	if err := g.store.UpdateRide(copyRide(r)); err != nil {
		g.logger.Error("ride update failed", "ride_id", r.ID, "error", err)
	}
}

// evict drops a terminal ride from the live map; the store keeps history.
// Callers must not hold the entry lock.
func (g *Registry) evict(id string) {
	g.mu.Lock()
	delete(g.rides, id)
	g.mu.Unlock()
}

// terminalFromStore classifies a live-map miss: a ride the store still knows
// is terminal and immutable, anything else is unknown.
func (g *Registry) terminalFromStore(id string, to models.RideStatus) error {
	if r, err := g.store.GetRide(id); err == nil {
		return &InvalidTransitionError{From: r.Status, To: to}
	}
	return ErrNotFound
}

// driverEarnings is the fare net of the platform fee and tax.
func driverEarnings(f models.FareBreakdown) int64 {
	e := f.Total - f.PlatformFee - f.Tax
	if e < 0 {
		e = 0
	}
	return e
}

func copyRide(r *models.Ride) *models.Ride {
	cp := *r
	cp.RouteLog = append([]models.LocationSample(nil), r.RouteLog...)
	return &cp
}

// newPickupCode generates the 4-digit one-time verification code the
// passenger reads to the driver at pickup.
func newPickupCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "0000"
	}
	return fmt.Sprintf("%04d", n.Int64())
}
