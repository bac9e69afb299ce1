// Package dispatch converts a ride request into exactly one committed driver
// assignment, or a well-defined no-match outcome, with no double-booking.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/ride"
)

var (
	ErrValidation    = errors.New("dispatch: invalid request")
	ErrUnauthorized  = errors.New("dispatch: party not authorized for this ride")
	ErrNotOffered    = errors.New("dispatch: driver was not offered this ride")
	ErrOfferExpired  = errors.New("dispatch: offer deadline passed")
	ErrBadPickupCode = errors.New("dispatch: pickup code mismatch")
)

// Cancellation reasons surfaced to parties and recorded on the ride.
const (
	ReasonNoDrivers  = "no drivers available"
	ReasonNoResponse = "no response"
	ReasonWithdrawn  = "offer withdrawn"
)

// Actor identifies the party performing an operation.
type Actor struct {
	Role string // "passenger", "driver" or "system"
	ID   string
}

var System = Actor{Role: "system"}

// PingPublisher forwards location pings to the ingest pipeline.
type PingPublisher interface {
	PublishPing(p models.LocationPing) error
}

// Coordinator orchestrates the request -> offer -> accept -> lifecycle flow.
type Coordinator struct {
	Rides    *ride.Registry
	Presence *presence.Registry
	Index    geo.Index
	Notifier notify.Notifier
	Est      *eta.Estimator
	Payments payments.Charger // optional
	Pings    PingPublisher    // optional

	OfferWindow    time.Duration
	MinTripKm      float64
	CandidateLimit int
	Currency       string

	// Surge returns the demand multiplier at a pickup point; nil means 1.0.
	Surge func(models.Coord) float64

	rounds *roundTable
	logger *slog.Logger
	now    func() time.Time
}

func NewCoordinator(rides *ride.Registry, pres *presence.Registry, idx geo.Index, n notify.Notifier, est *eta.Estimator, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		Rides:          rides,
		Presence:       pres,
		Index:          idx,
		Notifier:       n,
		Est:            est,
		OfferWindow:    15 * time.Second,
		MinTripKm:      0.5,
		CandidateLimit: 8,
		Currency:       "inr",
		rounds:         newRoundTable(),
		logger:         logger,
		now:            time.Now,
	}
}

// RequestRide runs steps 1-4 of the dispatch protocol. The returned ride is
// either in searching (offers out) or cancelled (no drivers); the caller
// always gets a terminal answer for the request.
func (c *Coordinator) RequestRide(ctx context.Context, req models.RideRequest) (models.Ride, error) {
	start := c.now()
	if err := validateRequest(req); err != nil {
		return models.Ride{}, err
	}
	observability.RideRequestsTotal.Inc()

	distanceKm := geo.DistanceKm(req.Pickup, req.Destination)
	if distanceKm < c.MinTripKm {
		return models.Ride{}, fmt.Errorf("%w: trip below minimum distance %.1f km", ErrValidation, c.MinTripKm)
	}
	durationMin := c.Est.Seconds(req.Pickup, req.Destination) / 60.0

	surge := 1.0
	if c.Surge != nil {
		surge = c.Surge(req.Pickup)
	}
	f, err := fare.Compute(distanceKm, durationMin, req.VehicleClass, surge, 0)
	if err != nil {
		return models.Ride{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	r := c.Rides.Create(req, distanceKm, durationMin, f)

	cands, err := geo.SearchWithEscalation(ctx, c.Index, req.Pickup, req.VehicleClass, c.CandidateLimit)
	if err != nil {
		c.logger.Error("proximity query failed", "ride_id", r.ID, "error", err)
	}
	if len(cands) == 0 {
		observability.NoDriversTotal.Inc()
		cancelled, cerr := c.Rides.Cancel(r.ID, System.Role, ReasonNoDrivers)
		if cerr != nil {
			return models.Ride{}, cerr
		}
		c.publish(notify.Passenger(r.PassengerID), notify.NewEvent(notify.EventRideCancelled, r.ID, map[string]string{"reason": ReasonNoDrivers}))
		return cancelled, nil
	}

	searching, err := c.Rides.Transition(r.ID, models.StatusSearching)
	if err != nil {
		return models.Ride{}, err
	}

	c.rounds.open(r.ID, candidateIDs(cands), c.OfferWindow, c.now())
	for _, cand := range cands {
		observability.OffersTotal.Inc()
		etaSec := c.Est.Seconds(cand.Loc, req.Pickup)
		c.publish(notify.Driver(cand.DriverID), notify.NewEvent(notify.EventRideRequest, r.ID, offerPayload(searching, etaSec)))
	}
	time.AfterFunc(c.OfferWindow, func() { c.expireRound(r.ID) })

	observability.DispatchLatency.Observe(c.now().Sub(start).Seconds())
	return searching, nil
}

// Accept is one driver's attempt in the acceptance race. Exactly one attempt
// per ride succeeds; the rest get ride.ErrAlreadyAssigned.
func (c *Coordinator) Accept(ctx context.Context, rideID, driverID string) (models.Ride, error) {
	round, ok := c.rounds.get(rideID)
	if !ok {
		// Round already closed: either a winner committed or it timed out.
		r, err := c.Rides.Get(rideID)
		if err != nil {
			return models.Ride{}, err
		}
		if r.Status == models.StatusCancelled {
			return models.Ride{}, ErrOfferExpired
		}
		return models.Ride{}, ride.ErrAlreadyAssigned
	}
	open, known := round.invited(driverID, c.now())
	if !known {
		return models.Ride{}, ErrNotOffered
	}
	if !open {
		return models.Ride{}, ErrOfferExpired
	}

	assigned, err := c.Rides.AssignDriver(rideID, driverID, func() error {
		return c.Presence.Reserve(driverID)
	})
	if err != nil {
		if errors.Is(err, ride.ErrAlreadyAssigned) {
			observability.AcceptLossesTotal.Inc()
		}
		return models.Ride{}, err
	}
	observability.AcceptWinsTotal.Inc()

	// Commit done: drop the round and tell everyone.
	closed, _ := c.rounds.close(rideID)
	etaSec := 0.0
	if p, ok := c.Presence.Get(driverID); ok {
		etaSec = c.Est.Seconds(p.Loc, assigned.Pickup)
	}
	c.publish(notify.Passenger(assigned.PassengerID), notify.NewEvent(notify.EventRideAccepted, rideID, acceptedPayload(assigned, etaSec)))
	if closed != nil {
		for _, id := range closed.driverIDs() {
			if id == driverID {
				continue
			}
			c.publish(notify.Driver(id), notify.NewEvent(notify.EventRideCancelled, rideID, map[string]string{"reason": ReasonWithdrawn}))
		}
	}
	return assigned, nil
}

// UpdateStatus advances a ride through its post-assignment lifecycle. The
// pickup code is required for the pickup_confirmed transition.
func (c *Coordinator) UpdateStatus(ctx context.Context, rideID string, actor Actor, to models.RideStatus, pickupCode string) (models.Ride, error) {
	current, err := c.Rides.Get(rideID)
	if err != nil {
		return models.Ride{}, err
	}
	if actor.Role != System.Role {
		if actor.Role != "driver" || actor.ID != current.DriverID {
			return models.Ride{}, ErrUnauthorized
		}
	}
	if to == models.StatusPickupConfirmed && pickupCode != current.PickupCode {
		return models.Ride{}, ErrBadPickupCode
	}

	updated, err := c.Rides.Transition(rideID, to)
	if err != nil {
		return models.Ride{}, err
	}

	if to == models.StatusCompleted {
		c.Presence.Release(updated.DriverID)
		c.chargeFare(updated)
	}
	c.publish(notify.Passenger(updated.PassengerID), notify.NewEvent(notify.EventRideStatusUpdate, rideID, statusPayload(updated)))
	return updated, nil
}

// Cancel ends a ride early. Any reserved driver is released as part of the
// same operation, and the counterpart party is informed.
func (c *Coordinator) Cancel(ctx context.Context, rideID string, actor Actor, reason string) (models.Ride, error) {
	current, err := c.Rides.Get(rideID)
	if err != nil {
		return models.Ride{}, err
	}
	if !mayCancel(actor, current) {
		return models.Ride{}, ErrUnauthorized
	}
	cancelled, err := c.Rides.Cancel(rideID, actor.Role, reason)
	if err != nil {
		return models.Ride{}, err
	}
	if cancelled.DriverID != "" {
		c.Presence.Release(cancelled.DriverID)
	}
	if closed, ok := c.rounds.close(rideID); ok {
		for _, id := range closed.driverIDs() {
			c.publish(notify.Driver(id), notify.NewEvent(notify.EventRideCancelled, rideID, map[string]string{"reason": ReasonWithdrawn}))
		}
	}
	switch actor.Role {
	case "passenger":
		if cancelled.DriverID != "" {
			c.publish(notify.Driver(cancelled.DriverID), notify.NewEvent(notify.EventRideCancelled, rideID, map[string]string{"reason": reason}))
		}
	default:
		c.publish(notify.Passenger(cancelled.PassengerID), notify.NewEvent(notify.EventRideCancelled, rideID, map[string]string{"reason": reason}))
	}
	return cancelled, nil
}

// DriverLocation applies a heartbeat and, when the driver is on an active
// ride, logs the sample on the ride and streams it to the passenger.
func (c *Coordinator) DriverLocation(ctx context.Context, driverID string, loc models.Coord) error {
	if err := c.Presence.Heartbeat(driverID, loc); err != nil {
		return err
	}
	if c.Pings != nil {
		p, _ := c.Presence.Get(driverID)
		if err := c.Pings.PublishPing(models.LocationPing{DriverID: driverID, Loc: loc, VehicleClass: p.VehicleClass, At: c.now()}); err != nil {
			c.logger.Warn("ping publish failed", "driver_id", driverID, "error", err)
		}
	}
	if active, ok := c.Rides.ActiveRideForDriver(driverID); ok {
		if _, err := c.Rides.AppendRouteSample(active.ID, models.LocationSample{Loc: loc, At: c.now()}); err == nil {
			c.publish(notify.Passenger(active.PassengerID), notify.NewEvent(notify.EventDriverLocationUpdate, active.ID, loc))
		}
	}
	return nil
}

// SetAvailability flips a driver online or offline.
func (c *Coordinator) SetAvailability(driverID string, online bool, class models.VehicleClass) error {
	if online {
		if !class.Valid() {
			return fmt.Errorf("%w: unknown vehicle class %q", ErrValidation, class)
		}
		c.Presence.SetOnline(driverID, class)
		observability.DriversOnline.Inc()
		return nil
	}
	c.Presence.SetOffline(driverID)
	observability.DriversOnline.Dec()
	return nil
}

// DriverDisconnected is the socket reader-exit hook. A reservation backing a
// still-active ride survives the disconnect (the driver may reconnect
// mid-trip); a reservation with no live ride is released, guarded by the
// revision observed when the disconnect was detected so a driver reserved
// afterwards keeps the newer reservation.
func (c *Coordinator) DriverDisconnected(driverID string) {
	if _, ok := c.Rides.ActiveRideForDriver(driverID); ok {
		return
	}
	d, ok := c.Presence.Get(driverID)
	if !ok {
		return
	}
	if c.Presence.ReleaseIfRev(driverID, d.Rev) {
		c.logger.Info("released reservation on disconnect", "driver_id", driverID)
	}
}

// GetRide returns the ride to its passenger or assigned driver only.
func (c *Coordinator) GetRide(rideID string, actor Actor) (models.Ride, error) {
	r, err := c.Rides.Get(rideID)
	if err != nil {
		return models.Ride{}, err
	}
	if actor.Role != System.Role && actor.ID != r.PassengerID && actor.ID != r.DriverID {
		return models.Ride{}, ErrUnauthorized
	}
	return r, nil
}

// expireRound fires when the offer window lapses. A ride still in searching
// is cancelled with "no response" so it is never stuck there indefinitely.
// The cancel is conditional on searching: closing the round races Accept's
// bookkeeping, so winning the close must not be allowed to undo a committed
// assignment.
func (c *Coordinator) expireRound(rideID string) {
	round, ok := c.rounds.close(rideID)
	if !ok {
		return // a winner already committed
	}
	cancelled, err := c.Rides.CancelIf(rideID, models.StatusSearching, System.Role, ReasonNoResponse)
	if err != nil {
		return // lost the race to an accept or a cancel
	}
	observability.OfferTimeoutsTotal.Inc()
	c.publish(notify.Passenger(cancelled.PassengerID), notify.NewEvent(notify.EventRideCancelled, rideID, map[string]string{"reason": ReasonNoResponse}))
	for _, id := range round.driverIDs() {
		c.publish(notify.Driver(id), notify.NewEvent(notify.EventRideCancelled, rideID, map[string]string{"reason": ReasonWithdrawn}))
	}
}

// chargeFare invokes the opaque payment service after the fare-due terminal
// state, off the transition path, with one retry.
func (c *Coordinator) chargeFare(r models.Ride) {
	if c.Payments == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := c.Payments.Charge(ctx, r.ID, r.Fare.Total, c.Currency)
		if err != nil {
			time.Sleep(time.Second)
			err = c.Payments.Charge(ctx, r.ID, r.Fare.Total, c.Currency)
		}
		if err != nil {
			c.logger.Error("fare charge failed", "ride_id", r.ID, "amount", r.Fare.Total, "error", err)
		}
	}()
}

func (c *Coordinator) publish(p notify.Party, ev notify.Event) {
	if err := c.Notifier.Publish(p, ev); err != nil {
		c.logger.Warn("event publish failed", "party", p.Key(), "event", ev.Type, "error", err)
	}
}

func validateRequest(req models.RideRequest) error {
	if req.PassengerID == "" {
		return fmt.Errorf("%w: missing passenger id", ErrValidation)
	}
	if !req.VehicleClass.Valid() {
		return fmt.Errorf("%w: unknown vehicle class %q", ErrValidation, req.VehicleClass)
	}
	for _, c := range []models.Coord{req.Pickup, req.Destination} {
		if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
			return fmt.Errorf("%w: coordinate out of range", ErrValidation)
		}
	}
	return nil
}

func mayCancel(actor Actor, r models.Ride) bool {
	switch actor.Role {
	case System.Role:
		return true
	case "passenger":
		return actor.ID == r.PassengerID
	case "driver":
		return actor.ID == r.DriverID
	}
	return false
}

func candidateIDs(cands []models.Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.DriverID)
	}
	return out
}

// offerPayload is what candidate drivers see. The pickup code is deliberately
// absent: only the passenger holds it, and the driver learns it at the curb.
func offerPayload(r models.Ride, etaSec float64) map[string]interface{} {
	return map[string]interface{}{
		"ride_id":       r.ID,
		"pickup":        r.Pickup,
		"destination":   r.Destination,
		"vehicle_class": r.VehicleClass,
		"distance_km":   r.DistanceKm,
		"fare_total":    r.Fare.Total,
		"eta_seconds":   etaSec,
	}
}

// acceptedPayload goes to the passenger only, so it carries the pickup code
// they will read to the driver.
func acceptedPayload(r models.Ride, etaSec float64) map[string]interface{} {
	return map[string]interface{}{
		"ride_id":     r.ID,
		"driver_id":   r.DriverID,
		"eta_seconds": etaSec,
		"status":      r.Status,
		"pickup_code": r.PickupCode,
	}
}

func statusPayload(r models.Ride) map[string]interface{} {
	return map[string]interface{}{
		"ride_id": r.ID,
		"status":  r.Status,
	}
}
