// Package notify delivers asynchronous events to specific parties. Delivery
// is fire-and-forget: publishers never block on confirmation.
package notify

import (
	"errors"
	"time"
)

// Event type names match the real-time channel contract.
const (
	EventRideRequest          = "rideRequest"
	EventRideAccepted         = "rideAccepted"
	EventRideCancelled        = "rideCancelled"
	EventRideStatusUpdate     = "rideStatusUpdate"
	EventDriverLocationUpdate = "driverLocationUpdate"
)

var ErrNoSession = errors.New("notify: no session for party")

// Party addresses a delivery room: one driver or one passenger.
type Party struct {
	Role string `json:"role"` // "driver" or "passenger"
	ID   string `json:"id"`
}

func Driver(id string) Party    { return Party{Role: "driver", ID: id} }
func Passenger(id string) Party { return Party{Role: "passenger", ID: id} }

func (p Party) Key() string { return p.Role + ":" + p.ID }

type Event struct {
	Type    string      `json:"type"`
	RideID  string      `json:"ride_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

func NewEvent(typ, rideID string, payload interface{}) Event {
	return Event{Type: typ, RideID: rideID, Payload: payload, At: time.Now()}
}

// Notifier is the thin message-passing surface the dispatcher and ride
// machinery publish through.
type Notifier interface {
	Publish(p Party, ev Event) error
}

// retrier retries a failed publish once after a short backoff. Anything
// still failing after that is dropped, per the fire-and-forget contract.
type retrier struct {
	next  Notifier
	delay time.Duration
}

// WithRetry wraps a notifier with a single retry after delay.
func WithRetry(next Notifier, delay time.Duration) Notifier {
	return &retrier{next: next, delay: delay}
}

func (r *retrier) Publish(p Party, ev Event) error {
	if err := r.next.Publish(p, ev); err == nil {
		return nil
	}
	time.Sleep(r.delay)
	return r.next.Publish(p, ev)
}

type asyncNotifier struct {
	next Notifier
}

// Async decouples publishers from delivery: Publish returns immediately and
// the underlying send (including any retry) runs in its own goroutine.
func Async(next Notifier) Notifier {
	return &asyncNotifier{next: next}
}

func (a *asyncNotifier) Publish(p Party, ev Event) error {
	go func() { _ = a.next.Publish(p, ev) }()
	return nil
}
