package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// VehicleClass is the fixed set of vehicle categories a ride can request.
type VehicleClass string

const (
	ClassBike  VehicleClass = "bike" // two-wheeler
	ClassAuto  VehicleClass = "auto" // three-wheeler
	ClassSedan VehicleClass = "sedan"
	ClassSUV   VehicleClass = "suv"
)

func (c VehicleClass) Valid() bool {
	switch c {
	case ClassBike, ClassAuto, ClassSedan, ClassSUV:
		return true
	}
	return false
}

// RideStatus values form a strict lifecycle; see ride.Transition for the table.
type RideStatus string

const (
	StatusRequested       RideStatus = "requested"
	StatusSearching       RideStatus = "searching"
	StatusDriverAssigned  RideStatus = "driver_assigned"
	StatusDriverArrived   RideStatus = "driver_arrived"
	StatusPickupConfirmed RideStatus = "pickup_confirmed"
	StatusInProgress      RideStatus = "in_progress"
	StatusCompleted       RideStatus = "completed"
	StatusCancelled       RideStatus = "cancelled"
)

func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// FareBreakdown holds whole-currency-unit amounts. Total is always derived,
// never set by hand; see fare.Compute.
type FareBreakdown struct {
	Base        int64   `json:"base"`
	Distance    int64   `json:"distance"`
	Time        int64   `json:"time"`
	Surge       int64   `json:"surge"`
	PlatformFee int64   `json:"platform_fee"`
	Tax         int64   `json:"tax"`
	Discount    int64   `json:"discount"`
	Total       int64   `json:"total"`
	SurgeFactor float64 `json:"surge_factor"`
}

// RouteLogCap bounds the per-ride ring of recent driver location samples.
const RouteLogCap = 50

type LocationSample struct {
	Loc Coord     `json:"loc"`
	At  time.Time `json:"at"`
}

type RideRequest struct {
	PassengerID   string       `json:"passenger_id"`
	Pickup        Coord        `json:"pickup"`
	Destination   Coord        `json:"destination"`
	VehicleClass  VehicleClass `json:"vehicle_class"`
	PaymentMethod string       `json:"payment_method"`
}

type Ride struct {
	ID            string        `json:"id"`
	PassengerID   string        `json:"passenger_id"`
	DriverID      string        `json:"driver_id,omitempty"` // empty until assigned
	VehicleClass  VehicleClass  `json:"vehicle_class"`
	Pickup        Coord         `json:"pickup"`
	Destination   Coord         `json:"destination"`
	DistanceKm    float64       `json:"distance_km"`
	DurationMin   float64       `json:"duration_min"`
	Fare          FareBreakdown `json:"fare"`
	Status        RideStatus    `json:"status"`
	PaymentMethod string        `json:"payment_method"`
	PickupCode    string        `json:"-"` // one-time verification code
	CancelReason  string        `json:"cancel_reason,omitempty"`
	CancelledBy   string        `json:"cancelled_by,omitempty"`

	RouteLog []LocationSample `json:"route_log,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	PickedUpAt  *time.Time `json:"picked_up_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AppendLocation pushes a sample onto the ride's route ring, evicting the
// oldest once RouteLogCap is reached.
func (r *Ride) AppendLocation(s LocationSample) {
	if len(r.RouteLog) >= RouteLogCap {
		copy(r.RouteLog, r.RouteLog[1:])
		r.RouteLog[len(r.RouteLog)-1] = s
		return
	}
	r.RouteLog = append(r.RouteLog, s)
}

// DriverPresence is the registry's view of one connected driver. Owned by
// presence.Registry; Rev increases on every mutation.
type DriverPresence struct {
	DriverID     string       `json:"driver_id"`
	Online       bool         `json:"online"`
	Available    bool         `json:"available"`
	Loc          Coord        `json:"loc"`
	VehicleClass VehicleClass `json:"vehicle_class"`
	HeartbeatAt  time.Time    `json:"heartbeat_at"`
	Rev          uint64       `json:"rev"`
}

// Candidate is one proximity-query hit; DistM is meters from the query point.
type Candidate struct {
	DriverID string
	DistM    float64
	Loc      Coord
}

// LocationPing is the wire shape published to Kafka by the location endpoint
// and consumed by cmd/consumer.
type LocationPing struct {
	DriverID     string       `json:"driver_id"`
	Loc          Coord        `json:"loc"`
	VehicleClass VehicleClass `json:"vehicle_class"`
	At           time.Time    `json:"at"`
}
