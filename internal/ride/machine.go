// Package ride enforces the ride lifecycle. All transitions on one ride are
// linearized through that ride's lock; transitions on different rides are
// independent.
package ride

import (
	"errors"
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrNotFound        = errors.New("ride: not found")
	ErrAlreadyAssigned = errors.New("ride: already assigned")
)

// InvalidTransitionError reports a transition outside the table. The ride is
// left unchanged.
type InvalidTransitionError struct {
	From, To models.RideStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("ride: invalid transition %s -> %s", e.From, e.To)
}

// transitions is the full legal-move table. cancelled is reachable from every
// state before pickup confirmation; after that the trip must run to completed.
var transitions = map[models.RideStatus][]models.RideStatus{
	models.StatusRequested:       {models.StatusSearching, models.StatusCancelled},
	models.StatusSearching:       {models.StatusDriverAssigned, models.StatusCancelled},
	models.StatusDriverAssigned:  {models.StatusDriverArrived, models.StatusCancelled},
	models.StatusDriverArrived:   {models.StatusPickupConfirmed, models.StatusCancelled},
	models.StatusPickupConfirmed: {models.StatusInProgress},
	models.StatusInProgress:      {models.StatusCompleted},
	models.StatusCompleted:       {},
	models.StatusCancelled:       {},
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to models.RideStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
