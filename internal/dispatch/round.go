package dispatch

import (
	"sync"
	"time"
)

// offerRound is the ephemeral record of one acceptance race: the invited
// drivers and their individual response deadlines. Never persisted; dropped
// as soon as a winner commits or the round times out.
type offerRound struct {
	rideID    string
	deadlines map[string]time.Time // driver -> per-driver deadline
}

func (r *offerRound) invited(driverID string, now time.Time) (open bool, known bool) {
	d, ok := r.deadlines[driverID]
	if !ok {
		return false, false
	}
	return now.Before(d), true
}

func (r *offerRound) driverIDs() []string {
	out := make([]string, 0, len(r.deadlines))
	for id := range r.deadlines {
		out = append(out, id)
	}
	return out
}

type roundTable struct {
	mu sync.Mutex
	m  map[string]*offerRound
}

func newRoundTable() *roundTable {
	return &roundTable{m: make(map[string]*offerRound)}
}

func (t *roundTable) open(rideID string, drivers []string, window time.Duration, now time.Time) *offerRound {
	r := &offerRound{rideID: rideID, deadlines: make(map[string]time.Time, len(drivers))}
	deadline := now.Add(window)
	for _, d := range drivers {
		r.deadlines[d] = deadline
	}
	t.mu.Lock()
	t.m[rideID] = r
	t.mu.Unlock()
	return r
}

func (t *roundTable) get(rideID string) (*offerRound, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.m[rideID]
	return r, ok
}

// close removes and returns the round, if still present. At most one caller
// gets it back, which makes commit vs timeout cleanup race-free.
func (t *roundTable) close(rideID string) (*offerRound, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.m[rideID]
	if ok {
		delete(t.m, rideID)
	}
	return r, ok
}
