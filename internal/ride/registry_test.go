package ride

import (
	"errors"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

type memStore struct {
	mu    sync.Mutex
	rides map[string]models.Ride
}

func newMemStore() *memStore { return &memStore{rides: make(map[string]models.Ride)} }

func (m *memStore) SaveRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *memStore) UpdateRide(r *models.Ride) error { return m.SaveRide(r) }

func (m *memStore) GetRide(id string) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return models.Ride{}, errors.New("no such ride")
	}
	return r, nil
}

type countStats struct {
	mu    sync.Mutex
	calls int
	last  int64
}

func (c *countStats) RecordCompletion(rideID, driverID, passengerID string, earnings int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = earnings
	return nil
}

func request() models.RideRequest {
	return models.RideRequest{
		PassengerID:  "p1",
		Pickup:       models.Coord{Lat: 28.6, Lon: 77.1},
		Destination:  models.Coord{Lat: 28.7, Lon: 77.2},
		VehicleClass: models.ClassSedan,
	}
}

func TestFullLifecycleWalk(t *testing.T) {
	stats := &countStats{}
	g := NewRegistry(newMemStore(), stats, nil)
	r := g.Create(request(), 10, 20, models.FareBreakdown{Total: 295, PlatformFee: 12, Tax: 43})

	steps := []models.RideStatus{models.StatusSearching}
	for _, s := range steps {
		if _, err := g.Transition(r.ID, s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	if _, err := g.AssignDriver(r.ID, "d1", nil); err != nil {
		t.Fatal(err)
	}
	for _, s := range []models.RideStatus{
		models.StatusDriverArrived, models.StatusPickupConfirmed,
		models.StatusInProgress, models.StatusCompleted,
	} {
		if _, err := g.Transition(r.ID, s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}

	got, _ := g.Get(r.ID)
	if got.AssignedAt == nil || got.ArrivedAt == nil || got.PickedUpAt == nil || got.CompletedAt == nil {
		t.Fatalf("missing timestamps: %+v", got)
	}
	if stats.calls != 1 {
		t.Fatalf("completion stats fired %d times", stats.calls)
	}
	if stats.last != 295-12-43 {
		t.Fatalf("earnings: want 240, got %d", stats.last)
	}
}

func TestInvalidTransitionLeavesRideUnchanged(t *testing.T) {
	g := NewRegistry(newMemStore(), nil, nil)
	r := g.Create(request(), 10, 20, models.FareBreakdown{})

	_, err := g.Transition(r.ID, models.StatusInProgress)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	got, _ := g.Get(r.ID)
	if got.Status != models.StatusRequested {
		t.Fatalf("ride mutated on invalid transition: %s", got.Status)
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	g := NewRegistry(newMemStore(), nil, nil)
	r := g.Create(request(), 10, 20, models.FareBreakdown{})
	if _, err := g.Cancel(r.ID, "passenger", "changed my mind"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Transition(r.ID, models.StatusSearching); err == nil {
		t.Fatal("cancelled ride accepted a transition")
	}
	if _, err := g.Cancel(r.ID, "passenger", "again"); err == nil {
		t.Fatal("double cancel succeeded")
	}
}

func TestNoCancelAfterPickupConfirmed(t *testing.T) {
	g := NewRegistry(newMemStore(), nil, nil)
	r := g.Create(request(), 10, 20, models.FareBreakdown{})
	_, _ = g.Transition(r.ID, models.StatusSearching)
	_, _ = g.AssignDriver(r.ID, "d1", nil)
	_, _ = g.Transition(r.ID, models.StatusDriverArrived)
	_, _ = g.Transition(r.ID, models.StatusPickupConfirmed)

	if _, err := g.Cancel(r.ID, "driver", "nope"); err == nil {
		t.Fatal("cancel after pickup confirmation must fail")
	}
}

func TestConcurrentAssignExactlyOneWinner(t *testing.T) {
	g := NewRegistry(newMemStore(), nil, nil)
	r := g.Create(request(), 10, 20, models.FareBreakdown{})
	_, _ = g.Transition(r.ID, models.StatusSearching)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners, losers int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := g.AssignDriver(r.ID, "driver-"+string(rune('a'+i)), nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrAlreadyAssigned):
				losers++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 || losers != n-1 {
		t.Fatalf("want 1 winner / %d losers, got %d / %d", n-1, winners, losers)
	}
	got, _ := g.Get(r.ID)
	if got.DriverID == "" {
		t.Fatal("winner not bound")
	}
}

func TestAssignReserveFailureLeavesSearching(t *testing.T) {
	g := NewRegistry(newMemStore(), nil, nil)
	r := g.Create(request(), 10, 20, models.FareBreakdown{})
	_, _ = g.Transition(r.ID, models.StatusSearching)

	boom := errors.New("presence down")
	if _, err := g.AssignDriver(r.ID, "d1", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("want reserve error, got %v", err)
	}
	got, _ := g.Get(r.ID)
	if got.Status != models.StatusSearching || got.DriverID != "" {
		t.Fatalf("failed commit leaked state: %+v", got)
	}
}

func TestRouteLogRingCap(t *testing.T) {
	g := NewRegistry(newMemStore(), nil, nil)
	r := g.Create(request(), 10, 20, models.FareBreakdown{})
	for i := 0; i < models.RouteLogCap+10; i++ {
		if _, err := g.AppendRouteSample(r.ID, models.LocationSample{Loc: models.Coord{Lat: float64(i)}}); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := g.Get(r.ID)
	if len(got.RouteLog) != models.RouteLogCap {
		t.Fatalf("ring size: want %d, got %d", models.RouteLogCap, len(got.RouteLog))
	}
	// oldest evicted first
	if got.RouteLog[0].Loc.Lat != 10 {
		t.Fatalf("eviction order wrong, head=%v", got.RouteLog[0])
	}
}

func TestGetUnknownRide(t *testing.T) {
	g := NewRegistry(newMemStore(), nil, nil)
	if _, err := g.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestStoreWritesDoNotAliasRouteLog(t *testing.T) {
	store := newMemStore()
	g := NewRegistry(store, nil, nil)
	r := g.Create(request(), 10, 20, models.FareBreakdown{})
	for i := 0; i < models.RouteLogCap; i++ {
		if _, err := g.AppendRouteSample(r.ID, models.LocationSample{Loc: models.Coord{Lat: float64(i)}}); err != nil {
			t.Fatal(err)
		}
	}
	// Transition snapshots the full ring into the store.
	if _, err := g.Transition(r.ID, models.StatusSearching); err != nil {
		t.Fatal(err)
	}
	// Shift the live ring; the stored snapshot must not move with it.
	for i := 0; i < 10; i++ {
		if _, err := g.AppendRouteSample(r.ID, models.LocationSample{Loc: models.Coord{Lat: float64(models.RouteLogCap + i)}}); err != nil {
			t.Fatal(err)
		}
	}
	stored, err := store.GetRide(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.RouteLog[0].Loc.Lat != 0 {
		t.Fatalf("stored route log shares the live backing array, head=%v", stored.RouteLog[0])
	}
}

func TestTerminalRidesEvictedFromMemory(t *testing.T) {
	g := NewRegistry(newMemStore(), nil, nil)
	r := g.Create(request(), 10, 20, models.FareBreakdown{})
	_, _ = g.Transition(r.ID, models.StatusSearching)
	_, _ = g.AssignDriver(r.ID, "d1", nil)
	for _, s := range []models.RideStatus{
		models.StatusDriverArrived, models.StatusPickupConfirmed,
		models.StatusInProgress, models.StatusCompleted,
	} {
		if _, err := g.Transition(r.ID, s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	g.mu.RLock()
	live := len(g.rides)
	g.mu.RUnlock()
	if live != 0 {
		t.Fatalf("terminal ride still held in memory, %d live entries", live)
	}
	got, err := g.Get(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("store fallback returned %s", got.Status)
	}
}
