package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestAvailableImpliesOnline(t *testing.T) {
	r := NewRegistry(nil)
	r.SetOnline("d1", models.ClassSedan)
	d, _ := r.Get("d1")
	if !d.Online || !d.Available {
		t.Fatalf("fresh online driver: %+v", d)
	}
	r.SetOffline("d1")
	d, _ = r.Get("d1")
	if d.Available {
		t.Fatal("offline driver must not be available")
	}
}

func TestHeartbeatRequiresOnline(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Heartbeat("ghost", models.Coord{}); err != ErrUnknownDriver {
		t.Fatalf("want ErrUnknownDriver, got %v", err)
	}
	r.SetOnline("d1", models.ClassSedan)
	r.SetOffline("d1")
	if err := r.Heartbeat("d1", models.Coord{}); err != ErrOffline {
		t.Fatalf("want ErrOffline, got %v", err)
	}
}

func TestReserveRelease(t *testing.T) {
	r := NewRegistry(nil)
	r.SetOnline("d1", models.ClassSedan)
	if err := r.Reserve("d1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Reserve("d1"); err != ErrNotAvailable {
		t.Fatalf("double reserve: want ErrNotAvailable, got %v", err)
	}
	r.Release("d1")
	d, _ := r.Get("d1")
	if !d.Available {
		t.Fatal("release did not restore availability")
	}
	r.Release("d1") // idempotent
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	r := NewRegistry(nil)
	r.SetOnline("d1", models.ClassSedan)

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Reserve("d1") == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	var count int
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("want exactly 1 successful reserve, got %d", count)
	}
}

func TestReleaseIfRevIgnoresLaterReservation(t *testing.T) {
	r := NewRegistry(nil)
	r.SetOnline("d1", models.ClassSedan)
	_ = r.Reserve("d1")
	d, _ := r.Get("d1")
	staleRev := d.Rev

	// Driver reconnects and is reserved again before the stale release lands.
	r.Release("d1")
	_ = r.Reserve("d1")

	if r.ReleaseIfRev("d1", staleRev) {
		t.Fatal("stale release must not un-reserve a newer reservation")
	}
	d, _ = r.Get("d1")
	if d.Available {
		t.Fatal("newer reservation lost to stale release")
	}
}

func TestReleaseIfRevMatching(t *testing.T) {
	r := NewRegistry(nil)
	r.SetOnline("d1", models.ClassSedan)
	_ = r.Reserve("d1")
	d, _ := r.Get("d1")
	if !r.ReleaseIfRev("d1", d.Rev) {
		t.Fatal("matching revision release should apply")
	}
}

type captureIndex struct {
	mu      sync.Mutex
	upserts []models.DriverPresence
	removed []string
}

func (c *captureIndex) Upsert(p models.DriverPresence) {
	c.mu.Lock()
	c.upserts = append(c.upserts, p)
	c.mu.Unlock()
}

func (c *captureIndex) Remove(id string) {
	c.mu.Lock()
	c.removed = append(c.removed, id)
	c.mu.Unlock()
}

func (c *captureIndex) Candidates(_ context.Context, _ models.Coord, _ models.VehicleClass, _ float64, _ int) ([]models.Candidate, error) {
	return nil, nil
}

func TestRegistryMirrorsIndex(t *testing.T) {
	idx := &captureIndex{}
	r := NewRegistry(idx)
	r.SetOnline("d1", models.ClassSedan)
	_ = r.Heartbeat("d1", models.Coord{Lat: 1, Lon: 2})
	r.SetOffline("d1")

	if len(idx.upserts) != 2 {
		t.Fatalf("want 2 upserts, got %d", len(idx.upserts))
	}
	if len(idx.removed) != 1 || idx.removed[0] != "d1" {
		t.Fatalf("offline must remove from index, got %v", idx.removed)
	}
}
