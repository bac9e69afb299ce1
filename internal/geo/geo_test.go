package geo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	if d := Haversine(0, 0, 0, 0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func presence(id string, lat, lon float64, class models.VehicleClass) models.DriverPresence {
	return models.DriverPresence{
		DriverID: id, Online: true, Available: true,
		Loc: models.Coord{Lat: lat, Lon: lon}, VehicleClass: class,
		HeartbeatAt: time.Now(),
	}
}

func TestGridOrdersByDistance(t *testing.T) {
	g := NewGrid()
	origin := models.Coord{Lat: 28.6, Lon: 77.1}
	g.Upsert(presence("far", 28.62, 77.1, models.ClassSedan))   // ~2.2km
	g.Upsert(presence("near", 28.605, 77.1, models.ClassSedan)) // ~0.6km
	g.Upsert(presence("mid", 28.61, 77.1, models.ClassSedan))   // ~1.1km

	cands, err := g.Candidates(context.Background(), origin, models.ClassSedan, 5000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 3 {
		t.Fatalf("want 3 candidates, got %d", len(cands))
	}
	if cands[0].DriverID != "near" || cands[1].DriverID != "mid" || cands[2].DriverID != "far" {
		t.Fatalf("bad order: %v", cands)
	}
}

func TestGridFiltersClassAvailabilityRadius(t *testing.T) {
	g := NewGrid()
	origin := models.Coord{Lat: 28.6, Lon: 77.1}

	g.Upsert(presence("ok", 28.605, 77.1, models.ClassSedan))
	g.Upsert(presence("wrong-class", 28.605, 77.1, models.ClassSUV))

	busy := presence("busy", 28.605, 77.1, models.ClassSedan)
	busy.Available = false
	g.Upsert(busy)

	g.Upsert(presence("too-far", 28.7, 77.1, models.ClassSedan)) // ~11km

	cands, _ := g.Candidates(context.Background(), origin, models.ClassSedan, 5000, 0)
	if len(cands) != 1 || cands[0].DriverID != "ok" {
		t.Fatalf("want [ok], got %v", cands)
	}
}

func TestGridExcludesStaleHeartbeats(t *testing.T) {
	g := NewGrid()
	stale := presence("stale", 28.6, 77.1, models.ClassSedan)
	stale.HeartbeatAt = time.Now().Add(-3 * time.Minute)
	g.Upsert(stale)

	cands, _ := g.Candidates(context.Background(), models.Coord{Lat: 28.6, Lon: 77.1}, models.ClassSedan, 5000, 0)
	if len(cands) != 0 {
		t.Fatalf("stale driver must be excluded, got %v", cands)
	}
}

func TestGridRemove(t *testing.T) {
	g := NewGrid()
	g.Upsert(presence("d1", 28.6, 77.1, models.ClassSedan))
	g.Remove("d1")
	cands, _ := g.Candidates(context.Background(), models.Coord{Lat: 28.6, Lon: 77.1}, models.ClassSedan, 5000, 0)
	if len(cands) != 0 {
		t.Fatalf("removed driver still indexed: %v", cands)
	}
}

// The grid must return exactly what a naive full scan over the same records
// would, including across cell boundaries.
func TestGridMatchesNaiveScan(t *testing.T) {
	g := NewGrid()
	origin := models.Coord{Lat: 28.6, Lon: 77.1}
	var all []models.DriverPresence
	for i := 0; i < 40; i++ {
		p := presence(fmt.Sprintf("d%d", i),
			28.55+float64(i)*0.004, 77.05+float64(i%7)*0.012, models.ClassSedan)
		all = append(all, p)
		g.Upsert(p)
	}

	const radius = 8000.0
	want := map[string]bool{}
	for _, p := range all {
		if Haversine(origin.Lat, origin.Lon, p.Loc.Lat, p.Loc.Lon) <= radius {
			want[p.DriverID] = true
		}
	}

	got, _ := g.Candidates(context.Background(), origin, models.ClassSedan, radius, 0)
	if len(got) != len(want) {
		t.Fatalf("grid returned %d, naive scan %d", len(got), len(want))
	}
	for _, c := range got {
		if !want[c.DriverID] {
			t.Fatalf("unexpected candidate %s", c.DriverID)
		}
	}
}

type stubIndex struct {
	calls    []float64
	byRadius map[float64][]models.Candidate
}

func (s *stubIndex) Upsert(models.DriverPresence) {}
func (s *stubIndex) Remove(string)                {}
func (s *stubIndex) Candidates(_ context.Context, _ models.Coord, _ models.VehicleClass, radiusM float64, _ int) ([]models.Candidate, error) {
	s.calls = append(s.calls, radiusM)
	return s.byRadius[radiusM], nil
}

func TestSearchWithEscalation(t *testing.T) {
	idx := &stubIndex{byRadius: map[float64][]models.Candidate{
		EscalatedRadiusM: {{DriverID: "d1"}},
	}}
	cands, err := SearchWithEscalation(context.Background(), idx, models.Coord{}, models.ClassSedan, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].DriverID != "d1" {
		t.Fatalf("want escalated hit, got %v", cands)
	}
	if len(idx.calls) != 2 || idx.calls[0] != InitialRadiusM || idx.calls[1] != EscalatedRadiusM {
		t.Fatalf("want exactly one escalation, calls=%v", idx.calls)
	}
}

func TestSearchStopsAfterFirstHit(t *testing.T) {
	idx := &stubIndex{byRadius: map[float64][]models.Candidate{
		InitialRadiusM: {{DriverID: "d1"}},
	}}
	_, _ = SearchWithEscalation(context.Background(), idx, models.Coord{}, models.ClassSedan, 8)
	if len(idx.calls) != 1 {
		t.Fatalf("must not escalate after a hit, calls=%v", idx.calls)
	}
}
