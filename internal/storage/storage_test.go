package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func rideAt(id, passenger, driver string, at time.Time) *models.Ride {
	return &models.Ride{ID: id, PassengerID: passenger, DriverID: driver, CreatedAt: at}
}

func TestMemoryStore_HistoryOrderAndScope(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.SaveRide(rideAt("r1", "p1", "d1", base)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveRide(rideAt("r2", "p1", "", base.Add(time.Hour))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveRide(rideAt("r3", "p2", "d1", base.Add(2*time.Hour))); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.History("p1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r2" || got[1].ID != "r1" {
		t.Fatalf("unexpected passenger history: %+v", got)
	}

	got, err = s.History("d1", 1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r3" {
		t.Fatalf("expected newest driver ride only, got %+v", got)
	}
}

func TestMemoryStore_GetRideNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetRide("missing"); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
}

func TestMemoryStats_RecordCompletion(t *testing.T) {
	s := NewMemoryStats()
	if err := s.RecordCompletion("r1", "d1", "p1", 240); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordCompletion("r2", "d1", "p2", 100); err != nil {
		t.Fatalf("record: %v", err)
	}

	d, err := s.DriverStats("d1")
	if err != nil {
		t.Fatalf("driver stats: %v", err)
	}
	if d.Rides != 2 || d.Earnings != 340 {
		t.Fatalf("unexpected driver stats: %+v", d)
	}

	r, err := s.RiderStats("p1")
	if err != nil {
		t.Fatalf("rider stats: %v", err)
	}
	if r.Rides != 1 || r.Earnings != 0 {
		t.Fatalf("unexpected rider stats: %+v", r)
	}

	if empty, _ := s.DriverStats("nobody"); empty.Rides != 0 {
		t.Fatalf("expected zero stats for unknown driver")
	}
}
