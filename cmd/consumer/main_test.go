package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeApplier implements PingApplier for tests
type fakeApplier struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	geoKey   string
	metaKey  string
}

func (f *fakeApplier) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	f.geoKey = key
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeApplier) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	f.metaKey = key
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func TestApplyWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeApplier{failGeo: 1, failH: 1}
	p := models.LocationPing{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}, VehicleClass: models.ClassSedan, At: time.Now()}
	ctx := context.Background()
	start := time.Now()
	if err := applyWithRetry(ctx, f, "drivers", p, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestApplyWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeApplier{failGeo: 5, failH: 0}
	p := models.LocationPing{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}, VehicleClass: models.ClassSedan}
	ctx := context.Background()
	if err := applyWithRetry(ctx, f, "drivers", p, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestApplyWithRetry_KeyScheme(t *testing.T) {
	f := &fakeApplier{}
	p := models.LocationPing{DriverID: "d7", Loc: models.Coord{Lat: 12.9, Lon: 77.6}, VehicleClass: models.ClassBike}
	if err := applyWithRetry(context.Background(), f, "drivers", p, 1, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.geoKey != "drivers:geo:bike" {
		t.Fatalf("unexpected geo key: %s", f.geoKey)
	}
	if f.metaKey != "drivers:meta:d7" {
		t.Fatalf("unexpected meta key: %s", f.metaKey)
	}
}
