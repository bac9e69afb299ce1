package geo

import (
	"context"
	"math"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// StaleAfter is the heartbeat freshness threshold; records older than this
// are treated as logically offline by every index implementation.
const StaleAfter = 2 * time.Minute

// Escalation steps for the candidate search: the second radius is tried only
// when the first yields nothing.
const (
	InitialRadiusM   = 5000.0
	EscalatedRadiusM = 10000.0
)

// Index answers "which available drivers of this class are near this point".
// Implementations: the in-memory geohash Grid and the Redis-backed RedisIndex.
type Index interface {
	Upsert(p models.DriverPresence)
	Remove(driverID string)
	Candidates(ctx context.Context, point models.Coord, class models.VehicleClass, radiusM float64, limit int) ([]models.Candidate, error)
}

// SearchWithEscalation runs the two-step radius search. An empty result after
// the escalated radius means no drivers are available.
func SearchWithEscalation(ctx context.Context, idx Index, point models.Coord, class models.VehicleClass, limit int) ([]models.Candidate, error) {
	cands, err := idx.Candidates(ctx, point, class, InitialRadiusM, limit)
	if err != nil || len(cands) > 0 {
		return cands, err
	}
	return idx.Candidates(ctx, point, class, EscalatedRadiusM, limit)
}

// Haversine distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// DistanceKm is Haversine over Coords, in kilometers.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / 1000.0
}
