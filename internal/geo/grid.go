package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/example/ride-dispatch/internal/models"
)

// cellPrecision 5 gives ~4.9km x 4.9km cells, a good fit for the 5-10km
// search radii the dispatcher uses.
const (
	cellPrecision = 5
	cellMinM      = 4890.0
)

// Grid is an in-memory geospatial index bucketing driver presence records by
// geohash cell. Updated incrementally on every heartbeat.
type Grid struct {
	mu    sync.RWMutex
	cells map[string]map[string]models.DriverPresence
	byID  map[string]string // driver -> current cell
	now   func() time.Time  // overridable in tests
}

func NewGrid() *Grid {
	return &Grid{
		cells: make(map[string]map[string]models.DriverPresence),
		byID:  make(map[string]string),
		now:   time.Now,
	}
}

func cellOf(c models.Coord) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lon, cellPrecision)
}

func (g *Grid) Upsert(p models.DriverPresence) {
	cell := cellOf(p.Loc)
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.byID[p.DriverID]; ok && old != cell {
		delete(g.cells[old], p.DriverID)
		if len(g.cells[old]) == 0 {
			delete(g.cells, old)
		}
	}
	bucket := g.cells[cell]
	if bucket == nil {
		bucket = make(map[string]models.DriverPresence)
		g.cells[cell] = bucket
	}
	bucket[p.DriverID] = p
	g.byID[p.DriverID] = cell
}

func (g *Grid) Remove(driverID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cell, ok := g.byID[driverID]
	if !ok {
		return
	}
	delete(g.cells[cell], driverID)
	if len(g.cells[cell]) == 0 {
		delete(g.cells, cell)
	}
	delete(g.byID, driverID)
}

// coverCells returns the geohash cells whose union contains every point
// within radiusM of the center: the center cell plus enough neighbor rings.
func coverCells(center models.Coord, radiusM float64) []string {
	rings := int(math.Ceil(radiusM / cellMinM))
	seen := map[string]bool{cellOf(center): true}
	frontier := []string{cellOf(center)}
	for i := 0; i < rings; i++ {
		var next []string
		for _, c := range frontier {
			for _, n := range geohash.Neighbors(c) {
				if !seen[n] {
					seen[n] = true
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}

func (g *Grid) Candidates(_ context.Context, point models.Coord, class models.VehicleClass, radiusM float64, limit int) ([]models.Candidate, error) {
	cutoff := g.now().Add(-StaleAfter)
	g.mu.RLock()
	var hits []models.Candidate
	for _, cell := range coverCells(point, radiusM) {
		for _, p := range g.cells[cell] {
			if !p.Online || !p.Available || p.VehicleClass != class {
				continue
			}
			if p.HeartbeatAt.Before(cutoff) {
				continue
			}
			d := Haversine(point.Lat, point.Lon, p.Loc.Lat, p.Loc.Lon)
			if d > radiusM {
				continue
			}
			hits = append(hits, models.Candidate{DriverID: p.DriverID, DistM: d, Loc: p.Loc})
		}
	}
	g.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].DistM < hits[j].DistM })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
