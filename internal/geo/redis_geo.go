package geo

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisIndex implements Index using Redis GEO commands: one geo set per
// vehicle class plus a metadata hash per driver. Availability and freshness
// are filtered from the hash at query time.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

func NewRedisIndex(addr, password, prefix string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, prefix: prefix}
}

func (r *RedisIndex) geoKey(class models.VehicleClass) string {
	return r.prefix + ":geo:" + string(class)
}

func (r *RedisIndex) metaKey(id string) string { return r.prefix + ":meta:" + id }

func (r *RedisIndex) Upsert(p models.DriverPresence) {
	ctx := context.Background()
	_, _ = r.client.GeoAdd(ctx, r.geoKey(p.VehicleClass), &redis.GeoLocation{
		Longitude: p.Loc.Lon, Latitude: p.Loc.Lat, Name: p.DriverID,
	}).Result()
	_ = r.client.HSet(ctx, r.metaKey(p.DriverID), map[string]interface{}{
		"online":    strconv.FormatBool(p.Online),
		"available": strconv.FormatBool(p.Available),
		"class":     string(p.VehicleClass),
		"heartbeat": p.HeartbeatAt.Format(time.RFC3339Nano),
	}).Err()
}

func (r *RedisIndex) Remove(driverID string) {
	ctx := context.Background()
	if m, err := r.client.HGetAll(ctx, r.metaKey(driverID)).Result(); err == nil {
		if class, ok := m["class"]; ok {
			_ = r.client.ZRem(ctx, r.geoKey(models.VehicleClass(class)), driverID).Err()
		}
	}
	_ = r.client.Del(ctx, r.metaKey(driverID)).Err()
}

func (r *RedisIndex) Candidates(ctx context.Context, point models.Coord, class models.VehicleClass, radiusM float64, limit int) ([]models.Candidate, error) {
	res, err := r.client.GeoRadius(ctx, r.geoKey(class), point.Lon, point.Lat, &redis.GeoRadiusQuery{
		Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-StaleAfter)
	out := make([]models.Candidate, 0, len(res))
	for _, g := range res {
		m, err := r.client.HGetAll(ctx, r.metaKey(g.Name)).Result()
		if err != nil || m["online"] != "true" || m["available"] != "true" {
			continue
		}
		if hb, err := time.Parse(time.RFC3339Nano, m["heartbeat"]); err != nil || hb.Before(cutoff) {
			continue
		}
		out = append(out, models.Candidate{
			DriverID: g.Name,
			DistM:    g.Dist,
			Loc:      models.Coord{Lat: g.Latitude, Lon: g.Longitude},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistM < out[j].DistM })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
