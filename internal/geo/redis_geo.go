package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/dispatch-core/internal/models"
)

// RedisIndex implements Index on Redis GEO commands, with driver metadata in
// hashes and reservation leases as SET NX keys with a TTL. Redis expiring the
// lease key is what returns a driver to AVAILABLE without any signal from us.
type RedisIndex struct {
	client *redis.Client
	geoKey string
}

func NewRedisIndex(addr, password, geoKey string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, geoKey: geoKey}
}

// NewRedisIndexFromClient wraps an existing client, mainly for the consumer
// binary which manages its own connection.
func NewRedisIndexFromClient(c *redis.Client, geoKey string) *RedisIndex {
	return &RedisIndex{client: c, geoKey: geoKey}
}

func (r *RedisIndex) UpsertDriver(ctx context.Context, d models.Driver) error {
	if d.Status == "" {
		d.Status = models.DriverAvailable
	}
	if err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
		Name: d.ID, Longitude: d.Location.Lon, Latitude: d.Location.Lat,
	}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"vehicle_type":    string(d.VehicleType),
		"rating":          d.Rating,
		"completed_trips": d.CompletedTrips,
		"recent_trips":    d.RecentTrips,
		"reliability":     d.ReliabilityScore,
		"status":          string(d.Status),
		"updated":         d.LastLocationUpdate.UTC().Format(time.RFC3339Nano),
	}).Err()
}

func (r *RedisIndex) UpsertLocation(ctx context.Context, up models.LocationUpdate) error {
	// Stale-write guard: location updates are keyed by driver id on the
	// ingest topic, so per-driver writes arrive in order and a plain
	// read-compare-write is enough here.
	stored, err := r.client.HGet(ctx, metaKey(up.DriverID), "updated").Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if err == nil {
		prev, perr := time.Parse(time.RFC3339Nano, stored)
		if perr == nil {
			if up.Timestamp.Before(prev) {
				return ErrStaleLocation
			}
			if up.Timestamp.Equal(prev) {
				return nil
			}
		}
	}
	if err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
		Name: up.DriverID, Longitude: up.Lon, Latitude: up.Lat,
	}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(up.DriverID),
		"updated", up.Timestamp.UTC().Format(time.RFC3339Nano)).Err()
}

func (r *RedisIndex) SetStatus(ctx context.Context, driverID string, status models.DriverStatus) error {
	if status != models.DriverReserved {
		if err := r.client.Del(ctx, leaseKey(driverID)).Err(); err != nil {
			return err
		}
	}
	return r.client.HSet(ctx, metaKey(driverID), "status", string(status)).Err()
}

func (r *RedisIndex) QueryCandidates(ctx context.Context, center models.LatLng, radiusMeters float64, vehicleType models.VehicleType) ([]models.Driver, error) {
	ids, err := r.client.GeoSearch(ctx, r.geoKey, &redis.GeoSearchQuery{
		Longitude:  center.Lon,
		Latitude:   center.Lat,
		Radius:     radiusMeters,
		RadiusUnit: "m",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]models.Driver, 0, len(ids))
	for _, id := range ids {
		d, err := r.driver(ctx, id)
		if err != nil {
			continue
		}
		if d.Status != models.DriverAvailable {
			continue
		}
		if leased, err := r.client.Exists(ctx, leaseKey(id)).Result(); err != nil || leased > 0 {
			continue
		}
		if !models.VehicleCompatible(vehicleType, d.VehicleType) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *RedisIndex) Reserve(ctx context.Context, driverID, orderID string, ttl time.Duration) error {
	status, err := r.client.HGet(ctx, metaKey(driverID), "status").Result()
	if err == redis.Nil {
		return ErrUnknownDriver
	}
	if err != nil {
		return err
	}
	if models.DriverStatus(status) != models.DriverAvailable {
		return ErrReservationConflict
	}
	ok, err := r.client.SetNX(ctx, leaseKey(driverID), orderID, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrReservationConflict
	}
	return nil
}

func (r *RedisIndex) Release(ctx context.Context, driverID, orderID string) error {
	holder, err := r.client.Get(ctx, leaseKey(driverID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if holder != orderID {
		return nil
	}
	return r.client.Del(ctx, leaseKey(driverID)).Err()
}

func (r *RedisIndex) Confirm(ctx context.Context, driverID, orderID string) error {
	holder, err := r.client.Get(ctx, leaseKey(driverID)).Result()
	if err == redis.Nil {
		return ErrReservationConflict
	}
	if err != nil {
		return err
	}
	if holder != orderID {
		return ErrReservationConflict
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, metaKey(driverID), "status", string(models.DriverBusy))
	pipe.Del(ctx, leaseKey(driverID))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisIndex) driver(ctx context.Context, id string) (models.Driver, error) {
	meta, err := r.client.HGetAll(ctx, metaKey(id)).Result()
	if err != nil {
		return models.Driver{}, err
	}
	pos, err := r.client.GeoPos(ctx, r.geoKey, id).Result()
	if err != nil {
		return models.Driver{}, err
	}
	d := models.Driver{ID: id, Status: models.DriverAvailable}
	if len(pos) == 1 && pos[0] != nil {
		d.Location = models.LatLng{Lat: pos[0].Latitude, Lon: pos[0].Longitude}
	}
	if v, ok := meta["vehicle_type"]; ok {
		d.VehicleType = models.VehicleType(v)
	}
	if v, ok := meta["rating"]; ok {
		d.Rating, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := meta["completed_trips"]; ok {
		d.CompletedTrips, _ = strconv.Atoi(v)
	}
	if v, ok := meta["recent_trips"]; ok {
		d.RecentTrips, _ = strconv.Atoi(v)
	}
	if v, ok := meta["reliability"]; ok {
		d.ReliabilityScore, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := meta["status"]; ok {
		d.Status = models.DriverStatus(v)
	}
	if v, ok := meta["updated"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			d.LastLocationUpdate = t
		}
	}
	return d, nil
}

func (r *RedisIndex) Close() error { return r.client.Close() }

func metaKey(id string) string  { return "driver:meta:" + id }
func leaseKey(id string) string { return "driver:lease:" + id }
