package geo

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/example/dispatch-core/internal/models"
)

var (
	// ErrStaleLocation marks a location update older than the stored one.
	ErrStaleLocation = errors.New("stale location update")
	// ErrReservationConflict means the driver was not AVAILABLE at reserve
	// time, or the caller no longer holds the lease at confirm time.
	ErrReservationConflict = errors.New("driver reservation conflict")
	// ErrUnknownDriver is returned for operations on unregistered drivers.
	ErrUnknownDriver = errors.New("unknown driver")
)

// Index maintains driver location and availability state and is the single
// synchronization point for reservations: Reserve performs an atomic
// AVAILABLE -> RESERVED transition, so concurrent orders contending for the
// same driver see exactly one winner.
type Index interface {
	// QueryCandidates returns AVAILABLE drivers within radiusMeters of
	// center whose vehicle can serve vehicleType (empty means any). Result
	// order is unspecified; an empty area yields an empty slice, not an
	// error.
	QueryCandidates(ctx context.Context, center models.LatLng, radiusMeters float64, vehicleType models.VehicleType) ([]models.Driver, error)

	// UpsertDriver registers or refreshes a driver's full record.
	UpsertDriver(ctx context.Context, d models.Driver) error

	// UpsertLocation applies a location update, last-write-wins by
	// timestamp. Older updates return ErrStaleLocation.
	UpsertLocation(ctx context.Context, up models.LocationUpdate) error

	// SetStatus forces a driver's availability state.
	SetStatus(ctx context.Context, driverID string, status models.DriverStatus) error

	// Reserve places a lease on an AVAILABLE driver for orderID.
	Reserve(ctx context.Context, driverID, orderID string, ttl time.Duration) error

	// Release returns a driver reserved for orderID to AVAILABLE. Releasing
	// a lease that already expired or moved on is a no-op.
	Release(ctx context.Context, driverID, orderID string) error

	// Confirm promotes a live reservation held by orderID to BUSY.
	Confirm(ctx context.Context, driverID, orderID string) error
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b models.LatLng) float64 {
	const earthRadiusM = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// boundingBox returns the lat/lon half-extents of a radius around lat, used
// as a cheap reject before the precise haversine check.
func boundingBox(lat, radiusMeters float64) (latDelta, lonDelta float64) {
	const metersPerDegree = 111320.0
	latDelta = radiusMeters / metersPerDegree
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	lonDelta = radiusMeters / (metersPerDegree * cos)
	return latDelta, lonDelta
}

func inBoundingBox(center, p models.LatLng, latDelta, lonDelta float64) bool {
	return math.Abs(p.Lat-center.Lat) <= latDelta && math.Abs(p.Lon-center.Lon) <= lonDelta
}
