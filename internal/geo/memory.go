package geo

import (
	"context"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/example/dispatch-core/internal/models"
)

// cellPrecision is the geohash precision used for bucketing. Precision 5
// cells are roughly 4.9km on a side, so one neighbor ring covers the default
// search radius and wider radii just walk more rings.
const cellPrecision = 5

// cellSizeMeters is the minimum dimension of a precision-5 cell, used to
// decide how many neighbor rings a radius needs.
const cellSizeMeters = 4900.0

// MemoryIndex is an in-process Index. Driver records are bucketed by geohash
// cell; queries scan only the cells covering the search radius, reject by
// bounding box, then confirm with haversine.
type MemoryIndex struct {
	mu      sync.RWMutex
	drivers map[string]*driverRecord
	cells   map[string]map[string]struct{} // cell -> driver ids

	now func() time.Time
}

type driverRecord struct {
	driver models.Driver
	cell   string
	lease  *models.Reservation
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		drivers: make(map[string]*driverRecord),
		cells:   make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

func (m *MemoryIndex) UpsertDriver(ctx context.Context, d models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drivers[d.ID]
	if !ok {
		if d.Status == "" {
			d.Status = models.DriverAvailable
		}
		rec = &driverRecord{}
		m.drivers[d.ID] = rec
	} else {
		// re-registration refreshes the profile only; the stored status and
		// lease belong to the reservation flow, not to the payload
		d.Status = rec.driver.Status
	}
	rec.driver = d
	m.reindex(rec, d.ID)
	return nil
}

func (m *MemoryIndex) UpsertLocation(ctx context.Context, up models.LocationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drivers[up.DriverID]
	if !ok {
		return ErrUnknownDriver
	}
	if up.Timestamp.Before(rec.driver.LastLocationUpdate) {
		return ErrStaleLocation
	}
	if up.Timestamp.Equal(rec.driver.LastLocationUpdate) {
		// duplicate delivery of the same update
		return nil
	}
	rec.driver.Location = models.LatLng{Lat: up.Lat, Lon: up.Lon}
	rec.driver.LastLocationUpdate = up.Timestamp
	m.reindex(rec, up.DriverID)
	return nil
}

func (m *MemoryIndex) SetStatus(ctx context.Context, driverID string, status models.DriverStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drivers[driverID]
	if !ok {
		return ErrUnknownDriver
	}
	rec.driver.Status = status
	if status != models.DriverReserved {
		rec.lease = nil
	}
	return nil
}

func (m *MemoryIndex) QueryCandidates(ctx context.Context, center models.LatLng, radiusMeters float64, vehicleType models.VehicleType) ([]models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	latDelta, lonDelta := boundingBox(center.Lat, radiusMeters)
	var out []models.Driver
	for cell := range coveringCells(center, radiusMeters) {
		for id := range m.cells[cell] {
			rec := m.drivers[id]
			m.expireLease(rec, now)
			if rec.driver.Status != models.DriverAvailable {
				continue
			}
			if !models.VehicleCompatible(vehicleType, rec.driver.VehicleType) {
				continue
			}
			if !inBoundingBox(center, rec.driver.Location, latDelta, lonDelta) {
				continue
			}
			if Haversine(center, rec.driver.Location) > radiusMeters {
				continue
			}
			out = append(out, rec.driver)
		}
	}
	return out, nil
}

func (m *MemoryIndex) Reserve(ctx context.Context, driverID, orderID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drivers[driverID]
	if !ok {
		return ErrUnknownDriver
	}
	now := m.now()
	m.expireLease(rec, now)
	if rec.driver.Status != models.DriverAvailable {
		return ErrReservationConflict
	}
	rec.driver.Status = models.DriverReserved
	rec.lease = &models.Reservation{DriverID: driverID, OrderID: orderID, ExpiresAt: now.Add(ttl)}
	return nil
}

func (m *MemoryIndex) Release(ctx context.Context, driverID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drivers[driverID]
	if !ok {
		return ErrUnknownDriver
	}
	// only the lease holder may release; an expired or superseded lease is
	// someone else's problem by now
	if rec.driver.Status == models.DriverReserved && rec.lease != nil && rec.lease.OrderID == orderID {
		rec.driver.Status = models.DriverAvailable
		rec.lease = nil
	}
	return nil
}

func (m *MemoryIndex) Confirm(ctx context.Context, driverID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drivers[driverID]
	if !ok {
		return ErrUnknownDriver
	}
	now := m.now()
	m.expireLease(rec, now)
	if rec.driver.Status != models.DriverReserved || rec.lease == nil || rec.lease.OrderID != orderID {
		return ErrReservationConflict
	}
	rec.driver.Status = models.DriverBusy
	rec.lease = nil
	return nil
}

// Snapshot returns the current record for a driver, mostly for handlers and
// tests.
func (m *MemoryIndex) Snapshot(driverID string) (models.Driver, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drivers[driverID]
	if !ok {
		return models.Driver{}, false
	}
	m.expireLease(rec, m.now())
	return rec.driver, true
}

// expireLease lazily returns a driver whose lease ran out to AVAILABLE.
// Callers hold m.mu.
func (m *MemoryIndex) expireLease(rec *driverRecord, now time.Time) {
	if rec.driver.Status == models.DriverReserved && rec.lease != nil && now.After(rec.lease.ExpiresAt) {
		rec.driver.Status = models.DriverAvailable
		rec.lease = nil
	}
}

// reindex moves a record to the bucket of its current location. Callers hold
// m.mu.
func (m *MemoryIndex) reindex(rec *driverRecord, id string) {
	cell := geohash.EncodeWithPrecision(rec.driver.Location.Lat, rec.driver.Location.Lon, cellPrecision)
	if rec.cell == cell {
		return
	}
	if rec.cell != "" {
		delete(m.cells[rec.cell], id)
	}
	if m.cells[cell] == nil {
		m.cells[cell] = make(map[string]struct{})
	}
	m.cells[cell][id] = struct{}{}
	rec.cell = cell
}

// coveringCells walks neighbor rings outward from the center cell until the
// covered span exceeds the radius.
func coveringCells(center models.LatLng, radiusMeters float64) map[string]struct{} {
	rings := int(radiusMeters/cellSizeMeters) + 1
	centerCell := geohash.EncodeWithPrecision(center.Lat, center.Lon, cellPrecision)
	seen := map[string]struct{}{centerCell: {}}
	frontier := map[string]struct{}{centerCell: {}}
	for i := 0; i < rings; i++ {
		next := make(map[string]struct{})
		for cell := range frontier {
			for _, n := range geohash.Neighbors(cell) {
				if _, ok := seen[n]; !ok {
					seen[n] = struct{}{}
					next[n] = struct{}{}
				}
			}
		}
		frontier = next
	}
	return seen
}
