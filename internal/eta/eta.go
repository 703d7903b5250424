package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/dispatch-core/internal/geo"
	"github.com/example/dispatch-core/internal/models"
)

// Client is the interface the scorer uses to get pickup ETAs.
type Client interface {
	EstimateSeconds(from, to models.LatLng) (float64, error)
}

// EstimateSeconds is the naive fallback: straight-line distance over an
// assumed speed. Good enough when no routing engine is configured.
func EstimateSeconds(from, to models.LatLng, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.3 // ~30 km/h city average
	}
	return geo.Haversine(from, to) / speedMps
}

// Cache is a small TTL cache for ETA lookups keyed by coordinate pair.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *Cache) Get(a, b models.LatLng) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.LatLng, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

func keyFor(a, b models.LatLng) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lon, b.Lat, b.Lon)
}

// Estimator bundles the optional routing client, the cache, and the naive
// fallback into one deterministic lookup.
type Estimator struct {
	Client   Client
	Cache    *Cache
	SpeedMps float64
}

func (e *Estimator) PickupETASeconds(from, to models.LatLng) float64 {
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			return v
		}
	}
	if e.Client != nil {
		if v, err := e.Client.EstimateSeconds(from, to); err == nil {
			if e.Cache != nil {
				e.Cache.Set(from, to, v)
			}
			return v
		}
	}
	return EstimateSeconds(from, to, e.SpeedMps)
}
