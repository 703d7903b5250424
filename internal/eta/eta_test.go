package eta

import (
	"errors"
	"testing"
	"time"

	"github.com/example/dispatch-core/internal/models"
)

type countingClient struct {
	calls int
	err   error
}

func (c *countingClient) EstimateSeconds(from, to models.LatLng) (float64, error) {
	c.calls++
	if c.err != nil {
		return 0, c.err
	}
	return 123, nil
}

func TestEstimateSecondsNaive(t *testing.T) {
	// ~1.11km at 10 m/s is ~111s
	got := EstimateSeconds(models.LatLng{}, models.LatLng{Lat: 0.01}, 10)
	if got < 105 || got > 118 {
		t.Fatalf("want ~111s, got %f", got)
	}
	// non-positive speed falls back to the city default
	if v := EstimateSeconds(models.LatLng{}, models.LatLng{Lat: 0.01}, 0); v <= 0 {
		t.Fatalf("default speed estimate: %f", v)
	}
}

func TestEstimatorUsesCache(t *testing.T) {
	c := &countingClient{}
	e := &Estimator{Client: c, Cache: NewCache(time.Minute), SpeedMps: 10}

	from, to := models.LatLng{Lat: 1}, models.LatLng{Lat: 2}
	for i := 0; i < 5; i++ {
		if v := e.PickupETASeconds(from, to); v != 123 {
			t.Fatalf("want 123, got %f", v)
		}
	}
	if c.calls != 1 {
		t.Fatalf("cache miss count: want 1 client call, got %d", c.calls)
	}
}

func TestEstimatorFallsBackOnClientError(t *testing.T) {
	c := &countingClient{err: errors.New("routing down")}
	e := &Estimator{Client: c, SpeedMps: 10}

	got := e.PickupETASeconds(models.LatLng{}, models.LatLng{Lat: 0.01})
	if got < 105 || got > 118 {
		t.Fatalf("want naive fallback ~111s, got %f", got)
	}
}

func TestCacheExpiry(t *testing.T) {
	cache := NewCache(time.Millisecond)
	from, to := models.LatLng{Lat: 1}, models.LatLng{Lat: 2}
	cache.Set(from, to, 42)
	if v, ok := cache.Get(from, to); !ok || v != 42 {
		t.Fatalf("fresh entry: ok=%v v=%f", ok, v)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok := cache.Get(from, to); ok {
		t.Fatal("entry must expire")
	}
}
