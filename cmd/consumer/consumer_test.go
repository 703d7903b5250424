package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/dispatch-core/internal/geo"
	"github.com/example/dispatch-core/internal/models"
)

// flakyIndex fails UpsertLocation a set number of times before succeeding,
// or always returns a fixed error.
type flakyIndex struct {
	geo.Index
	failures int
	fixed    error
	calls    int
}

func (f *flakyIndex) UpsertLocation(ctx context.Context, up models.LocationUpdate) error {
	f.calls++
	if f.fixed != nil {
		return f.fixed
	}
	if f.calls <= f.failures {
		return errors.New("transient")
	}
	return nil
}

func TestApplyWithRetrySucceedsAfterTransientErrors(t *testing.T) {
	f := &flakyIndex{failures: 2}
	up := models.LocationUpdate{DriverID: "d1", Lat: 1, Lon: 2, Timestamp: time.Now()}

	start := time.Now()
	if err := applyWithRetry(context.Background(), f, up, 3, 5*time.Millisecond); err != nil {
		t.Fatalf("want success after retries, got %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("want 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatal("expected at least one backoff sleep")
	}
}

func TestApplyWithRetryExhausted(t *testing.T) {
	f := &flakyIndex{failures: 10}
	up := models.LocationUpdate{DriverID: "d1", Timestamp: time.Now()}
	if err := applyWithRetry(context.Background(), f, up, 3, time.Millisecond); err == nil {
		t.Fatal("want error after exhausting attempts")
	}
	if f.calls != 3 {
		t.Fatalf("want 3 attempts, got %d", f.calls)
	}
}

func TestApplyWithRetryStaleIsTerminal(t *testing.T) {
	f := &flakyIndex{fixed: geo.ErrStaleLocation}
	up := models.LocationUpdate{DriverID: "d1", Timestamp: time.Now()}
	if err := applyWithRetry(context.Background(), f, up, 3, time.Millisecond); !errors.Is(err, geo.ErrStaleLocation) {
		t.Fatalf("want ErrStaleLocation, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("stale must not retry, got %d attempts", f.calls)
	}
}

func TestApplyWithRetryUnknownDriverIsTerminal(t *testing.T) {
	f := &flakyIndex{fixed: geo.ErrUnknownDriver}
	up := models.LocationUpdate{DriverID: "ghost", Timestamp: time.Now()}
	if err := applyWithRetry(context.Background(), f, up, 3, time.Millisecond); !errors.Is(err, geo.ErrUnknownDriver) {
		t.Fatalf("want ErrUnknownDriver, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("unknown driver must not retry, got %d attempts", f.calls)
	}
}
