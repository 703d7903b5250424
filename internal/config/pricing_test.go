package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/dispatch-core/internal/models"
	"github.com/example/dispatch-core/internal/pricing"
)

func TestDefaultPricingConfigValidates(t *testing.T) {
	cfg := DefaultPricingConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if len(cfg.Verticals) != 6 {
		t.Fatalf("want 6 vertical tables, got %d", len(cfg.Verticals))
	}
	ride := cfg.Verticals[models.VerticalRide]
	if ride.BaseFarePerKm != 0.50 || ride.MinimumFare != 3.00 || ride.BookingFee != 1.50 {
		t.Fatalf("ride table wrong: %+v", ride)
	}
	if cfg.Surge[models.VerticalRide][pricing.PeakHour] != 1.5 {
		t.Fatalf("ride peak surge wrong: %v", cfg.Surge[models.VerticalRide][pricing.PeakHour])
	}
}

func TestLoadPricingConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadPricingConfig("")
	if err != nil {
		t.Fatalf("LoadPricingConfig: %v", err)
	}
	if cfg.Verticals[models.VerticalMoto].BaseFarePerKm != 0.30 {
		t.Fatalf("moto defaults missing: %+v", cfg.Verticals[models.VerticalMoto])
	}
}

func TestLoadPricingConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	body := `
verticals:
  RIDE:
    base_fare_per_km: 0.75
    cost_per_minute: 0.20
    minimum_fare: 4.00
    booking_fee: 2.00
    service_fee_percent: 10.0
surge:
  RIDE:
    PEAK_HOUR: 2.0
    NORMAL_HOUR: 1.0
    OFF_PEAK_HOUR: 0.9
weights:
  eta: 0.40
  rating: 0.20
  reliability: 0.20
  fairness: 0.10
  vehicle_match: 0.10
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadPricingConfig(path)
	if err != nil {
		t.Fatalf("LoadPricingConfig: %v", err)
	}
	if cfg.Verticals[models.VerticalRide].BaseFarePerKm != 0.75 {
		t.Fatalf("override lost: %+v", cfg.Verticals[models.VerticalRide])
	}
	// untouched verticals keep their defaults
	if cfg.Verticals[models.VerticalFood].BaseFarePerKm != 0.40 {
		t.Fatalf("food defaults clobbered: %+v", cfg.Verticals[models.VerticalFood])
	}
	if cfg.Surge[models.VerticalRide][pricing.PeakHour] != 2.0 {
		t.Fatalf("surge override lost")
	}
	if cfg.Weights.ETA != 0.40 {
		t.Fatalf("weights override lost: %+v", cfg.Weights)
	}
}

func TestLoadPricingConfigRejectsBadWeights(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	body := `
weights:
  eta: 0.90
  rating: 0.90
  reliability: 0.0
  fairness: 0.0
  vehicle_match: 0.0
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadPricingConfig(path); err == nil {
		t.Fatal("weights summing to 1.8 must fail validation")
	}
}

func TestPricingConfigValidateRequiresRide(t *testing.T) {
	cfg := DefaultPricingConfig()
	delete(cfg.Verticals, models.VerticalRide)
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing RIDE table must fail validation")
	}

	cfg = DefaultPricingConfig()
	tbl := cfg.Verticals[models.VerticalFood]
	tbl.MinimumFare = -1
	cfg.Verticals[models.VerticalFood] = tbl
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative rate must fail validation")
	}

	cfg = DefaultPricingConfig()
	cfg.Surge[models.VerticalMoto][pricing.PeakHour] = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero surge multiplier must fail validation")
	}
}

func TestDefaultTablesRespectMinimumFare(t *testing.T) {
	cfg := DefaultPricingConfig()
	e := pricing.NewEngine(cfg.Verticals, cfg.Surge)
	noon := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

	for vertical, rates := range cfg.Verticals {
		q := e.CalculateAt(pricing.Input{Vertical: vertical, DistanceKm: 0.1, DurationMin: 1}, noon)
		if q.BaseFare < rates.MinimumFare {
			t.Fatalf("%s: base fare %v below minimum %v", vertical, q.BaseFare, rates.MinimumFare)
		}
		if q.FinalFare < rates.MinimumFare {
			t.Fatalf("%s: final fare %v below minimum %v", vertical, q.FinalFare, rates.MinimumFare)
		}
	}
}

func TestLoadServerConfigDefaultsAndOverrides(t *testing.T) {
	t.Setenv("DISPATCH_MAX_ATTEMPTS", "6")
	t.Setenv("DISPATCH_LEASE_TTL", "20s")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Dispatch.MaxAttempts != 6 {
		t.Fatalf("max attempts: %d", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Dispatch.LeaseTTL.Seconds() != 20 {
		t.Fatalf("lease ttl: %s", cfg.Dispatch.LeaseTTL)
	}
	if cfg.Dispatch.InitialRadiusMeters != 2000 || cfg.Dispatch.RadiusGrowth != 1.5 {
		t.Fatalf("dispatch defaults wrong: %+v", cfg.Dispatch)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b2:9092" {
		t.Fatalf("brokers: %v", cfg.KafkaBrokers)
	}
}

func TestLoadServerConfigRejectsBadValues(t *testing.T) {
	t.Setenv("DISPATCH_LEASE_TTL", "soon")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("unparseable duration must fail")
	}

	t.Setenv("DISPATCH_LEASE_TTL", "")
	t.Setenv("DISPATCH_RADIUS_GROWTH", "0.9")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("shrinking radius growth must fail")
	}
}
