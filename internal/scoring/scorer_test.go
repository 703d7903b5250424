package scoring

import (
	"math"
	"testing"

	"github.com/example/dispatch-core/internal/eta"
	"github.com/example/dispatch-core/internal/models"
)

// fixedETA answers every estimate with one value per driver position
// latitude, making factor math easy to pin down.
type fixedETA struct {
	byLat map[float64]float64
}

func (f *fixedETA) EstimateSeconds(from, to models.LatLng) (float64, error) {
	return f.byLat[from.Lat], nil
}

func newScorer(t *testing.T, byLat map[float64]float64) *Scorer {
	t.Helper()
	est := &eta.Estimator{Client: &fixedETA{byLat: byLat}, SpeedMps: 8.3}
	s, err := New(DefaultWeights(), DefaultMaxETASeconds, est)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWeightsValidate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights must validate: %v", err)
	}

	bad := Weights{ETA: 0.5, Rating: 0.5, Reliability: 0.5}
	if err := bad.Validate(); err == nil {
		t.Fatal("weights summing to 1.5 must fail validation")
	}

	neg := Weights{ETA: -0.1, Rating: 0.6, Reliability: 0.2, Fairness: 0.2, VehicleMatch: 0.1}
	if err := neg.Validate(); err == nil {
		t.Fatal("negative weight must fail validation")
	}

	if _, err := New(bad, 0, nil); err == nil {
		t.Fatal("New must reject invalid weights")
	}
}

func TestScoreFactors(t *testing.T) {
	s := newScorer(t, map[float64]float64{1.0: 900})
	d := models.Driver{
		ID:               "d1",
		Location:         models.LatLng{Lat: 1.0},
		VehicleType:      models.VehicleEconomy,
		Rating:           4.0,
		ReliabilityScore: 0.8,
		RecentTrips:      1,
	}
	c := s.Score(models.LatLng{}, models.VehicleEconomy, d)

	// eta 900/1800 -> 0.5, rating 4/5 -> 0.8, reliability 0.8,
	// fairness 1/(1+1) -> 0.5, vehicle exact -> 1.0
	want := 0.35*0.5 + 0.25*0.8 + 0.20*0.8 + 0.10*0.5 + 0.10*1.0
	if math.Abs(c.Score-want) > 1e-9 {
		t.Fatalf("score: want %v, got %v", want, c.Score)
	}
	if c.ETASeconds != 900 {
		t.Fatalf("eta seconds: want 900, got %v", c.ETASeconds)
	}
}

func TestScoreETABeyondMaxScoresZero(t *testing.T) {
	s := newScorer(t, map[float64]float64{1.0: 3600})
	d := models.Driver{ID: "far", Location: models.LatLng{Lat: 1.0}, Rating: 5, ReliabilityScore: 1}
	c := s.Score(models.LatLng{}, "", d)

	// eta factor contributes nothing; fairness 1.0, rating 1.0, reliability 1.0, vehicle 1.0
	want := 0.25 + 0.20 + 0.10 + 0.10
	if math.Abs(c.Score-want) > 1e-9 {
		t.Fatalf("score: want %v, got %v", want, c.Score)
	}
}

func TestScoreClampsOutOfRangeInputs(t *testing.T) {
	s := newScorer(t, map[float64]float64{1.0: 0})
	d := models.Driver{ID: "d1", Location: models.LatLng{Lat: 1.0}, Rating: 7.5, ReliabilityScore: 1.4}
	c := s.Score(models.LatLng{}, "", d)

	perfect := 0.35 + 0.25 + 0.20 + 0.10 + 0.10
	if c.Score > perfect+1e-9 {
		t.Fatalf("score exceeded 1.0 despite clamping: %v", c.Score)
	}
}

func TestRankDeterministicTieBreak(t *testing.T) {
	s := newScorer(t, map[float64]float64{1.0: 600})
	same := func(id string) models.Driver {
		return models.Driver{ID: id, Location: models.LatLng{Lat: 1.0}, Rating: 4.5, ReliabilityScore: 0.9}
	}
	drivers := []models.Driver{same("charlie"), same("alpha"), same("bravo")}

	for i := 0; i < 10; i++ {
		ranked := s.Rank(models.LatLng{}, "", drivers)
		if ranked[0].Driver.ID != "alpha" || ranked[1].Driver.ID != "bravo" || ranked[2].Driver.ID != "charlie" {
			t.Fatalf("tie break must order by id: got %s,%s,%s",
				ranked[0].Driver.ID, ranked[1].Driver.ID, ranked[2].Driver.ID)
		}
	}
}

func TestRankPrefersCloserDriver(t *testing.T) {
	s := newScorer(t, map[float64]float64{1.0: 300, 2.0: 1500})
	near := models.Driver{ID: "near", Location: models.LatLng{Lat: 1.0}, Rating: 4.0, ReliabilityScore: 0.8}
	far := models.Driver{ID: "far", Location: models.LatLng{Lat: 2.0}, Rating: 4.0, ReliabilityScore: 0.8}

	ranked := s.Rank(models.LatLng{}, "", []models.Driver{far, near})
	if ranked[0].Driver.ID != "near" {
		t.Fatalf("want near driver first, got %s", ranked[0].Driver.ID)
	}
}

func TestVehicleUpgradeCredit(t *testing.T) {
	cases := []struct {
		requested, actual models.VehicleType
		want              float64
	}{
		{models.VehicleEconomy, models.VehicleEconomy, 1.0},
		{models.VehicleEconomy, models.VehicleComfort, 0.5},
		{models.VehicleEconomy, models.VehiclePremium, 0.25},
		{models.VehicleComfort, models.VehicleEconomy, 0},
		{models.VehicleMoto, models.VehicleMoto, 1.0},
		{models.VehicleMoto, models.VehicleEconomy, 0},
		{"", models.VehicleVan, 1.0},
	}
	for _, c := range cases {
		if got := models.VehicleUpgradeCredit(c.requested, c.actual); got != c.want {
			t.Fatalf("credit(%q,%q): want %v, got %v", c.requested, c.actual, c.want, got)
		}
	}
}

func TestFairnessDecaysWithRecentTrips(t *testing.T) {
	s := newScorer(t, map[float64]float64{1.0: 600})
	busy := models.Driver{ID: "busy", Location: models.LatLng{Lat: 1.0}, Rating: 4.0, ReliabilityScore: 0.8, RecentTrips: 9}
	idle := models.Driver{ID: "idle", Location: models.LatLng{Lat: 1.0}, Rating: 4.0, ReliabilityScore: 0.8, RecentTrips: 0}

	ranked := s.Rank(models.LatLng{}, "", []models.Driver{busy, idle})
	if ranked[0].Driver.ID != "idle" {
		t.Fatalf("idle driver should outrank busy one, got %s first", ranked[0].Driver.ID)
	}
	diff := ranked[0].Score - ranked[1].Score
	want := 0.10 * (1.0 - 1.0/10.0)
	if math.Abs(diff-want) > 1e-9 {
		t.Fatalf("fairness gap: want %v, got %v", want, diff)
	}
}
