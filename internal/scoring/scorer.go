// Package scoring ranks candidate drivers for an order with a weighted
// composite of ETA, rating, reliability, fairness, and vehicle match.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/example/dispatch-core/internal/eta"
	"github.com/example/dispatch-core/internal/models"
)

// DefaultMaxETASeconds bounds the ETA normalization; anything at or beyond
// it scores zero on the ETA factor.
const DefaultMaxETASeconds = 1800

type Weights struct {
	ETA          float64 `mapstructure:"eta"`
	Rating       float64 `mapstructure:"rating"`
	Reliability  float64 `mapstructure:"reliability"`
	Fairness     float64 `mapstructure:"fairness"`
	VehicleMatch float64 `mapstructure:"vehicle_match"`
}

func DefaultWeights() Weights {
	return Weights{ETA: 0.35, Rating: 0.25, Reliability: 0.20, Fairness: 0.10, VehicleMatch: 0.10}
}

// Validate checks that the weights are non-negative and sum to 1.0.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"eta": w.ETA, "rating": w.Rating, "reliability": w.Reliability,
		"fairness": w.Fairness, "vehicle_match": w.VehicleMatch,
	} {
		if v < 0 {
			return fmt.Errorf("scorer weight %s is negative: %v", name, v)
		}
	}
	sum := w.ETA + w.Rating + w.Reliability + w.Fairness + w.VehicleMatch
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("scorer weights must sum to 1.0, got %v", sum)
	}
	return nil
}

type Scorer struct {
	weights       Weights
	maxETASeconds float64
	eta           *eta.Estimator
}

func New(w Weights, maxETASeconds float64, estimator *eta.Estimator) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if maxETASeconds <= 0 {
		maxETASeconds = DefaultMaxETASeconds
	}
	return &Scorer{weights: w, maxETASeconds: maxETASeconds, eta: estimator}, nil
}

type Candidate struct {
	Driver     models.Driver
	Score      float64
	ETASeconds float64
}

// Score computes the composite for one driver. Each factor is normalized to
// [0,1] before weighting; the result is deterministic for identical inputs.
func (s *Scorer) Score(pickup models.LatLng, vehicleType models.VehicleType, d models.Driver) Candidate {
	etaSec := s.eta.PickupETASeconds(d.Location, pickup)

	etaScore := 1.0 - math.Min(etaSec, s.maxETASeconds)/s.maxETASeconds
	ratingScore := clamp01(d.Rating / 5.0)
	reliabilityScore := clamp01(d.ReliabilityScore)
	fairnessScore := 1.0 / (1.0 + float64(d.RecentTrips))
	vehicleScore := models.VehicleUpgradeCredit(vehicleType, d.VehicleType)

	score := s.weights.ETA*etaScore +
		s.weights.Rating*ratingScore +
		s.weights.Reliability*reliabilityScore +
		s.weights.Fairness*fairnessScore +
		s.weights.VehicleMatch*vehicleScore

	return Candidate{Driver: d, Score: score, ETASeconds: etaSec}
}

// Rank scores every driver and sorts descending by score, breaking ties by
// driver id so the order is stable across runs.
func (s *Scorer) Rank(pickup models.LatLng, vehicleType models.VehicleType, drivers []models.Driver) []Candidate {
	out := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, s.Score(pickup, vehicleType, d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Driver.ID < out[j].Driver.ID
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
