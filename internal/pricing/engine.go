// Package pricing computes fares from per-vertical rate tables and a
// time-of-day surge bucket. The engine is a pure function of its input, its
// immutable config, and the clock; for a fixed time bucket it is idempotent.
package pricing

import (
	"math"
	"time"

	"github.com/example/dispatch-core/internal/models"
)

type TimeOfDay string

const (
	PeakHour    TimeOfDay = "PEAK_HOUR"
	NormalHour  TimeOfDay = "NORMAL_HOUR"
	OffPeakHour TimeOfDay = "OFF_PEAK_HOUR"
)

// TimeOfDayFor buckets a local timestamp: 07-10 and 17-20 are peak, 00-05 is
// off-peak, everything else is normal.
func TimeOfDayFor(t time.Time) TimeOfDay {
	hour := t.Hour()
	switch {
	case hour >= 7 && hour < 10:
		return PeakHour
	case hour >= 17 && hour < 20:
		return PeakHour
	case hour >= 0 && hour < 5:
		return OffPeakHour
	default:
		return NormalHour
	}
}

type VerticalPricing struct {
	BaseFarePerKm     float64 `mapstructure:"base_fare_per_km"`
	MinimumFare       float64 `mapstructure:"minimum_fare"`
	CostPerMinute     float64 `mapstructure:"cost_per_minute"`
	BookingFee        float64 `mapstructure:"booking_fee"`
	ServiceFeePercent float64 `mapstructure:"service_fee_percent"`
}

// premiumDiscount is the multiplier applied to the total fare for premium
// riders.
const premiumDiscount = 0.9

type Input struct {
	OrderID     string
	Vertical    models.Vertical
	DistanceKm  float64
	DurationMin float64
	IsPremium   bool
}

type Engine struct {
	verticals map[models.Vertical]VerticalPricing
	surge     map[models.Vertical]map[TimeOfDay]float64
	now       func() time.Time
}

func NewEngine(verticals map[models.Vertical]VerticalPricing, surge map[models.Vertical]map[TimeOfDay]float64) *Engine {
	return &Engine{verticals: verticals, surge: surge, now: time.Now}
}

// Calculate prices an order at the current wall-clock time bucket.
func (e *Engine) Calculate(in Input) models.Quote {
	return e.CalculateAt(in, e.now())
}

// CalculateAt prices an order as of a given time. Separated out so callers
// and tests can pin the time-of-day bucket.
func (e *Engine) CalculateAt(in Input, at time.Time) models.Quote {
	rates := e.rates(in.Vertical)

	distanceFare := in.DistanceKm * rates.BaseFarePerKm
	timeFare := in.DurationMin * rates.CostPerMinute
	baseFare := math.Max(distanceFare+timeFare+rates.BookingFee, rates.MinimumFare)

	surge := e.surgeMultiplier(in.Vertical, TimeOfDayFor(at))
	totalFare := baseFare * surge

	finalFare := totalFare
	if in.IsPremium {
		finalFare = totalFare * premiumDiscount
	}

	return models.Quote{
		BaseFare:        RoundHalfUp(baseFare),
		SurgeMultiplier: RoundHalfUp(surge),
		TotalFare:       RoundHalfUp(totalFare),
		FinalFare:       RoundHalfUp(finalFare),
		Breakdown: models.FareBreakdown{
			DistanceFare: RoundHalfUp(distanceFare),
			TimeFare:     RoundHalfUp(timeFare),
			BookingFee:   RoundHalfUp(rates.BookingFee),
			ServiceFee:   RoundHalfUp(totalFare * rates.ServiceFeePercent / 100),
		},
	}
}

// rates returns the vertical's table, falling back to RIDE for verticals
// without one. Config validation guarantees RIDE exists.
func (e *Engine) rates(v models.Vertical) VerticalPricing {
	if r, ok := e.verticals[v]; ok {
		return r
	}
	return e.verticals[models.VerticalRide]
}

// surgeMultiplier defaults to 1.0 for verticals with no surge table.
func (e *Engine) surgeMultiplier(v models.Vertical, bucket TimeOfDay) float64 {
	table, ok := e.surge[v]
	if !ok {
		return 1.0
	}
	if m, ok := table[bucket]; ok {
		return m
	}
	return 1.0
}

// RoundHalfUp rounds to two decimal places with ties going up, as money
// amounts are expected to.
func RoundHalfUp(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
