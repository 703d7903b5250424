package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/example/dispatch-core/internal/models"
	"github.com/example/dispatch-core/internal/pricing"
	"github.com/example/dispatch-core/internal/scoring"
)

// PricingConfig is the immutable rate/weight configuration loaded once at
// startup. It is never mutated afterwards, so concurrent reads need no
// synchronization.
type PricingConfig struct {
	Verticals map[models.Vertical]pricing.VerticalPricing
	Surge     map[models.Vertical]map[pricing.TimeOfDay]float64
	Weights   scoring.Weights
}

// DefaultPricingConfig returns the built-in rate tables for every vertical
// and the default scorer weights.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Verticals: map[models.Vertical]pricing.VerticalPricing{
			models.VerticalRide:     {BaseFarePerKm: 0.50, CostPerMinute: 0.15, MinimumFare: 3.00, BookingFee: 1.50, ServiceFeePercent: 10.0},
			models.VerticalMoto:     {BaseFarePerKm: 0.30, CostPerMinute: 0.10, MinimumFare: 2.00, BookingFee: 1.00, ServiceFeePercent: 10.0},
			models.VerticalFood:     {BaseFarePerKm: 0.40, CostPerMinute: 0.12, MinimumFare: 2.50, BookingFee: 1.00, ServiceFeePercent: 15.0},
			models.VerticalGrocery:  {BaseFarePerKm: 0.35, CostPerMinute: 0.12, MinimumFare: 2.00, BookingFee: 0.75, ServiceFeePercent: 12.0},
			models.VerticalGoods:    {BaseFarePerKm: 0.60, CostPerMinute: 0.20, MinimumFare: 5.00, BookingFee: 2.00, ServiceFeePercent: 15.0},
			models.VerticalTruckVan: {BaseFarePerKm: 1.00, CostPerMinute: 0.30, MinimumFare: 10.00, BookingFee: 3.00, ServiceFeePercent: 20.0},
		},
		Surge: map[models.Vertical]map[pricing.TimeOfDay]float64{
			models.VerticalRide: {pricing.PeakHour: 1.5, pricing.NormalHour: 1.0, pricing.OffPeakHour: 0.8},
			models.VerticalMoto: {pricing.PeakHour: 1.3, pricing.NormalHour: 1.0, pricing.OffPeakHour: 0.8},
		},
		Weights: scoring.DefaultWeights(),
	}
}

// LoadPricingConfig layers an optional YAML file over the defaults and
// validates the result. An empty path means defaults only. Any validation
// failure here is fatal to startup, never a runtime condition.
func LoadPricingConfig(path string) (PricingConfig, error) {
	cfg := DefaultPricingConfig()

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return PricingConfig{}, fmt.Errorf("read pricing config: %w", err)
		}

		if v.IsSet("verticals") {
			overrides := map[string]pricing.VerticalPricing{}
			if err := v.UnmarshalKey("verticals", &overrides); err != nil {
				return PricingConfig{}, fmt.Errorf("decode verticals: %w", err)
			}
			// viper lowercases keys, the tables use upper-case names
			for name, rates := range overrides {
				cfg.Verticals[models.Vertical(strings.ToUpper(name))] = rates
			}
		}

		if v.IsSet("surge") {
			overrides := map[string]map[string]float64{}
			if err := v.UnmarshalKey("surge", &overrides); err != nil {
				return PricingConfig{}, fmt.Errorf("decode surge: %w", err)
			}
			for name, table := range overrides {
				buckets := map[pricing.TimeOfDay]float64{}
				for bucket, mult := range table {
					buckets[pricing.TimeOfDay(strings.ToUpper(bucket))] = mult
				}
				cfg.Surge[models.Vertical(strings.ToUpper(name))] = buckets
			}
		}

		if v.IsSet("weights") {
			if err := v.UnmarshalKey("weights", &cfg.Weights); err != nil {
				return PricingConfig{}, fmt.Errorf("decode weights: %w", err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return PricingConfig{}, err
	}
	return cfg, nil
}

func (c PricingConfig) Validate() error {
	// RIDE is the documented fallback for unknown verticals, so it has to
	// exist.
	if _, ok := c.Verticals[models.VerticalRide]; !ok {
		return fmt.Errorf("pricing config: missing table for fallback vertical %s", models.VerticalRide)
	}
	for name, rates := range c.Verticals {
		if rates.BaseFarePerKm < 0 || rates.CostPerMinute < 0 || rates.MinimumFare < 0 ||
			rates.BookingFee < 0 || rates.ServiceFeePercent < 0 {
			return fmt.Errorf("pricing config: negative rate in vertical %s", name)
		}
	}
	for name, table := range c.Surge {
		for bucket, mult := range table {
			if mult <= 0 {
				return fmt.Errorf("pricing config: non-positive surge multiplier for %s/%s", name, bucket)
			}
		}
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("pricing config: %w", err)
	}
	return nil
}
