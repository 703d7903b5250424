package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OSRMEndpoint    string
	ETACacheTTL     time.Duration
	DefaultSpeedMps float64

	Dispatch DispatchConfig

	// PricingFile optionally points at a YAML file overriding the built-in
	// pricing tables and scorer weights.
	PricingFile string

	TripServiceURL  string
	NotifyURL       string
	OfferWebhookURL string

	LogLevel      string
	RunMigrations bool
}

// DispatchConfig holds the orchestrator tuning knobs. The defaults are
// starting points, not extracted behavior; every one of them is overridable.
type DispatchConfig struct {
	InitialRadiusMeters float64
	RadiusGrowth        float64
	MaxRadiusMeters     float64
	MaxAttempts         int
	LeaseTTL            time.Duration
	MaxETASeconds       float64
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		// match requests block until the order is terminal, which can span
		// several lease windows
		WriteTimeout:    120 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "driver-locations",
		ETACacheTTL:     30 * time.Second,
		DefaultSpeedMps: 8.3,
		Dispatch: DispatchConfig{
			InitialRadiusMeters: 2000,
			RadiusGrowth:        1.5,
			MaxRadiusMeters:     10000,
			MaxAttempts:         4,
			LeaseTTL:            15 * time.Second,
			MaxETASeconds:       1800,
		},
		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "ETA_DEFAULT_SPEED_MPS", &errs)

	setFloatFromEnv(&cfg.Dispatch.InitialRadiusMeters, "DISPATCH_INITIAL_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.Dispatch.RadiusGrowth, "DISPATCH_RADIUS_GROWTH", &errs)
	setFloatFromEnv(&cfg.Dispatch.MaxRadiusMeters, "DISPATCH_MAX_RADIUS_M", &errs)
	setIntFromEnv(&cfg.Dispatch.MaxAttempts, "DISPATCH_MAX_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.Dispatch.LeaseTTL, "DISPATCH_LEASE_TTL", &errs)
	setFloatFromEnv(&cfg.Dispatch.MaxETASeconds, "DISPATCH_MAX_ETA_SECONDS", &errs)

	setStringFromEnv(&cfg.PricingFile, "PRICING_CONFIG_FILE")

	setStringFromEnv(&cfg.TripServiceURL, "TRIP_SERVICE_URL")
	setStringFromEnv(&cfg.NotifyURL, "NOTIFY_URL")
	setStringFromEnv(&cfg.OfferWebhookURL, "OFFER_WEBHOOK_URL")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.Dispatch.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.Dispatch.RadiusGrowth <= 1.0 {
		errs = append(errs, fmt.Errorf("DISPATCH_RADIUS_GROWTH must be > 1.0"))
	}
	if cfg.Dispatch.LeaseTTL <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_LEASE_TTL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
