package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch_core", Name: "matches_total", Help: "Orders matched to a driver"})
	MatchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch_core", Name: "match_failures_total", Help: "Orders that exhausted all candidates"})
	MatchCancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch_core", Name: "match_cancellations_total", Help: "Orders cancelled mid-match"})
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dispatch_core", Name: "match_latency_seconds", Help: "End-to-end match latency",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12)})

	ReservationConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch_core", Name: "reservation_conflicts_total", Help: "Reservation attempts that lost the CAS"})
	LeaseExpiriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch_core", Name: "lease_expiries_total", Help: "Offers that timed out without a driver decision"})
	DriverDeclinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch_core", Name: "driver_declines_total", Help: "Explicit driver declines"})
	RadiusExpansionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch_core", Name: "radius_expansions_total", Help: "Search radius expansions"})

	LocationUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch_core", Name: "location_updates_total", Help: "Driver location updates applied"})
	StaleLocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch_core", Name: "stale_locations_total", Help: "Location updates rejected as stale"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch_core", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch_core",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
