package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TripsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridehail", Name: "trips_created_total", Help: "Total trips created"})
	TripsMatchedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridehail", Name: "trips_matched_total", Help: "Total trips matched to a vehicle"})
	VehiclesOnline    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ridehail", Name: "vehicles_online", Help: "Number of online vehicles"})

	TripStatusUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridehail", Name: "trip_status_updates_total", Help: "Trip status updates applied, by status"},
		[]string{"status"},
	)

	PushSubscribers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ridehail", Name: "push_subscribers", Help: "Open trip-status websocket subscriptions"})

	TokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridehail", Name: "tokens_issued_total", Help: "Auth tokens issued, by role"},
		[]string{"role"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridehail", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ridehail",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
