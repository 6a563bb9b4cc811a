package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Redirects counts visitor redirects by entry form ("direct", "mapped")
	// and outcome ("video", "home").
	Redirects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracklink_redirects_total",
			Help: "Total number of visitor redirects",
		},
		[]string{"form", "outcome"},
	)

	LinksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracklink_links_created_total",
			Help: "Total number of short links created",
		},
	)

	// LinkEvictions counts mapping removals by reason ("expired", "capacity").
	LinkEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracklink_link_evictions_total",
			Help: "Total number of link mappings removed from the table",
		},
		[]string{"reason"},
	)

	// GeoLookups counts geolocation lookups by result ("success", "fail", "error", "rejected").
	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracklink_geo_lookups_total",
			Help: "Total number of geolocation lookups",
		},
		[]string{"result"},
	)

	GeoBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracklink_geo_breaker_state",
			Help: "Geolocation circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	VisitsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracklink_visits_recorded_total",
			Help: "Total number of visit records appended to the ledger",
		},
	)

	TrackingDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracklink_tracking_dropped_total",
			Help: "Total number of tracking jobs dropped because the queue was full",
		},
	)

	// TrackingErrors counts failures inside the background pipeline by stage
	// ("ledger", "publish", "panic").
	TrackingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracklink_tracking_errors_total",
			Help: "Total number of background tracking failures",
		},
		[]string{"stage"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracklink_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)
