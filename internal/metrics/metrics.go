package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BoxSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxrate_box_selections_total",
			Help: "Box selection outcomes by box name",
		},
		[]string{"outcome", "box"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boxrate_gateway_request_duration_seconds",
			Help:    "Duration of outbound carrier and catalog requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"gateway", "outcome"},
	)

	TiersQuoted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxrate_tiers_quoted_total",
			Help: "Number of populated rate tiers returned to callers",
		},
		[]string{"tier"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boxrate_http_request_duration_seconds",
			Help:    "Duration of inbound HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	DimensionCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxrate_dimension_cache_total",
			Help: "Variant dimension cache lookups by result",
		},
		[]string{"result"},
	)
)

// Outcome labels a call as "ok" or "error".
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
