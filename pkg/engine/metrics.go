package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// QuotascopeUsagePercent tracks the used percentage per window
	QuotascopeUsagePercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotascope_usage_percent",
			Help: "Used percentage of a service rate window",
		},
		[]string{"service_id", "window"},
	)

	// QuotascopeNeedsLogin is 1 when a service requires re-authentication
	QuotascopeNeedsLogin = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotascope_needs_login",
			Help: "Whether a service currently requires re-authentication",
		},
		[]string{"service_id"},
	)

	// QuotascopeFetchErrorsTotal counts failed usage fetches
	QuotascopeFetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotascope_fetch_errors_total",
			Help: "Total number of failed usage fetches",
		},
		[]string{"service_id"},
	)

	// QuotascopeLastRefresh records the unix time of the last update
	QuotascopeLastRefresh = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotascope_last_refresh_timestamp_seconds",
			Help: "Unix timestamp of the last completed refresh per service",
		},
		[]string{"service_id"},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(QuotascopeUsagePercent)
	prometheus.MustRegister(QuotascopeNeedsLogin)
	prometheus.MustRegister(QuotascopeFetchErrorsTotal)
	prometheus.MustRegister(QuotascopeLastRefresh)
}
