// Package metrics holds the Prometheus collectors for provider loading and
// context negotiation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values for the outcome of a provider load.
const (
	OutcomeLoaded = "loaded"
	OutcomeShared = "shared"
	OutcomeFailed = "failed"
	OutcomeCached = "cached_failure"
)

var (
	// ProviderLoadsTotal counts provider resolutions by outcome. "shared"
	// means an existing provider was bound without loading.
	ProviderLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sspi_provider_loads_total",
			Help: "Provider module resolutions",
		},
		[]string{"outcome"},
	)

	// RoundsTotal counts negotiation rounds by package, side and status.
	RoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sspi_negotiation_rounds_total",
			Help: "Negotiation rounds",
		},
		[]string{"package", "side", "status"},
	)

	// HandlesActive tracks live credential and context handles.
	HandlesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sspi_handles_active",
			Help: "Live handles",
		},
		[]string{"kind"},
	)

	// ConversionFailuresTotal counts text conversions rejected by a thunk.
	ConversionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sspi_conversion_failures_total",
			Help: "Rejected string conversions",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ProviderLoadsTotal,
		RoundsTotal,
		HandlesActive,
		ConversionFailuresTotal,
	)
}
