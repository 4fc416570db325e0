package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistered(t *testing.T) {
	ProviderLoadsTotal.WithLabelValues(OutcomeLoaded).Inc()
	RoundsTotal.WithLabelValues("TESTPKG", "initiator", "SEC_I_CONTINUE_NEEDED").Inc()
	HandlesActive.WithLabelValues("context").Inc()
	ConversionFailuresTotal.Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"sspi_provider_loads_total":      false,
		"sspi_negotiation_rounds_total":  false,
		"sspi_handles_active":            false,
		"sspi_conversion_failures_total": false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not registered", name)
		}
	}

	if got := testutil.ToFloat64(HandlesActive.WithLabelValues("context")); got != 1 {
		t.Errorf("HandlesActive{context} = %v; want 1", got)
	}
}
