package obs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetricsWith(reg)

	m.IncCounter("test_counter", 1, Label{Key: "tag", Value: "A"})
	m.IncCounter("test_counter", 2, Label{Key: "tag", Value: "A"})
	m.ObserveHistogram("test_histogram", 0.5, Label{Key: "tag", Value: "B"})
	m.SetGauge("test_gauge", 10, Label{Key: "tag", Value: "C"})
	m.SetGauge("test_gauge", 20, Label{Key: "tag", Value: "C"})

	assert.Contains(t, m.counters, "test_counter")
	assert.Contains(t, m.histograms, "test_histogram")
	assert.Contains(t, m.gauges, "test_gauge")

	counter := m.counters["test_counter"].WithLabelValues("A")
	assert.Equal(t, float64(3), testutil.ToFloat64(counter))

	gauge := m.gauges["test_gauge"].WithLabelValues("C")
	assert.Equal(t, float64(20), testutil.ToFloat64(gauge))
}

func TestPrometheusMetrics_ReusesVectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetricsWith(reg)

	// Registering the same series twice must not panic on MustRegister.
	m.IncCounter("repeat_counter", 1, Label{Key: "tag", Value: "A"})
	m.IncCounter("repeat_counter", 1, Label{Key: "tag", Value: "B"})

	assert.Len(t, m.counters, 1)
}
