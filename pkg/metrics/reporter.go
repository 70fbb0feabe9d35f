package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReporterMetrics records how the attribution engine resolves and sends.
type ReporterMetrics struct {
	dispatches  *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	wait        *prometheus.HistogramVec
}

// NewReporterMetrics registers the engine metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewReporterMetrics(reg prometheus.Registerer) *ReporterMetrics {
	if reg == nil {
		return &ReporterMetrics{}
	}
	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bondai_reporter_dispatch_total",
		Help: "Attribution sends by outcome.",
	}, []string{"outcome"})
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bondai_reporter_resolution_total",
		Help: "Resolved values by field and source.",
	}, []string{"field", "source"})
	wait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bondai_reporter_wait_seconds",
		Help:    "Time between scheduler start and send.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"trigger"})
	reg.MustRegister(dispatches, resolutions, wait)
	return &ReporterMetrics{
		dispatches:  dispatches,
		resolutions: resolutions,
		wait:        wait,
	}
}

// IncDispatch counts one send attempt with outcome ok, failed, rejected or network_error.
func (m *ReporterMetrics) IncDispatch(outcome string) {
	if m == nil || m.dispatches == nil {
		return
	}
	m.dispatches.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncResolution counts where a field's value came from.
func (m *ReporterMetrics) IncResolution(field, source string) {
	if m == nil || m.resolutions == nil {
		return
	}
	m.resolutions.WithLabelValues(normalizeLabel(field), normalizeLabel(source)).Inc()
}

// ObserveWait records how long the scheduler waited before firing.
func (m *ReporterMetrics) ObserveWait(trigger string, d time.Duration) {
	if m == nil || m.wait == nil {
		return
	}
	m.wait.WithLabelValues(normalizeLabel(trigger)).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
