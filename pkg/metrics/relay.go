package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics tracks forwards from the relay to the upstream redemption API.
type RelayMetrics struct {
	forwards  *prometheus.CounterVec
	latency   prometheus.Histogram
	throttled *prometheus.CounterVec
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	forwards := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bondai_relay_forward_total",
		Help: "Upstream forwards by response status (0 for network errors).",
	}, []string{"status"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bondai_relay_upstream_seconds",
		Help:    "Upstream call latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	throttled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bondai_relay_throttled_total",
		Help: "Requests rejected by the rate limiter, by scope.",
	}, []string{"scope"})
	reg.MustRegister(forwards, latency, throttled)
	return &RelayMetrics{forwards: forwards, latency: latency, throttled: throttled}
}

// ObserveForward records one upstream call.
func (m *RelayMetrics) ObserveForward(status int, d time.Duration) {
	if m == nil || m.forwards == nil {
		return
	}
	m.forwards.WithLabelValues(strconv.Itoa(status)).Inc()
	m.latency.Observe(d.Seconds())
}

func (m *RelayMetrics) IncThrottled(scope string) {
	if m == nil || m.throttled == nil {
		return
	}
	m.throttled.WithLabelValues(normalizeLabel(scope)).Inc()
}
