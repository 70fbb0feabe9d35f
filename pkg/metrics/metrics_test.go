package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestReporterMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReporterMetrics(reg)
	m.IncDispatch("ok")
	m.IncDispatch("ok")
	m.IncDispatch("")
	m.IncResolution("identifier", "query")
	m.ObserveWait("ready", 250*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "bondai_reporter_dispatch_total", "outcome", "ok"); err != nil {
		t.Fatalf("fetch dispatch: %v", err)
	} else if got != 2 {
		t.Fatalf("expected dispatch ok=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "bondai_reporter_dispatch_total", "outcome", "unknown"); err != nil {
		t.Fatalf("fetch unknown: %v", err)
	} else if got != 1 {
		t.Fatalf("expected empty outcome to map to unknown, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "bondai_reporter_resolution_total", "source", "query"); err != nil {
		t.Fatalf("fetch resolution: %v", err)
	} else if got != 1 {
		t.Fatalf("expected resolution=1, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "bondai_reporter_wait_seconds", "trigger", "ready"); err != nil {
		t.Fatalf("fetch wait: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected wait sum > 0, got %f", got)
	}
}

func TestRelayMetricsCountsForwards(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRelayMetrics(reg)
	m.ObserveForward(201, 10*time.Millisecond)
	m.ObserveForward(0, time.Millisecond)
	m.IncThrottled("ip")

	if got := testutil.ToFloat64(m.forwards.WithLabelValues("201")); got != 1 {
		t.Fatalf("expected 201 forward count 1, got %f", got)
	}
	if got := testutil.ToFloat64(m.forwards.WithLabelValues("0")); got != 1 {
		t.Fatalf("expected network error count 1, got %f", got)
	}
	if got := testutil.ToFloat64(m.throttled.WithLabelValues("ip")); got != 1 {
		t.Fatalf("expected throttled count 1, got %f", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var r *ReporterMetrics
	r.IncDispatch("ok")
	r.IncResolution("amount", "dom")
	r.ObserveWait("timeout", time.Second)

	var relay *RelayMetrics
	relay.ObserveForward(200, time.Second)
	relay.IncThrottled("origin")

	unregistered := NewReporterMetrics(nil)
	unregistered.IncDispatch("ok")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
