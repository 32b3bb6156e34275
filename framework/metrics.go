package framework

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsTelemetry turns loop events into Prometheus series.
type MetricsTelemetry struct {
	iterations    prometheus.Counter
	failures      *prometheus.CounterVec
	loops         *prometheus.CounterVec
	testRuns      prometheus.Histogram
	writeFailures prometheus.Counter
	corrections   *prometheus.CounterVec
}

// NewMetricsTelemetry registers the repair metrics with reg. A nil registerer
// falls back to the default Prometheus registry.
func NewMetricsTelemetry(reg prometheus.Registerer) *MetricsTelemetry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &MetricsTelemetry{
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "testforge",
			Name:      "repair_iterations_total",
			Help:      "Repair loop iterations executed.",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "testforge",
			Name:      "parsed_failures_total",
			Help:      "Failures parsed from test-runner output, by kind.",
		}, []string{"kind"}),
		loops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "testforge",
			Name:      "repair_sessions_total",
			Help:      "Finished repair sessions, by terminal state.",
		}, []string{"state"}),
		testRuns: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "testforge",
			Name:      "test_run_seconds",
			Help:      "Wall time of test-runner invocations.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		writeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "testforge",
			Name:      "write_failures_total",
			Help:      "Candidate files that could not be persisted.",
		}),
		corrections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "testforge",
			Name:      "corrections_total",
			Help:      "Engine correction attempts, by result.",
		}, []string{"result"}),
	}
}

// Emit implements Telemetry.
func (m *MetricsTelemetry) Emit(event Event) {
	switch event.Type {
	case EventIterationFinish:
		m.iterations.Inc()
		if counts, ok := event.Metadata["failure_kinds"].(map[FailureKind]int); ok {
			for kind, n := range counts {
				m.failures.WithLabelValues(string(kind)).Add(float64(n))
			}
		}
	case EventTestRun:
		if elapsed, ok := event.Metadata["elapsed"].(time.Duration); ok {
			m.testRuns.Observe(elapsed.Seconds())
		}
	case EventWriteFailed:
		m.writeFailures.Inc()
	case EventCorrection:
		result := "extracted"
		if n, ok := event.Metadata["files"].(int); ok && n == 0 {
			result = "empty"
		}
		m.corrections.WithLabelValues(result).Inc()
	case EventLoopFinish:
		m.loops.WithLabelValues(string(event.State)).Inc()
	}
}
