// Package metrics holds the Prometheus collectors shared by the scheduler, the retry policy and the fetcher.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/0xmhha/contract-explorer/internal/constants"
)

// Metrics holds all Prometheus metrics of the explorer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Node calls
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec

	// Rate limiting and retries
	ThrottledTotal      *prometheus.CounterVec
	SchedulerQueueDepth prometheus.Gauge
	RetriesTotal        *prometheus.CounterVec
	RetryExhaustedTotal *prometheus.CounterVec

	// Discovery
	RowsDiscoveredTotal       *prometheus.CounterVec
	TraceBudgetExhaustedTotal prometheus.Counter
	RunsTotal                 *prometheus.CounterVec
	RunDuration               *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg.
// A nil registerer creates unregistered collectors, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	ns := constants.MetricsNamespace

	return &Metrics{
		RPCCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total number of node calls by method and outcome",
		}, []string{"method", "outcome"}),
		RPCCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Node call duration including scheduler wait and retries",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}, []string{"method"}),
		ThrottledTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "scheduler",
			Name:      "throttled_total",
			Help:      "Calls that had to wait in the scheduler queue, by reason",
		}, []string{"reason"}),
		SchedulerQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Calls currently waiting in the scheduler queue",
		}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "retry",
			Name:      "retries_total",
			Help:      "Retries of throttled node calls",
		}, []string{"method"}),
		RetryExhaustedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Calls that ran out of retry budget, by exhausted budget",
		}, []string{"method", "budget"}),
		RowsDiscoveredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "discovery",
			Name:      "rows_total",
			Help:      "Rows discovered, by discovery path",
		}, []string{"source"}),
		TraceBudgetExhaustedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "discovery",
			Name:      "trace_budget_exhausted_total",
			Help:      "Runs whose trace fallback ran out of lookup budget",
		}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "discovery",
			Name:      "runs_total",
			Help:      "Discovery runs by network and outcome",
		}, []string{"network", "outcome"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "discovery",
			Name:      "run_duration_seconds",
			Help:      "Discovery run duration",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
		}, []string{"network"}),
	}
}

// ObserveRPC records one guarded node call
func (m *Metrics) ObserveRPC(method string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RPCCallsTotal.WithLabelValues(method, outcome).Inc()
	m.RPCCallDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Throttled records a call that had to queue
func (m *Metrics) Throttled(reason string) {
	if m == nil {
		return
	}
	m.ThrottledTotal.WithLabelValues(reason).Inc()
}

// SetQueueDepth reports the scheduler queue length
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.SchedulerQueueDepth.Set(float64(n))
}

// Retried records one retry sleep
func (m *Metrics) Retried(method string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(method).Inc()
}

// RetryExhausted records a call that gave up; budget is "attempts" or "elapsed"
func (m *Metrics) RetryExhausted(method, budget string) {
	if m == nil {
		return
	}
	m.RetryExhaustedTotal.WithLabelValues(method, budget).Inc()
}

// RowDiscovered records a row accepted into a run's result set
func (m *Metrics) RowDiscovered(source string) {
	if m == nil {
		return
	}
	m.RowsDiscoveredTotal.WithLabelValues(source).Inc()
}

// TraceBudgetExhausted records a run whose trace fallback stopped on budget
func (m *Metrics) TraceBudgetExhausted() {
	if m == nil {
		return
	}
	m.TraceBudgetExhaustedTotal.Inc()
}

// ObserveRun records a finished discovery run
func (m *Metrics) ObserveRun(network string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RunsTotal.WithLabelValues(network, outcome).Inc()
	m.RunDuration.WithLabelValues(network).Observe(d.Seconds())
}
