// Package metrics exposes execution counters and latencies to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ExecuteEndpoint is the endpoint label used for execution requests.
const ExecuteEndpoint = "/execute"

const categorySuccess = "success"

// Metrics implements observer.Recorder on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	inProgress    prometheus.Gauge
	duration      prometheus.Histogram
	errorsTotal   *prometheus.CounterVec
	rejectedTotal *prometheus.CounterVec
}

// NewRegistry returns a registry carrying the process and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return reg
}

// New registers the execution metrics on reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "code_execution_requests_total",
				Help: "Total number of code execution requests",
			},
			[]string{"status", "endpoint"},
		),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "code_execution_requests_in_progress",
			Help: "Number of code executions currently running",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "code_execution_duration_seconds",
			Help:    "Code execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		}),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "code_execution_errors_total",
				Help: "Total number of failed code executions by category",
			},
			[]string{"error_type"},
		),
		rejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "code_execution_rejected_total",
				Help: "Requests turned away before reaching the sandbox",
			},
			[]string{"reason"},
		),
	}
	for _, c := range []prometheus.Collector{m.requestsTotal, m.inProgress, m.duration, m.errorsTotal, m.rejectedTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ExecutionStarted(context.Context, string, time.Time) {
	m.inProgress.Inc()
}

func (m *Metrics) ExecutionFinished(_ context.Context, _ string, category string, duration time.Duration) {
	m.inProgress.Dec()
	m.duration.Observe(duration.Seconds())
	status := "success"
	if category != categorySuccess {
		status = "error"
		m.errorsTotal.WithLabelValues(category).Inc()
	}
	m.requestsTotal.WithLabelValues(status, ExecuteEndpoint).Inc()
}

func (m *Metrics) ExecutionRejected(_ context.Context, category string) {
	m.rejectedTotal.WithLabelValues(category).Inc()
	m.requestsTotal.WithLabelValues("rejected", ExecuteEndpoint).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
