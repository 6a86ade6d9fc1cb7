// Package metrics exports engine activity and portfolio state to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

const namespace = "celerix_dca"

// Recorder implements engine.MetricsRecorder on a private registry.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	cases      *prometheus.GaugeVec
	pending    *prometheus.GaugeVec
	completion prometheus.Gauge
}

// NewRecorder creates a Recorder with its collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by name and result.",
		}, []string{"operation", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
		cases: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cases",
			Help:      "Cases by allocated agency and status.",
		}, []string{"agency", "status"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_portfolio_value",
			Help:      "Outstanding amount of non-closed cases per agency.",
		}, []string{"agency"}),
		completion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "completion_rate_percent",
			Help:      "Share of cases in status Closed.",
		}),
	}
	r.registry.MustRegister(
		r.operations, r.latency, r.cases, r.pending, r.completion,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe implements engine.MetricsRecorder.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	r.operations.WithLabelValues(operation, result).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPortfolio refreshes the portfolio gauges from an overview.
func (r *Recorder) SetPortfolio(ov schema.Overview) {
	r.cases.Reset()
	r.pending.Reset()
	for _, cell := range ov.ByAgency {
		r.cases.WithLabelValues(string(cell.Agency), string(cell.Status)).Set(float64(cell.Cases))
		if cell.Status != schema.StatusClosed {
			amount, _ := cell.Amount.Float64()
			r.pending.WithLabelValues(string(cell.Agency)).Add(amount)
		}
	}
	r.completion.Set(ov.CompletionRate)
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
