// Package telemetry holds the Prometheus metrics exported by the pipeline
// and served by the HTTP surface.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics registers every demandcast metric on a private registry so tests
// can create isolated instances without collisions.
type Metrics struct {
	registry *prometheus.Registry

	// Backtest
	CutoffsTotal    *prometheus.CounterVec // status: ok|failed|skipped
	FitDuration     *prometheus.HistogramVec
	PredictDuration *prometheus.HistogramVec

	// Evaluation
	BucketWMAPE *prometheus.GaugeVec // model, bucket

	// Assembly
	GuardrailCorrections *prometheus.CounterVec // rule: closure|clamp_negative|monotonicity

	// External model client
	FoundationRequests *prometheus.CounterVec // outcome: ok|error|cache_hit

	// Runs
	RunsTotal *prometheus.CounterVec // status: ok|failed
}

// New builds and registers the full metric set.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CutoffsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "demandcast_cutoffs_total",
				Help: "Backtest cutoffs processed, by outcome",
			},
			[]string{"status"},
		),
		FitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "demandcast_fit_duration_seconds",
				Help:    "Forecaster fit duration per cutoff",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"model"},
		),
		PredictDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "demandcast_predict_duration_seconds",
				Help:    "Forecaster predict duration per cutoff",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"model"},
		),
		BucketWMAPE: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "demandcast_bucket_wmape",
				Help: "Backtest weighted MAPE per model and horizon bucket",
			},
			[]string{"model", "bucket"},
		),
		GuardrailCorrections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "demandcast_guardrail_corrections_total",
				Help: "Forecast rows corrected by a guardrail rule",
			},
			[]string{"rule"},
		),
		FoundationRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "demandcast_foundation_requests_total",
				Help: "Foundation-model inference requests by outcome",
			},
			[]string{"outcome"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "demandcast_runs_total",
				Help: "Pipeline runs by final status",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		m.CutoffsTotal,
		m.FitDuration,
		m.PredictDuration,
		m.BucketWMAPE,
		m.GuardrailCorrections,
		m.FoundationRequests,
		m.RunsTotal,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the raw metric families, used by tests.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	return m.registry.Gather()
}
