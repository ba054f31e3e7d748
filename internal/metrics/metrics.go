// metrics.go - Prometheus collectors for the analysis pipeline

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	stageDuration *prometheus.HistogramVec
	analyses      *prometheus.CounterVec
	matches       *prometheus.CounterVec
	aiFallback    *prometheus.CounterVec
	recognitions  *prometheus.CounterVec
	catalogueSize prometheus.Gauge
}

// New registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rx_stage_duration_seconds",
			Help:    "Duration of each prescription analysis stage.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_analyses_total",
			Help: "Completed analyses by outcome message.",
		}, []string{"outcome"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_matches_total",
			Help: "Medicine entries returned, by match type.",
		}, []string{"match_type"}),
		aiFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_ai_fallback_total",
			Help: "AI fallback invocations by outcome.",
		}, []string{"outcome"}),
		recognitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_recognition_total",
			Help: "Recognition calls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		catalogueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rx_catalogue_entries",
			Help: "Entries in the loaded medicine catalogue.",
		}),
	}
	registry.MustRegister(m.stageDuration, m.analyses, m.matches, m.aiFallback, m.recognitions, m.catalogueSize)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry (nil for a nil Metrics).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) IncAnalysis(outcome string) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncMatch(matchType string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(matchType).Inc()
}

func (m *Metrics) IncAIFallback(outcome string) {
	if m == nil {
		return
	}
	m.aiFallback.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRecognition(backend, outcome string) {
	if m == nil {
		return
	}
	m.recognitions.WithLabelValues(backend, outcome).Inc()
}

func (m *Metrics) SetCatalogueSize(n int) {
	if m == nil {
		return
	}
	m.catalogueSize.Set(float64(n))
}
