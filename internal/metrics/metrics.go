// Package metrics exposes pipeline instrumentation as Prometheus
// collectors. One Metrics value is shared by the orchestrator, the OCR
// engine wrapper and the classifier.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	DocumentsIngested *prometheus.CounterVec
	Classifications   *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	AICostUSD         prometheus.Counter
	OCRInFlight       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.DocumentsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docsorter",
		Name:      "documents_ingested_total",
		Help:      "Documents accepted into the pipeline, labeled by final status.",
	}, []string{"status"})

	m.Classifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docsorter",
		Name:      "classification_total",
		Help:      "Classification outcomes by accepting method.",
	}, []string{"method"})

	m.StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "docsorter",
		Name:      "stage_duration_seconds",
		Help:      "Wall time spent per pipeline stage.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})

	m.AICostUSD = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "docsorter",
		Name:      "ai_cost_usd_total",
		Help:      "Accumulated AI spend in USD.",
	})

	m.OCRInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "docsorter",
		Name:      "ocr_in_flight",
		Help:      "OCR extractions currently holding the engine.",
	})

	m.registry.MustRegister(
		m.DocumentsIngested,
		m.Classifications,
		m.StageDuration,
		m.AICostUSD,
		m.OCRInFlight,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
