// Package telemetry exposes Prometheus metrics for the render pipeline and live
// sessions. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stage names.
const (
	StageGenerate       = "generate"
	StageChat           = "chat"
	StageAnalyze        = "analyze"
	StageImageToImage   = "image_to_image"
	StageRefineSandbox  = "refine_sandbox"
	StagePreRenderAudit = "pre_render_audit"
	StageBuildHTML      = "build_html"
	StageCrop           = "crop"
)

type Metrics struct {
	registry     *prometheus.Registry
	stageSeconds *prometheus.HistogramVec
	failures     *prometheus.CounterVec
	revisions    *prometheus.CounterVec
	liveSessions prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "renderpilot",
			Name:      "stage_duration_seconds",
			Help:      "Duration of render pipeline stages.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"stage"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "renderpilot",
			Name:      "stage_failures_total",
			Help:      "Failed render pipeline stages.",
		}, []string{"stage"}),
		revisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "renderpilot",
			Name:      "revisions_total",
			Help:      "Revisions appended to the ledger by kind.",
		}, []string{"kind"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "renderpilot",
			Name:      "live_sessions_open",
			Help:      "Open live voice sessions.",
		}),
	}
	m.registry.MustRegister(
		m.stageSeconds,
		m.failures,
		m.revisions,
		m.liveSessions,
		collectors.NewGoCollector(),
	)
	return m
}

// Stage starts timing a pipeline stage. Call the returned func with the stage
// outcome.
func (m *Metrics) Stage(stage string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	start := time.Now()
	return func(err error) {
		m.stageSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		if err != nil {
			m.failures.WithLabelValues(stage).Inc()
		}
	}
}

func (m *Metrics) RevisionAppended(kind string) {
	if m == nil {
		return
	}
	m.revisions.WithLabelValues(kind).Inc()
}

func (m *Metrics) LiveOpened() {
	if m == nil {
		return
	}
	m.liveSessions.Inc()
}

func (m *Metrics) LiveClosed() {
	if m == nil {
		return
	}
	m.liveSessions.Dec()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
