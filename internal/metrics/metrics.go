// Package metrics exposes Prometheus collectors for the call pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "call_insights"

// Metrics holds the pipeline collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	PipelineRuns     *prometheus.CounterVec
	PipelineInFlight prometheus.Gauge
	PhaseDuration    *prometheus.HistogramVec

	TranscriptionAttempts *prometheus.CounterVec
	AnalysisDegraded      *prometheus.CounterVec

	EventPublishTotal   *prometheus.CounterVec
	EventPublishLatency *prometheus.HistogramVec

	TaskErrors *prometheus.CounterVec
	TaskPanics prometheus.Counter

	RecordingsIngested *prometheus.CounterVec
}

// New registers every collector on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline attempts by outcome",
		}, []string{"outcome"}),
		PipelineInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_in_flight",
			Help:      "Pipeline attempts currently running in this process",
		}),
		PhaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_phase_duration_seconds",
			Help:      "Duration of pipeline phases in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"phase"}),

		TranscriptionAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_attempts_total",
			Help:      "Transcription engine calls by path and result",
		}, []string{"path", "result"}),
		AnalysisDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_degraded_total",
			Help:      "Analyses that fell back to the default result",
		}, []string{"reason"}),

		EventPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Call events published by topic and result",
		}, []string{"topic", "result"}),
		EventPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_publish_latency_seconds",
			Help:      "Event publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		TaskErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_task_errors_total",
			Help:      "Background tasks that returned an error",
		}, []string{"task"}),
		TaskPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_task_panics_total",
			Help:      "Background tasks that panicked",
		}),

		RecordingsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_ingested_total",
			Help:      "Telephony recordings fetched into storage by result",
		}, []string{"result"}),
	}
}

var defaultMetrics *Metrics

// Default registers on the global registry once and is what /metrics serves.
func Default() *Metrics {
	if defaultMetrics == nil {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	}
	return defaultMetrics
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.PipelineInFlight.Inc()
}

// RunFinished records outcome ("analyzed", "degraded", "failed") and total duration.
func (m *Metrics) RunFinished(outcome string, total time.Duration) {
	if m == nil {
		return
	}
	m.PipelineInFlight.Dec()
	m.PipelineRuns.WithLabelValues(outcome).Inc()
	m.PhaseDuration.WithLabelValues("total").Observe(total.Seconds())
}

func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) TranscriptionAttempt(path string, err error) {
	if m == nil {
		return
	}
	m.TranscriptionAttempts.WithLabelValues(path, result(err)).Inc()
}

func (m *Metrics) Degraded(reason string) {
	if m == nil {
		return
	}
	m.AnalysisDegraded.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventPublished(topic string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.EventPublishTotal.WithLabelValues(topic, result(err)).Inc()
	m.EventPublishLatency.WithLabelValues(topic).Observe(d.Seconds())
}

func (m *Metrics) TaskFailed(task string) {
	if m == nil {
		return
	}
	m.TaskErrors.WithLabelValues(task).Inc()
}

func (m *Metrics) TaskPanicked() {
	if m == nil {
		return
	}
	m.TaskPanics.Inc()
}

func (m *Metrics) RecordingIngested(err error) {
	if m == nil {
		return
	}
	m.RecordingsIngested.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
