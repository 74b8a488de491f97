// Package metrics exports generation and model lifecycle counters in the
// Prometheus exposition format.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/cinder/internal/inference"
)

const (
	namespace = "cinder"
	subsystem = "generation"
)

// Outcome labels.
const (
	OutcomeCompleted = "completed"
	OutcomeBusy      = "busy"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Recorder implements inference.Observer on its own registry so several
// recorders can coexist in one process.
type Recorder struct {
	registry *prometheus.Registry

	generations     *prometheus.CounterVec
	finishes        *prometheus.CounterVec
	promptTokens    *prometheus.CounterVec
	generatedTokens *prometheus.CounterVec
	firstToken      *prometheus.HistogramVec
	tokensPerSecond *prometheus.HistogramVec
	modelLoads      *prometheus.CounterVec
	loadDuration    *prometheus.HistogramVec
	loadedModels    prometheus.Gauge
}

var _ inference.Observer = (*Recorder)(nil)

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Generation requests by outcome.",
			},
			[]string{"backend", "outcome"},
		),
		finishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "finish_total",
				Help:      "Completed generations by finish reason.",
			},
			[]string{"backend", "reason"},
		),
		promptTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "prompt_tokens_total",
				Help:      "Prompt tokens evaluated.",
			},
			[]string{"backend"},
		),
		generatedTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "generated_tokens_total",
				Help:      "Tokens sampled.",
			},
			[]string{"backend"},
		),
		firstToken: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from admission to the first streamed token.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"backend"},
		),
		tokensPerSecond: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tokens_per_second",
				Help:      "Decode throughput per generation.",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
			},
			[]string{"backend"},
		),
		modelLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "loads_total",
				Help:      "Model load attempts by status.",
			},
			[]string{"backend", "status"},
		),
		loadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "load_duration_seconds",
				Help:      "Time taken to load a model and build its context.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend"},
		),
		loadedModels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "loaded",
				Help:      "Models currently loaded.",
			},
		),
	}
	r.registry.MustRegister(
		r.generations,
		r.finishes,
		r.promptTokens,
		r.generatedTokens,
		r.firstToken,
		r.tokensPerSecond,
		r.modelLoads,
		r.loadDuration,
		r.loadedModels,
	)
	return r
}

func (r *Recorder) GenerationCompleted(backend string, res *inference.Result) {
	r.generations.WithLabelValues(backend, OutcomeCompleted).Inc()
	if res == nil {
		return
	}
	r.finishes.WithLabelValues(backend, string(res.FinishReason)).Inc()
	r.promptTokens.WithLabelValues(backend).Add(float64(res.Stats.PromptTokens))
	r.generatedTokens.WithLabelValues(backend).Add(float64(res.Stats.GeneratedTokens))
	if res.Stats.GeneratedTokens > 0 {
		r.firstToken.WithLabelValues(backend).Observe(res.Stats.TimeToFirstToken.Seconds())
		r.tokensPerSecond.WithLabelValues(backend).Observe(res.Stats.TPS)
	}
}

func (r *Recorder) GenerationFailed(backend string, err error) {
	r.generations.WithLabelValues(backend, outcome(err)).Inc()
}

// ModelLoaded records a load attempt. A nil err counts the model as loaded
// until ModelUnloaded.
func (r *Recorder) ModelLoaded(backend string, took time.Duration, err error) {
	if err != nil {
		r.modelLoads.WithLabelValues(backend, "error").Inc()
		return
	}
	r.modelLoads.WithLabelValues(backend, "ok").Inc()
	r.loadDuration.WithLabelValues(backend).Observe(took.Seconds())
	r.loadedModels.Inc()
}

func (r *Recorder) ModelUnloaded() {
	r.loadedModels.Dec()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	switch {
	case errors.Is(err, inference.ErrGenerationBusy):
		return OutcomeBusy
	case errors.Is(err, inference.ErrEmptyPrompt),
		errors.Is(err, inference.ErrPromptTooLong),
		errors.Is(err, inference.ErrInvalidSampling):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
