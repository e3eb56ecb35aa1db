// Package metrics exposes Prometheus counters for the API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what handlers and services report to.
type Recorder interface {
	ObserveRequest(method, route, status string, duration time.Duration)
	ObserveCompletion(model, outcome string, duration time.Duration, tokens int)
	IncUpload(kind string)
}

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, time.Duration) {}
func (Noop) ObserveCompletion(string, string, time.Duration, int) {}
func (Noop) IncUpload(string)                                     {}

type Prom struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	completions *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	tokens      *prometheus.CounterVec
	uploads     *prometheus.CounterVec
	gatherer    prometheus.Gatherer
}

// NewProm registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func NewProm(namespace string, reg *prometheus.Registry) *Prom {
	p := &Prom{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_completions_total",
			Help:      "Chat completions by model and outcome",
		}, []string{"model", "outcome"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_completion_duration_seconds",
			Help:      "Chat completion latency by model",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"model"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by model",
		}, []string{"model"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_uploads_total",
			Help:      "Uploaded files by extracted kind",
		}, []string{"kind"}),
		gatherer: reg,
	}
	reg.MustRegister(p.requests, p.latency, p.completions, p.llmLatency, p.tokens, p.uploads)
	return p
}

func (p *Prom) ObserveRequest(method, route, status string, duration time.Duration) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (p *Prom) ObserveCompletion(model, outcome string, duration time.Duration, tokens int) {
	p.completions.WithLabelValues(model, outcome).Inc()
	p.llmLatency.WithLabelValues(model).Observe(duration.Seconds())
	if tokens > 0 {
		p.tokens.WithLabelValues(model).Add(float64(tokens))
	}
}

func (p *Prom) IncUpload(kind string) {
	p.uploads.WithLabelValues(kind).Inc()
}

// Handler serves the registry for /metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
