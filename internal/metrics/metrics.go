// Package metrics exposes Prometheus collectors for chat turns, tokens, cost
// and provider latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

const namespace = "llmchat"

// Collector owns a private registry so that several instances can coexist
// in tests.
type Collector struct {
	registry *prometheus.Registry

	turns      *prometheus.CounterVec
	turnErrors *prometheus.CounterVec
	tokens     *prometheus.CounterVec
	costUSD    *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	sessions   *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed chat turns.",
		}, []string{"model_type", "deployment"}),
		turnErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_errors_total",
			Help:      "Chat turns that failed at the provider.",
		}, []string{"model_type", "error_type"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed, by direction.",
		}, []string{"direction"}),
		costUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Accumulated turn cost in USD.",
		}, []string{"deployment"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Provider response time per turn.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"model_type"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Sessions per sidebar view.",
		}, []string{"view"}),
	}

	c.registry.MustRegister(
		c.turns, c.turnErrors, c.tokens, c.costUSD, c.latency, c.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// TurnCompleted records a successful turn.
func (c *Collector) TurnCompleted(model models.ModelDescriptor, msg models.MessageLog) {
	c.turns.WithLabelValues(model.ModelType, model.DeploymentName).Inc()
	c.tokens.WithLabelValues("prompt").Add(float64(msg.Metrics.PromptTokens))
	c.tokens.WithLabelValues("completion").Add(float64(msg.Metrics.CompletionTokens))
	c.costUSD.WithLabelValues(model.DeploymentName).Add(msg.Cost.TotalCostUSD)
	c.latency.WithLabelValues(model.ModelType).Observe(msg.Response.ResponseTimeSeconds)
}

// TurnFailed records a provider failure.
func (c *Collector) TurnFailed(model models.ModelDescriptor, entry models.ErrorLog) {
	c.turnErrors.WithLabelValues(model.ModelType, entry.ErrorType).Inc()
}

// SetSessionCounts updates the per-view gauge.
func (c *Collector) SetSessionCounts(counts models.ViewCounts) {
	c.sessions.WithLabelValues(string(models.ViewActive)).Set(float64(counts.Active))
	c.sessions.WithLabelValues(string(models.ViewCompleted)).Set(float64(counts.Completed))
	c.sessions.WithLabelValues(string(models.ViewTrash)).Set(float64(counts.Trash))
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
