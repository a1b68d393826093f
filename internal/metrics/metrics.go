// Package metrics exposes Prometheus counters for reactions, follows and HTTP traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scrivono/api/internal/store"
)

const metricsNamespace = "scrivono"

// Collector is a prometheus.Collector for the API.
type Collector struct {
	reactions        *prometheus.CounterVec
	followMutations  *prometheus.CounterVec
	reconcileRetries *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		reactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "reactions_total",
				Help:      "Reaction requests by content kind and outcome.",
			}, []string{"kind", "outcome"},
		),
		followMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "follow_mutations_total",
				Help:      "Follow and unfollow requests by result.",
			}, []string{"action", "result"},
		),
		reconcileRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "reconcile_retries_total",
				Help:      "Retries after a retryable storage failure.",
			}, []string{"operation"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			}, []string{"method", "path", "status"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.reactions.Describe(ch)
	c.followMutations.Describe(ch)
	c.reconcileRetries.Describe(ch)
	c.requestDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.reactions.Collect(ch)
	c.followMutations.Collect(ch)
	c.reconcileRetries.Collect(ch)
	c.requestDuration.Collect(ch)
}

func (c *Collector) ObserveReaction(kind store.ContentKind, outcome string) {
	c.reactions.WithLabelValues(string(kind), outcome).Inc()
}

func (c *Collector) ObserveFollow(action, result string) {
	c.followMutations.WithLabelValues(action, result).Inc()
}

func (c *Collector) ObserveRetry(operation string) {
	c.reconcileRetries.WithLabelValues(operation).Inc()
}

func (c *Collector) ObserveRequest(method, path, status string, elapsed time.Duration) {
	c.requestDuration.WithLabelValues(method, path, status).Observe(elapsed.Seconds())
}

// Handler returns a /metrics handler serving a registry that holds c and the Go runtime collectors.
func Handler(c *Collector) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	for _, collector := range []prometheus.Collector{
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
