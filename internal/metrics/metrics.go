package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qforge"

// Collector provides convenience methods for recording pipeline and API
// client metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	apiAttempts  *prometheus.CounterVec
	apiDuration  *prometheus.HistogramVec
	cooldownWait prometheus.Histogram
	backoffs     prometheus.Counter
	exhausted    prometheus.Counter
	pages        *prometheus.CounterVec
	parents      prometheus.Counter
	variants     prometheus.Counter
}

// NewCollector creates a collector bound to its own registry so multiple
// collectors (tests, embedded runners) never collide on registration.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		apiAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_attempts_total",
				Help:      "API attempts by outcome",
			},
			[]string{"outcome"}, // success, blocked, transient, permanent
		),
		apiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds by outcome",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"outcome"},
		),
		cooldownWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cooldown_wait_seconds",
			Help:      "Time spent waiting on the global API cooldown",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		backoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_backoffs_total",
			Help:      "Backoff waits taken after transient API failures",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_keys_exhausted_total",
			Help:      "Requests that failed after every credential was tried",
		}),
		pages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_total",
				Help:      "Pages committed by checkpoint status",
			},
			[]string{"status"},
		),
		parents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parents_stored_total",
			Help:      "Parent items stored",
		}),
		variants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variants_stored_total",
			Help:      "Variant items stored",
		}),
	}
	c.registry.MustRegister(
		c.apiAttempts,
		c.apiDuration,
		c.cooldownWait,
		c.backoffs,
		c.exhausted,
		c.pages,
		c.parents,
		c.variants,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordAPIAttempt records one HTTP attempt against the API.
func (c *Collector) RecordAPIAttempt(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.apiAttempts.WithLabelValues(outcome).Inc()
	c.apiDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordCooldownWait records time spent blocked on the cooldown clock.
func (c *Collector) RecordCooldownWait(duration time.Duration) {
	if c == nil {
		return
	}
	c.cooldownWait.Observe(duration.Seconds())
}

// IncrementBackoff counts one transient-failure backoff.
func (c *Collector) IncrementBackoff() {
	if c == nil {
		return
	}
	c.backoffs.Inc()
}

// IncrementExhausted counts one request that ran out of credentials.
func (c *Collector) IncrementExhausted() {
	if c == nil {
		return
	}
	c.exhausted.Inc()
}

// RecordPage records a committed page and the items stored with it.
func (c *Collector) RecordPage(status string, parents, variants int) {
	if c == nil {
		return
	}
	c.pages.WithLabelValues(status).Inc()
	if parents > 0 {
		c.parents.Add(float64(parents))
	}
	if variants > 0 {
		c.variants.Add(float64(variants))
	}
}
