package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tokenizerd/pkg/encoder"
)

// Collector aggregates the service's Prometheus instruments. A nil *Collector
// is valid and records nothing, so metrics wiring stays optional.
type Collector struct {
	initializations *prometheus.CounterVec
	counts          *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	countDuration   prometheus.Histogram
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	resets          prometheus.Counter
}

// NewCollector registers the service instruments on reg under the given
// namespace and returns the collector. Tests pass a fresh
// prometheus.NewRegistry to avoid cross-test duplicate registration.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		initializations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "initializations_total",
			Help:      "Tokenizer initialization attempts by scheme and status.",
		}, []string{"scheme", "status"}),
		counts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counts_total",
			Help:      "Count operations that computed a token count, by scheme.",
		}, []string{"scheme"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total tokens counted, by scheme.",
		}, []string{"scheme"}),
		countDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "count_duration_seconds",
			Help:      "Latency of count computations.",
			Buckets:   prometheus.DefBuckets,
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Count cache hits.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Count cache misses.",
		}),
		resets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Registry reset operations.",
		}),
	}
}

// RecordInitialize notes one initialization attempt. Names outside the closed
// scheme set fold into a single label value to keep cardinality bounded.
func (c *Collector) RecordInitialize(scheme, status string) {
	if c == nil {
		return
	}
	if !encoder.Scheme(scheme).IsValid() {
		scheme = "invalid"
	}
	c.initializations.WithLabelValues(scheme, status).Inc()
}

// RecordCount notes one computed count and its latency.
func (c *Collector) RecordCount(scheme string, tokens int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.counts.WithLabelValues(scheme).Inc()
	c.tokens.WithLabelValues(scheme).Add(float64(tokens))
	c.countDuration.Observe(elapsed.Seconds())
}

// RecordCacheHit notes a count served from cache.
func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// RecordCacheMiss notes a count that had to be computed.
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// RecordReset notes one registry reset.
func (c *Collector) RecordReset() {
	if c == nil {
		return
	}
	c.resets.Inc()
}
