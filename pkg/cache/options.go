package cache

import (
	"github.com/c360/sparqlstream/metric"
)

// Option configures a cache.
type Option[V any] func(*cacheOptions[V])

type cacheOptions[V any] struct {
	evictCallback EvictCallback[V]
	sliding       bool
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithEvictionCallback sets the callback invoked for every evicted entry.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithSlidingExpiry resets an entry's TTL on every Get hit.
func WithSlidingExpiry[V any]() Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.sliding = true
	}
}

// WithMetrics exports cache statistics labelled with prefix.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}
