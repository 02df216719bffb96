// Package metrics exposes prometheus collectors for the image proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the proxy's prometheus collectors.
type Metrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Conversions counts finished pipeline runs by status (ok | error).
	Conversions *prometheus.CounterVec

	ConversionDuration prometheus.Histogram
}

// New registers and returns the proxy collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "image_proxy_cache_hits_total",
			Help: "Requests served from the result cache.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "image_proxy_cache_misses_total",
			Help: "Requests that required a conversion.",
		}),
		Conversions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "image_proxy_conversions_total",
			Help: "Finished conversion pipelines by status.",
		}, []string{"status"}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "image_proxy_conversion_duration_seconds",
			Help:    "Wall time of conversion pipelines.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
