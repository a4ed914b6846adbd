// Package metrics exposes Prometheus instrumentation for the gateway.
// Metrics are built against an injected registry so tests and embedders
// can keep isolated metric spaces.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "claude_gateway"

// Metrics holds all gateway instruments. A nil registry is allowed; the
// instruments still work, they are just not exported anywhere.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	ConversionsTotal    *prometheus.CounterVec
	ConversionFallbacks *prometheus.CounterVec
	ValidationFailures  prometheus.Counter

	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheEvictions   prometheus.Counter
	CacheExpirations prometheus.Counter
	CacheSize        prometheus.Gauge

	StreamEventsTotal  prometheus.Counter
	StreamInterruption prometheus.Counter

	BatchItemsTotal *prometheus.CounterVec
	BatchInFlight   prometheus.Gauge

	ToolRoundsTotal prometheus.Counter

	EndpointFailures *prometheus.CounterVec
}

// New creates all gateway metrics and registers them with reg when it
// is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests processed, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"mode"}),
		ConversionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Wire format conversions, by direction.",
		}, []string{"direction"}),
		ConversionFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_fallbacks_total",
			Help:      "Lossy conversion degradations, by kind.",
		}, []string{"kind"}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Requests rejected before any provider call.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Responses served from cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache lookups that fell through to the provider.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted by capacity pressure.",
		}),
		CacheExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_expirations_total",
			Help:      "Entries discarded on access after their TTL passed.",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries currently held in the cache.",
		}),
		StreamEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Client streaming events emitted.",
		}),
		StreamInterruption: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_interruptions_total",
			Help:      "Streams that died before a normal stop.",
		}),
		BatchItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Batch items processed, by outcome.",
		}, []string{"outcome"}),
		BatchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_items_in_flight",
			Help:      "Batch items currently executing.",
		}),
		ToolRoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_rounds_total",
			Help:      "Tool continuation rounds executed.",
		}),
		EndpointFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_failures_total",
			Help:      "Provider endpoint failures, by endpoint.",
		}, []string{"endpoint"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.ConversionsTotal,
			m.ConversionFallbacks,
			m.ValidationFailures,
			m.CacheHits,
			m.CacheMisses,
			m.CacheEvictions,
			m.CacheExpirations,
			m.CacheSize,
			m.StreamEventsTotal,
			m.StreamInterruption,
			m.BatchItemsTotal,
			m.BatchInFlight,
			m.ToolRoundsTotal,
			m.EndpointFailures,
		)
	}

	return m
}
