package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry         *prometheus.Registry
	LookupsTotal     *prometheus.CounterVec
	StreamOpensTotal *prometheus.CounterVec
	UpstreamTotal    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	RejectedTotal    *prometheus.CounterVec
	ProviderReady    prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry so several servers can coexist.
func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		LookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiussource_lookups_total",
				Help: "Total number of reference lookups by load type",
			},
			[]string{"load_type"},
		),
		StreamOpensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiussource_stream_opens_total",
				Help: "Total number of stream open attempts",
			},
			[]string{"status"},
		),
		UpstreamTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiussource_upstream_requests_total",
				Help: "Total number of upstream API requests",
			},
			[]string{"endpoint", "outcome"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audiussource_upstream_request_duration_seconds",
				Help:    "Time spent on upstream API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		RejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiussource_rejected_requests_total",
				Help: "Total number of requests rejected by the per-client limiter",
			},
			[]string{"route"},
		),
		ProviderReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audiussource_provider_ready",
				Help: "1 when a discovery provider was selected",
			},
		),
	}

	metrics.registry.MustRegister(
		metrics.LookupsTotal,
		metrics.StreamOpensTotal,
		metrics.UpstreamTotal,
		metrics.UpstreamDuration,
		metrics.RejectedTotal,
		metrics.ProviderReady,
	)

	return metrics
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveUpstream records one upstream request. It matches audius.RequestObserver.
func (m *Metrics) ObserveUpstream(endpoint, outcome string, elapsed time.Duration) {
	m.UpstreamTotal.WithLabelValues(endpoint, outcome).Inc()
	m.UpstreamDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordLookup(loadType string) {
	m.LookupsTotal.WithLabelValues(loadType).Inc()
}

func (m *Metrics) RecordStreamOpen(status string) {
	m.StreamOpensTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRejected(route string) {
	m.RejectedTotal.WithLabelValues(route).Inc()
}

func (m *Metrics) SetProviderReady(ready bool) {
	if ready {
		m.ProviderReady.Set(1)
		return
	}
	m.ProviderReady.Set(0)
}
