// Package metrics exposes per-connection Prometheus instrumentation for
// the command engine: in-flight command depth, AEN drops, keep-alive
// failures, and command latency.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is a set of unregistered collectors for one connection. Callers
// typically construct one Metrics per Session and register it with
// their own prometheus.Registerer.
type Metrics struct {
	InFlight          prometheus.Gauge
	AENDropped        prometheus.Counter
	KeepAliveFailures prometheus.Counter
	CommandLatency    *prometheus.HistogramVec
}

// New constructs a fresh Metrics set labelled with a caller-supplied
// connection identifier (e.g. the target NQN), so multiple connections
// can share one registry without collisions.
func New(connLabel string) *Metrics {
	constLabels := prometheus.Labels{"connection": connLabel}
	return &Metrics{
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nvmetcp",
			Name:        "commands_in_flight",
			Help:        "Number of command slots currently awaiting completion.",
			ConstLabels: constLabels,
		}),
		AENDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nvmetcp",
			Name:        "aen_dropped_total",
			Help:        "Total async-event records discarded by AEN queue overflow.",
			ConstLabels: constLabels,
		}),
		KeepAliveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nvmetcp",
			Name:        "keepalive_failures_total",
			Help:        "Total Keep-Alive commands that failed to complete before their deadline.",
			ConstLabels: constLabels,
		}),
		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "nvmetcp",
			Name:        "command_latency_seconds",
			Help:        "Latency from submission to completion, by opcode.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"opcode"}),
	}
}

// Collectors returns every collector in m, for bulk registration:
// registerer.MustRegister(m.Collectors()...).
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.InFlight, m.AENDropped, m.KeepAliveFailures, m.CommandLatency}
}
