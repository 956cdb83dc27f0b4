// Package observability exposes EnergyGuard's operational counters as
// Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the counters and gauges updated from replication
// manager operation hooks. It owns a dedicated registry rather than
// using prometheus.DefaultRegisterer so tests can construct as many
// independent instances as they need.
type Metrics struct {
	registry *prometheus.Registry

	WritesTotal   prometheus.Counter
	ReadsTotal    prometheus.Counter
	NodeFailTotal prometheus.Counter
	AlertsTotal   prometheus.Counter
	NodesAlive    prometheus.Gauge
}

// NewMetrics registers and returns a fresh metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		WritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "energyguard_writes_total",
			Help: "Total number of accepted store_measurement calls.",
		}),
		ReadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "energyguard_reads_total",
			Help: "Total number of retrieve_measurement calls.",
		}),
		NodeFailTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "energyguard_node_fail_total",
			Help: "Total number of storage nodes transitioned to dead.",
		}),
		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "energyguard_alerts_total",
			Help: "Total number of threshold-breach alerts raised.",
		}),
		NodesAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "energyguard_nodes_alive",
			Help: "Current count of live storage nodes.",
		}),
	}

	registry.MustRegister(m.WritesTotal, m.ReadsTotal, m.NodeFailTotal, m.AlertsTotal, m.NodesAlive)

	return m
}

// Handler returns the HTTP handler to mount at GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetNodesAlive updates the live-node gauge to count.
func (m *Metrics) SetNodesAlive(count int) {
	m.NodesAlive.Set(float64(count))
}
