// Package metrics bundles the Prometheus collectors shared across the
// control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the control plane exports.
type Metrics struct {
	WorkersRunning   prometheus.Gauge
	WorkerRestarts   prometheus.Counter
	MessagesInbound  prometheus.Counter
	MessagesOutbound prometheus.Counter
	CascadeResults   *prometheus.CounterVec
	AgentSwitches    prometheus.Counter
	SwitchRejections prometheus.Counter
	SweepCycles      prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		WorkersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "setter_workers_running",
			Help: "Current number of live tenant workers.",
		}),
		WorkerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "setter_worker_restarts_total",
			Help: "Total unexpected worker restarts.",
		}),
		MessagesInbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "setter_messages_inbound_total",
			Help: "Total inbound messages processed.",
		}),
		MessagesOutbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "setter_messages_outbound_total",
			Help: "Total outbound messages sent to workers.",
		}),
		CascadeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "setter_cascade_results_total",
			Help: "Cascade outcomes by response source.",
		}, []string{"source"}),
		AgentSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "setter_agent_switches_total",
			Help: "Total successful mid-conversation agent switches.",
		}),
		SwitchRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "setter_agent_switch_rejections_total",
			Help: "Agent switches rejected by the per-hour rate limit.",
		}),
		SweepCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "setter_sweep_cycles_total",
			Help: "Total presence/inactivity sweep cycles completed.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.WorkersRunning,
		m.WorkerRestarts,
		m.MessagesInbound,
		m.MessagesOutbound,
		m.CascadeResults,
		m.AgentSwitches,
		m.SwitchRejections,
		m.SweepCycles,
	)
	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
