// ABOUTME: Prometheus metrics for the relay hub and deployment orchestrator
// ABOUTME: Uses a private registry so tests and multiple hubs never collide

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dashblock"

// Metrics holds all the Prometheus metrics for the hub.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AgentsConnected  prometheus.Gauge
	ClientsConnected prometheus.Gauge
	AuthFailures     *prometheus.CounterVec
	StatusUpdates    prometheus.Counter
	CommandsTotal    *prometheus.CounterVec
	FramesDropped    prometheus.Counter
	Deployments      *prometheus.CounterVec
}

// New creates a Metrics instance registered on its own registry,
// including the standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AgentsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_connected",
			Help:      "Number of authenticated agent sessions",
		}),
		ClientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_connected",
			Help:      "Number of open client sessions",
		}),
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_auth_failures_total",
			Help:      "Agent authentication attempts rejected, by reason",
		}, []string{"reason"}),
		StatusUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Status reports persisted and broadcast",
		}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched to agent rooms, by command",
		}, []string{"command"}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames not delivered because a peer queue was full or closed",
		}),
		Deployments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Deployment runs, by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// AgentConnected adjusts the authenticated agent gauge.
func (m *Metrics) AgentConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.AgentsConnected.Inc()
	} else {
		m.AgentsConnected.Dec()
	}
}

// ClientConnected adjusts the client session gauge.
func (m *Metrics) ClientConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.ClientsConnected.Inc()
	} else {
		m.ClientsConnected.Dec()
	}
}

// AuthFailed counts a rejected agent authentication.
func (m *Metrics) AuthFailed(reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}

// StatusUpdated counts a persisted status report.
func (m *Metrics) StatusUpdated() {
	if m == nil {
		return
	}
	m.StatusUpdates.Inc()
}

// CommandDispatched counts a command sent to a room.
func (m *Metrics) CommandDispatched(command string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command).Inc()
}

// FrameDropped counts an undeliverable frame.
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// DeploymentFinished counts a deployment run.
func (m *Metrics) DeploymentFinished(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.Deployments.WithLabelValues(result).Inc()
}
