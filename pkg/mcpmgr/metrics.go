package mcpmgr

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mcpmgr"

type managerMetrics struct {
	connected   prometheus.Gauge
	connects    *prometheus.CounterVec
	reconnects  *prometheus.CounterVec
	invocations *prometheus.CounterVec
	gatherer    prometheus.Gatherer
}

func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	m := &managerMetrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected_servers",
			Help:      "Number of servers with a live session.",
		}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by server and result.",
		}, []string{"server", "result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnection timers armed per server.",
		}, []string{"server"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invocations_total",
			Help:      "Tool, resource, prompt and ping calls by server, kind and result.",
		}, []string{"server", "kind", "result"}),
	}

	if reg == nil {
		private := prometheus.NewRegistry()
		reg = private
		m.gatherer = private
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	for _, c := range []prometheus.Collector{m.connected, m.connects, m.reconnects, m.invocations} {
		if err := reg.Register(c); err != nil {
			// A second manager sharing a registerer reuses the first one's
			// collectors.
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				m.adopt(c, are.ExistingCollector)
			}
		}
	}
	return m
}

func (m *managerMetrics) adopt(mine, existing prometheus.Collector) {
	switch mine {
	case m.connected:
		if g, ok := existing.(prometheus.Gauge); ok {
			m.connected = g
		}
	case m.connects:
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.connects = v
		}
	case m.reconnects:
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.reconnects = v
		}
	case m.invocations:
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.invocations = v
		}
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
