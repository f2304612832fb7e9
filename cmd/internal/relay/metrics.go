package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the relay. A nil *Metrics is a valid no-op.
type Metrics struct {
	connections prometheus.Gauge
	sessions    prometheus.Gauge
	broadcasts  prometheus.Counter
	replays     prometheus.Counter
	errors      *prometheus.CounterVec
}

// NewMetrics creates relay collectors and registers them with reg (if non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "colocation", Subsystem: "relay", Name: "connections",
			Help: "Open websocket connections.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "colocation", Subsystem: "relay", Name: "sessions",
			Help: "Advertised sessions.",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "colocation", Subsystem: "relay", Name: "broadcasts_total",
			Help: "Authority broadcasts accepted.",
		}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "colocation", Subsystem: "relay", Name: "replays_total",
			Help: "Retained broadcasts replayed to late joiners.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colocation", Subsystem: "relay", Name: "errors_total",
			Help: "Error envelopes sent to devices, by code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.sessions, m.broadcasts, m.replays, m.errors)
	}
	return m
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) setSessions(n int) {
	if m != nil {
		m.sessions.Set(float64(n))
	}
}

func (m *Metrics) broadcast() {
	if m != nil {
		m.broadcasts.Inc()
	}
}

func (m *Metrics) replay() {
	if m != nil {
		m.replays.Inc()
	}
}

func (m *Metrics) errorSent(code string) {
	if m != nil {
		m.errors.WithLabelValues(code).Inc()
	}
}
