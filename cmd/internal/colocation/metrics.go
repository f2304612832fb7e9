package colocation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments Coordinator operations. A nil *Metrics is a valid no-op.
type Metrics struct {
	ops       *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	localize  *prometheus.CounterVec
	tracked   prometheus.Gauge
	broadcast *prometheus.CounterVec
}

// NewMetrics creates coordinator collectors and registers them with reg (if non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colocation", Subsystem: "coordinator", Name: "operations_total",
			Help: "Coordinator operations by op and result kind.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "colocation", Subsystem: "coordinator", Name: "operation_seconds",
			Help:    "Coordinator operation latency.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 4, 8, 16, 32},
		}, []string{"op"}),
		localize: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colocation", Subsystem: "coordinator", Name: "localize_attempts_total",
			Help: "Per-anchor localization attempts by result.",
		}, []string{"result"}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "colocation", Subsystem: "coordinator", Name: "tracked_anchors",
			Help: "Anchors currently tracked by the coordinator.",
		}),
		broadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colocation", Subsystem: "coordinator", Name: "group_broadcasts_total",
			Help: "Group id broadcasts received, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.duration, m.localize, m.tracked, m.broadcast)
	}
	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if kind := KindOf(err); kind != nil {
		result = kind.Error()
	} else if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) localizeAttempt(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.localize.WithLabelValues("ok").Inc()
		return
	}
	m.localize.WithLabelValues("failed").Inc()
}

func (m *Metrics) setTracked(n int) {
	if m != nil {
		m.tracked.Set(float64(n))
	}
}

func (m *Metrics) broadcastReceived(outcome string) {
	if m != nil {
		m.broadcast.WithLabelValues(outcome).Inc()
	}
}
