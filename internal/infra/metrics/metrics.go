package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — счётчики склада и нарядов. Методы безопасны на nil-приёмнике,
// чтобы сервисы в тестах работали без регистрации.
type Metrics struct {
	deducted    *prometheus.CounterVec
	restored    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	conflicts   prometheus.Counter
	belowMin    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deducted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filter_ledger",
			Name:      "deducted_units_total",
			Help:      "Filter units deducted from stock.",
		}, []string{"source"}),
		restored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filter_ledger",
			Name:      "restored_units_total",
			Help:      "Filter units returned to stock.",
		}, []string{"source"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filter_ledger",
			Name:      "work_order_transitions_total",
			Help:      "Work order status changes.",
		}, []string{"to"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filter_ledger",
			Name:      "concurrency_conflicts_total",
			Help:      "Operations rejected because of lock contention or a lost status race.",
		}),
		belowMin: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "filter_ledger",
			Name:      "records_below_min_stock",
			Help:      "Inventory records whose quantity is below min stock.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.deducted, m.restored, m.transitions, m.conflicts, m.belowMin)
	}
	return m
}

// source: "maintenance" или "work_order".
func (m *Metrics) Deducted(source string, qty int) {
	if m == nil {
		return
	}
	m.deducted.WithLabelValues(source).Add(float64(qty))
}

func (m *Metrics) Restored(source string, qty int) {
	if m == nil {
		return
	}
	m.restored.WithLabelValues(source).Add(float64(qty))
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) SetBelowMin(n int) {
	if m == nil {
		return
	}
	m.belowMin.Set(float64(n))
}
