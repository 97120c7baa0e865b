// Package metrics 事务桥的 prometheus 指标，*Metrics 为 nil 时不采集
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "txbridge"

type Metrics struct {
	opened   prometheus.Counter
	attempts prometheus.Counter
	commands *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	inFlight prometheus.Gauge
	stalled  prometheus.Gauge
}

// New 构造并注册全部 collector，reg 为空时只构造不注册
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_opened_total",
			Help:      "Transactions opened through the bridge.",
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_attempts_total",
			Help:      "Entries into the storage engine transaction closure, retries included.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands applied by transaction workers.",
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_outcomes_total",
			Help:      "Terminal transaction outcomes.",
		}, []string{"status", "reason"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transactions_in_flight",
			Help:      "Transactions whose worker has not terminated yet.",
		}),
		stalled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stalled_transactions",
			Help:      "Hanging transactions older than the stall threshold at the last monitor pass.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.opened, m.attempts, m.commands, m.outcomes, m.inFlight, m.stalled)
	}
	return m
}

func (m *Metrics) Opened() {
	if m == nil {
		return
	}
	m.opened.Inc()
	m.inFlight.Inc()
}

func (m *Metrics) Attempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

func (m *Metrics) Command(kind string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(kind).Inc()
}

// Completed 记录终态，reason 在提交成功时为空串
func (m *Metrics) Completed(status, reason string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(status, reason).Inc()
	m.inFlight.Dec()
}

func (m *Metrics) Stalled(n int) {
	if m == nil {
		return
	}
	m.stalled.Set(float64(n))
}
