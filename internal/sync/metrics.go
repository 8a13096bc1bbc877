package sync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - Prometheus-метрики синхронизации. nil-значение допустимо и ничего не пишет.
type Metrics struct {
	runs       *prometheus.CounterVec
	cycles     prometheus.Counter
	saves      prometheus.Counter
	blocksSent prometheus.Counter
	reconnects prometheus.Counter
	missing    prometheus.Histogram
	duration   prometheus.Histogram
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil - глобальный регистр).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worldsync",
			Name:      "runs_total",
			Help:      "Завершённые синхронизации по итогу.",
		}, []string{"outcome"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync",
			Name:      "cycles_total",
			Help:      "Проходы save/diff/transmit.",
		}),
		saves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync",
			Name:      "save_commands_total",
			Help:      "Отправленные команды save.",
		}),
		blocksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync",
			Name:      "blocks_sent_total",
			Help:      "Отправленные команды размещения блоков.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync",
			Name:      "reconnects_total",
			Help:      "Повторные подключения сессии.",
		}),
		missing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "worldsync",
			Name:      "missing_blocks",
			Help:      "Размер разницы на каждом проходе.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "worldsync",
			Name:      "run_duration_seconds",
			Help:      "Длительность синхронизации.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	for _, c := range []prometheus.Collector{m.runs, m.cycles, m.saves, m.blocksSent, m.reconnects, m.missing, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) save() {
	if m != nil {
		m.saves.Inc()
	}
}

func (m *Metrics) cycle(missing int) {
	if m != nil {
		m.cycles.Inc()
		m.missing.Observe(float64(missing))
	}
}

func (m *Metrics) sent() {
	if m != nil {
		m.blocksSent.Inc()
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) finish(outcome Outcome, elapsed time.Duration) {
	if m != nil {
		m.runs.WithLabelValues(string(outcome)).Inc()
		m.duration.Observe(elapsed.Seconds())
	}
}
