package grid

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics инкапсулирует Prometheus-метрики реестра сетки.
// Конфликты размещения не фатальны, но должны быть видимы для диагностики.
type Metrics struct {
	conflicts  *prometheus.CounterVec
	placements prometheus.Counter
	removals   prometheus.Counter
	rawStacked prometheus.Gauge
}

// NewMetrics создает метрики и регистрирует их в дефолтном регистре
func NewMetrics() *Metrics {
	m := &Metrics{
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grid",
			Name:      "placement_conflicts_total",
			Help:      "Число отклоненных размещений по причинам.",
		}, []string{"reason"}),
		placements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grid",
			Name:      "placements_total",
			Help:      "Общее число успешных размещений.",
		}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grid",
			Name:      "removals_total",
			Help:      "Общее число снятий сущностей с ячеек.",
		}),
		rawStacked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "grid",
			Name:      "raw_material_stacked",
			Help:      "Текущее количество сырья в стопках.",
		}),
	}

	prometheus.MustRegister(m.conflicts, m.placements, m.removals, m.rawStacked)
	return m
}

func (m *Metrics) conflict(reason string) {
	if m != nil {
		m.conflicts.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) placed() {
	if m != nil {
		m.placements.Inc()
	}
}

func (m *Metrics) removed() {
	if m != nil {
		m.removals.Inc()
	}
}

func (m *Metrics) rawDelta(d float64) {
	if m != nil {
		m.rawStacked.Add(d)
	}
}
