package entity

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics считает переходы конечного автомата и их отклонения.
// Недопустимые переходы не фатальны, но обязаны быть видимы для диагностики.
type Metrics struct {
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
}

// NewMetrics создает метрики и регистрирует их в дефолтном регистре
func NewMetrics() *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entity",
			Name:      "transitions_total",
			Help:      "Успешные переходы автомата состояний по типам.",
		}, []string{"transition"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entity",
			Name:      "transition_rejections_total",
			Help:      "Отклоненные переходы автомата состояний по причинам.",
		}, []string{"transition", "reason"}),
	}

	prometheus.MustRegister(m.transitions, m.rejections)
	return m
}

func (m *Metrics) transition(name string) {
	if m != nil {
		m.transitions.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) rejection(name, reason string) {
	if m != nil {
		m.rejections.WithLabelValues(name, reason).Inc()
	}
}
