package craft

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics инкапсулирует Prometheus-метрики конвейера крафта
type Metrics struct {
	processed   prometheus.Counter
	completions prometheus.Counter
	rejections  *prometheus.CounterVec
}

// NewMetrics создает метрики и регистрирует их в дефолтном регистре
func NewMetrics() *Metrics {
	m := &Metrics{
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "craft",
			Name:      "materials_processed_total",
			Help:      "Общее число переработанных единиц сырья.",
		}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "craft",
			Name:      "blueprint_completions_total",
			Help:      "Общее число завершенных чертежей.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "craft",
			Name:      "process_rejections_total",
			Help:      "Отклоненные попытки обработки по причинам.",
		}, []string{"reason"}),
	}

	prometheus.MustRegister(m.processed, m.completions, m.rejections)
	return m
}

func (m *Metrics) materialProcessed() {
	if m != nil {
		m.processed.Inc()
	}
}

func (m *Metrics) blueprintCompleted() {
	if m != nil {
		m.completions.Inc()
	}
}

func (m *Metrics) rejection(reason string) {
	if m != nil {
		m.rejections.WithLabelValues(reason).Inc()
	}
}
