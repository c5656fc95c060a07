package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var serviceLabel = "unknown"

// SetServiceLabel вызывается из app один раз при старте.
func SetServiceLabel(name string) { serviceLabel = name }

// ServiceLabel: значение лейбла service для метрик транспортов.
func ServiceLabel() string { return serviceLabel }

var (
	opTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iggy_client", Subsystem: "transport", Name: "operations_total",
		Help: "Broker operations by transport, op and result (ok|error)",
	}, []string{"service", "transport", "op", "result"})

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "iggy_client", Subsystem: "transport", Name: "operation_duration_seconds",
		Help:    "Broker operation latency",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"service", "transport", "op"})
)

// Meter пишет метрики операций одного транспорта.
type Meter struct{ kind string }

// NewMeter: kind совпадает с именем в реестре транспортов.
func NewMeter(kind string) Meter { return Meter{kind: kind} }

// Observe учитывает операцию, начатую в start.
func (m Meter) Observe(op string, start time.Time, err error) {
	opDuration.WithLabelValues(serviceLabel, m.kind, op).Observe(time.Since(start).Seconds())
	m.count(op, err)
}

// Fail учитывает ошибку без замера длительности.
func (m Meter) Fail(op string) {
	opTotal.WithLabelValues(serviceLabel, m.kind, op, "error").Inc()
}

func (m Meter) count(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	opTotal.WithLabelValues(serviceLabel, m.kind, op, result).Inc()
}
