package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// REST-специфичные метрики: код ответа и перелогины. Длительность и
// ok/error пишет общий transport.Meter.
var httpMetrics = struct {
	Requests *prometheus.CounterVec
	Relogins *prometheus.CounterVec
}{
	Requests: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iggy_client", Subsystem: "http_transport", Name: "requests_total",
			Help: "REST calls to the broker by operation and status code",
		},
		[]string{"service", "op", "code"},
	),
	Relogins: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iggy_client", Subsystem: "http_transport", Name: "relogins_total",
			Help: "Transparent re-logins after an expired token",
		},
		[]string{"service"},
	),
}
