// Package middleware: HTTP-middleware служебного сервера.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "iggy_client", Subsystem: "ops_http", Name: "in_flight_requests",
		Help: "Requests currently served by the ops server",
	})
	handled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iggy_client", Subsystem: "ops_http", Name: "requests_total",
		Help: "Ops server requests by route, method and status class",
	}, []string{"route", "method", "class"})
	latency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "iggy_client", Subsystem: "ops_http", Name: "request_duration_seconds",
		Help:    "Ops server request latency",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2},
	}, []string{"route"})
)

// route: шаблон chi; неизвестные пути схлопываются в "other".
func route(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "other"
}

// class: 200 → "2xx".
func class(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	return strconv.Itoa(code/100) + "xx"
}

// Metrics считает запросы служебного сервера.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inFlight.Inc()
			defer inFlight.Dec()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			t0 := time.Now()
			next.ServeHTTP(ww, r)

			rt := route(r)
			latency.WithLabelValues(rt).Observe(time.Since(t0).Seconds())
			handled.WithLabelValues(rt, r.Method, class(ww.Status())).Inc()
		})
	}
}
