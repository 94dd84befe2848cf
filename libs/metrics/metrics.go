// Package metrics exposes Prometheus collectors shared by the HTTP services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "shopfront"

// HTTPMetrics counts and times requests per service and route prefix.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by service, method, route and status.",
		}, []string{"service", "method", "route", "status"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by service and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "route"}),
	}
}

// Middleware records every request. route maps a request to a low-cardinality label.
func (m *HTTPMetrics) Middleware(service string, route func(*http.Request) string) httpx.Middleware {
	if route == nil {
		route = RoutePrefix
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := httpx.NewStatusRecorder(w)
			next.ServeHTTP(sw, r)

			status := sw.Status
			if status == 0 {
				status = http.StatusOK
			}
			label := route(r)
			m.Requests.WithLabelValues(service, r.Method, label, strconv.Itoa(status)).Inc()
			m.Duration.WithLabelValues(service, label).Observe(time.Since(start).Seconds())
		})
	}
}

// RoutePrefix keeps the first four path segments, e.g. /api/v1/staff/clock.
func RoutePrefix(r *http.Request) string {
	path := r.URL.Path
	segments := 0
	for i := 0; i < len(path); i++ {
		if path[i] != '/' {
			continue
		}
		segments++
		if segments == 5 {
			return path[:i]
		}
	}
	return path
}

func Handler() http.Handler {
	return promhttp.Handler()
}
