package presenter

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics is the process-wide set of Prometheus collectors for the HTTP
// surface: request count and latency histogram, by route and status.
type metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newMetrics() *metrics {
	return &metrics{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lpstrategy_http_requests_total",
			Help: "Total HTTP requests processed by the Presenter, by route and status.",
		}, []string{"route", "method", "status"}),
		latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lpstrategy_http_request_duration_seconds",
			Help:    "HTTP request latency observed by the Presenter.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// middleware records per-request count and latency keyed by the matched
// chi route pattern (not the raw path, so `/strategy/{id}` stays a single
// series regardless of id).
func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chiRoutePattern(r)
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		m.latency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func chiRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// handler exposes the registered collectors at /metrics.
func (m *metrics) handler() http.Handler {
	return promhttp.Handler()
}
