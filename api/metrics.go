package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var metrics = []prometheus.Collector{
	requestCount,
	requestDuration,
	conflictCount,
	eventCount,
	feedSubscribers,
}

var registerOnce sync.Once

// registerPrometheusMetrics registers all collectors with the default
// registry. Routers built after the first one share them.
func registerPrometheusMetrics() {
	registerOnce.Do(func() {
		for _, c := range metrics {
			prometheus.MustRegister(c)
		}
	})
}

var requestCount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "requests_total",
		Help: "How many HTTP requests processed, partitioned by status code and HTTP method.",
	},
	[]string{"code", "method", "url"},
)

var requestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "request_duration_seconds",
		Help: "The HTTP request latencies in seconds.",
	},
	[]string{"code", "method", "url"},
)

var conflictCount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "allocation_rejections_total",
		Help: "Allocation writes rejected, partitioned by error code.",
	},
	[]string{"code"},
)

var eventCount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "allocation_events_total",
		Help: "Change events published on the feed, partitioned by type.",
	},
	[]string{"type"},
)

var feedSubscribers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "allocation_feed_subscribers",
		Help: "Open change feed connections.",
	},
)

// MetricsMiddleware updates the request metrics. The url label is the chi
// route pattern, so path parameters do not blow up cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := strconv.Itoa(statusOf(ww))
		elapsed := float64(time.Since(start)) / float64(time.Second)

		url := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			url = rctx.RoutePattern()
		}

		requestDuration.WithLabelValues(status, r.Method, url).Observe(elapsed)
		requestCount.WithLabelValues(status, r.Method, url).Inc()
	})
}

// RequestLogger logs one zerolog event per request, tagged with the chi
// request ID.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := statusOf(ww)
			event := log.Info()
			switch {
			case status >= 500:
				event = log.Error()
			case status >= 400:
				event = log.Warn()
			}
			event.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// statusOf reports 200 for handlers that never wrote a header.
func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}
