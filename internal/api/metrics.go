package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/promptpeek/internal/normalize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	normalizePasses   prometheus.Histogram
	normalizeSaved    prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptpeek_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptpeek_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptpeek_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptpeek_queue_artworks_enqueued_total",
			Help: "Total artworks enqueued for normalization.",
		}, []string{"queue"}),
		normalizePasses: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptpeek_api_normalize_encode_passes",
			Help:    "Encode passes used by direct normalize requests.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		normalizeSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptpeek_api_normalize_bytes_saved_total",
			Help: "Bytes saved by direct normalize requests.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.normalizePasses,
		m.normalizeSaved,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeNormalize(sourceBytes int, res normalize.Result) {
	m.normalizePasses.Observe(float64(res.Passes))
	if saved := sourceBytes - len(res.Data); saved > 0 {
		m.normalizeSaved.Add(float64(saved))
	}
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case path == "/healthz" || path == "/metrics":
		return path
	case len(parts) < 2 || parts[0] != "v1":
		return "unmatched"
	}

	switch parts[1] {
	case "normalize", "tags":
		if len(parts) == 2 {
			return "/v1/" + parts[1]
		}
	case "artworks":
		switch len(parts) {
		case 2:
			return "/v1/artworks"
		case 3:
			return "/v1/artworks/{id}"
		case 4:
			if parts[3] == "like" || parts[3] == "favorite" || parts[3] == "image" {
				return "/v1/artworks/{id}/" + parts[3]
			}
		}
	case "users":
		if len(parts) == 4 && parts[3] == "stats" {
			return "/v1/users/{id}/stats"
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
