package worker

import (
	"net/http"

	"github.com/dunamismax/promptpeek/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	encodePasses         prometheus.Histogram
	outputQuality        prometheus.Histogram
	overBudgetTotal      prometheus.Counter
	webhookFailuresTotal *prometheus.CounterVec
	pixelsProcessedTotal prometheus.Counter
	bytesSavedTotal      prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptpeek_worker_jobs_total",
			Help: "Total normalize tasks by source type and outcome.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptpeek_worker_job_duration_seconds",
			Help:    "Total duration of each normalize task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "promptpeek_worker_active_jobs",
			Help: "Current number of artworks being normalized.",
		}),
		encodePasses: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptpeek_normalize_encode_passes",
			Help:    "Encode passes needed to fit the byte budget.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		outputQuality: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptpeek_normalize_output_quality",
			Help:    "Encoder quality of the stored image.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		overBudgetTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptpeek_normalize_over_budget_total",
			Help: "Artworks stored above the byte budget at the quality floor.",
		}),
		webhookFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptpeek_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}, []string{"event"}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptpeek_normalize_pixels_processed_total",
			Help: "Total source pixels decoded across successful tasks.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptpeek_normalize_bytes_saved_total",
			Help: "Total bytes saved against the uploaded originals.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptpeek_normalize_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful tasks.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.encodePasses,
		m.outputQuality,
		m.overBudgetTotal,
		m.webhookFailuresTotal,
		m.pixelsProcessedTotal,
		m.bytesSavedTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) observeOutput(out pipeline.Output) {
	m.encodePasses.Observe(float64(out.Passes))
	m.outputQuality.Observe(out.Quality)
	if !out.WithinBudget {
		m.overBudgetTotal.Inc()
	}
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
