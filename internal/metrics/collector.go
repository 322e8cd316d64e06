// Package metrics exposes Prometheus instruments for HTTP traffic, provider
// jobs, runs and deliveries.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imagepump/internal/domain"
)

const Namespace = "imagepump"

type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobAttempts   *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	runJobs       *prometheus.CounterVec
	deliveryBytes prometheus.Histogram
	archivesTotal prometheus.Counter
}

// NewCollector registers every instrument on a fresh registry together with
// the Go and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_total",
			Help:      "Jobs finished per provider and terminal status",
		}, []string{"provider", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time spent on a job including retries",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"provider"}),
		jobAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "job_attempts",
			Help:      "Provider calls made per job by the retry controller",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, []string{"provider"}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Completed runs per provider",
		}, []string{"provider"}),
		runJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "run_jobs_total",
			Help:      "Jobs counted in run summaries by outcome",
		}, []string{"provider", "outcome"}),
		deliveryBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "delivery_archive_bytes",
			Help:      "Size of delivered zip archives",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 2, 8),
		}),
		archivesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "delivery_archives_total",
			Help:      "Zip archives written by deliveries",
		}),
	}
}

// ObserveJob records one finished job.
func (c *Collector) ObserveJob(provider, status string, attempts int, took time.Duration) {
	c.jobsTotal.WithLabelValues(provider, status).Inc()
	c.jobDuration.WithLabelValues(provider).Observe(took.Seconds())
	if attempts > 0 {
		c.jobAttempts.WithLabelValues(provider).Observe(float64(attempts))
	}
}

// ObserveRun records a run summary.
func (c *Collector) ObserveRun(provider string, summary domain.Summary) {
	c.runsTotal.WithLabelValues(provider).Inc()
	c.runJobs.WithLabelValues(provider, "succeeded").Add(float64(summary.Succeeded))
	c.runJobs.WithLabelValues(provider, "failed").Add(float64(summary.Failed))
	c.runJobs.WithLabelValues(provider, "cancelled").Add(float64(summary.Cancelled))
}

// ObserveArchive records one stored delivery archive.
func (c *Collector) ObserveArchive(bytes int) {
	c.archivesTotal.Inc()
	c.deliveryBytes.Observe(float64(bytes))
}

// ObserveHTTP records a served request. route should be the chi route
// pattern, not the raw path, to keep cardinality bounded.
func (c *Collector) ObserveHTTP(method, route string, status int, took time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
