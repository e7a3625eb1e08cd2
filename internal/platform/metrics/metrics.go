// Package metrics exposes the sync engine's Prometheus instruments. All
// recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pmsync"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Sync metrics
	RecordsTotal *prometheus.CounterVec
	JobsTotal    *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec

	// Upstream transport metrics
	UpstreamRequests *prometheus.CounterVec
	UpstreamRetries  *prometheus.CounterVec

	// Webhook and probe metrics
	WebhookEvents *prometheus.CounterVec
	ProbeLatency  *prometheus.HistogramVec

	// HTTP server metrics
	HTTPRequests *prometheus.HistogramVec
	HTTPInFlight prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers every metric on reg. Passing a fresh prometheus.Registry
// keeps tests isolated from the global registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Synced records by kind and outcome (processed, failed, skipped)",
			},
			[]string{"kind", "outcome"},
		),
		JobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_jobs_total",
				Help:      "Finished sync jobs by type and status",
			},
			[]string{"type", "status"},
		),
		JobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_job_duration_seconds",
				Help:      "Wall-clock duration of sync jobs",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"type"},
		),
		UpstreamRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Upstream HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
		UpstreamRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_retries_total",
				Help:      "Upstream request retries by reason",
			},
			[]string{"reason"},
		),
		WebhookEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Inbound webhook events by outcome",
			},
			[]string{"outcome"},
		),
		ProbeLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "health_probe_latency_seconds",
				Help:      "Upstream health probe latency by resulting status",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		HTTPRequests: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP server request duration by method, route and status",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "code"},
		),
		HTTPInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveRecords(kind, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsTotal.WithLabelValues(kind, outcome).Add(float64(n))
}

func (m *Metrics) ObserveJob(jobType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(jobType, status).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// ObserveUpstream records one upstream response; code 0 means a network error.
func (m *Metrics) ObserveUpstream(method string, code int) {
	if m == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.UpstreamRequests.WithLabelValues(method, label).Inc()
}

func (m *Metrics) ObserveRetry(reason string) {
	if m == nil {
		return
	}
	m.UpstreamRetries.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveWebhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveProbe(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProbeLatency.WithLabelValues(status).Observe(d.Seconds())
}

// ---------------------------------------------------------------------------
// Echo integration
// ---------------------------------------------------------------------------

// Middleware returns an Echo middleware that records HTTP server metrics.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.HTTPInFlight.Inc()
			defer m.HTTPInFlight.Dec()

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}
