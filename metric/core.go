package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tensorscope"

// Metrics contains the service-level metrics shared by every component.
// All Record methods are safe on a nil receiver so components can run
// without a registry in tests.
type Metrics struct {
	// Request surface
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	NATSRequests    *prometheus.CounterVec
	NATSConnected   prometheus.Gauge
	NATSReconnects  prometheus.Counter
	RateLimited     prometheus.Counter
	HealthStatus    *prometheus.GaugeVec
	DecodeSkipped   *prometheus.CounterVec
	ContainerOpens  *prometheus.CounterVec
	ContainerGroups prometheus.Histogram

	// Event log
	EventlogRuns           prometheus.Gauge
	EventlogTags           prometheus.Gauge
	EventlogRecords        prometheus.Counter
	EventlogReloadDuration prometheus.Histogram
	EventlogReloadErrors   prometheus.Counter
}

// NewMetrics creates the core metric set. Nothing is registered here.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		NATSRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "requests_total",
				Help:      "NATS request/reply calls by operation and status",
			},
			[]string{"operation", "status"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		DecodeSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decode",
				Name:      "skipped_total",
				Help:      "Entries omitted from a response because they failed to decode",
			},
			[]string{"source"},
		),

		ContainerOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "container",
				Name:      "opens_total",
				Help:      "Weight container opens by result",
			},
			[]string{"result"},
		),

		ContainerGroups: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "container",
				Name:      "groups",
				Help:      "Number of layer groups per opened container",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),

		EventlogRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "eventlog",
				Name:      "runs",
				Help:      "Runs currently known to the multiplexer",
			},
		),

		EventlogTags: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "eventlog",
				Name:      "tags",
				Help:      "Run/tag pairs currently known to the multiplexer",
			},
		),

		EventlogRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "eventlog",
				Name:      "records_total",
				Help:      "Event records read from event files",
			},
		),

		EventlogReloadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "eventlog",
				Name:      "reload_duration_seconds",
				Help:      "Time spent on one reload of the log directory",
				Buckets:   prometheus.DefBuckets,
			},
		),

		EventlogReloadErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "eventlog",
				Name:      "reload_errors_total",
				Help:      "Reloads that finished with an error",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.HTTPRequests,
		c.HTTPDuration,
		c.NATSRequests,
		c.NATSConnected,
		c.NATSReconnects,
		c.RateLimited,
		c.HealthStatus,
		c.DecodeSkipped,
		c.ContainerOpens,
		c.ContainerGroups,
		c.EventlogRuns,
		c.EventlogTags,
		c.EventlogRecords,
		c.EventlogReloadDuration,
		c.EventlogReloadErrors,
	}
}

// RecordHTTPRequest records one served request
func (c *Metrics) RecordHTTPRequest(route string, code int, duration time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordRateLimited counts a rejected request
func (c *Metrics) RecordRateLimited() {
	if c == nil {
		return
	}
	c.RateLimited.Inc()
}

// RecordNATSRequest records one request/reply call
func (c *Metrics) RecordNATSRequest(operation, status string) {
	if c == nil {
		return
	}
	c.NATSRequests.WithLabelValues(operation, status).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	c.NATSConnected.Set(boolGauge(connected))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	if c == nil {
		return
	}
	c.HealthStatus.WithLabelValues(component).Set(boolGauge(healthy))
}

// RecordDecodeSkipped counts entries dropped from a response
func (c *Metrics) RecordDecodeSkipped(source string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.DecodeSkipped.WithLabelValues(source).Add(float64(n))
}

// RecordContainerOpen counts a container open attempt
func (c *Metrics) RecordContainerOpen(result string, groups int) {
	if c == nil {
		return
	}
	c.ContainerOpens.WithLabelValues(result).Inc()
	if result == "ok" {
		c.ContainerGroups.Observe(float64(groups))
	}
}

// RecordReload records a completed multiplexer reload
func (c *Metrics) RecordReload(duration time.Duration, runs, tags, records int, err error) {
	if c == nil {
		return
	}
	c.EventlogReloadDuration.Observe(duration.Seconds())
	c.EventlogRuns.Set(float64(runs))
	c.EventlogTags.Set(float64(tags))
	c.EventlogRecords.Add(float64(records))
	if err != nil {
		c.EventlogReloadErrors.Inc()
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
