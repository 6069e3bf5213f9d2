// Package metrics holds the Prometheus collectors for the service.
//
// Every collector is registered on a private registry, so tests can create
// as many Collectors as they like without tripping duplicate registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "code_ingest"

// Collector bundles the service metrics.
type Collector struct {
	Registry *prometheus.Registry

	// Launches counts submissions by interpreter and result (ok, failed).
	Launches *prometheus.CounterVec
	// Polls counts poll outcomes (running, finished, invalid, gone).
	Polls *prometheus.CounterVec
	// Teardowns counts who removed an execution (completed, reaped, killed, reset, vanished).
	Teardowns *prometheus.CounterVec
	// OOMKills counts executions the kernel killed for exceeding the memory cap.
	OOMKills prometheus.Counter
	// Lifetime observes launch-to-teardown duration.
	Lifetime *prometheus.HistogramVec
	// LiveExecutions tracks the registry size.
	LiveExecutions prometheus.Gauge
	// AdminActions counts admin calls by action and status.
	AdminActions *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a Collector with all metrics registered.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,

		Launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "launches_total",
			Help:      "Container launches by interpreter and result.",
		}, []string{"interpreter", "result"}),

		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "polls_total",
			Help:      "Poll requests by outcome.",
		}, []string{"outcome"}),

		Teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "teardowns_total",
			Help:      "Executions removed from the registry, by reason.",
		}, []string{"reason"}),

		OOMKills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "oom_kills_total",
			Help:      "Executions killed for exceeding the memory limit.",
		}),

		Lifetime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "lifetime_seconds",
			Help:      "Time from launch to teardown.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60, 120},
		}, []string{"reason"}),

		LiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "live",
			Help:      "Executions currently registered.",
		}),

		AdminActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "actions_total",
			Help:      "Admin actions by action and status.",
		}, []string{"action", "status"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.Launches,
		c.Polls,
		c.Teardowns,
		c.OOMKills,
		c.Lifetime,
		c.LiveExecutions,
		c.AdminActions,
		c.HTTPRequests,
		c.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}
