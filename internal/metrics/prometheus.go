package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promMetrics lives in its own registry so several collectors can coexist.
type promMetrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	responses *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	misses    prometheus.Counter
	rewrites  *prometheus.CounterVec
	backendUp *prometheus.GaugeVec
}

func newPromMetrics() *promMetrics {
	m := &promMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookstore_proxy_requests_total",
				Help: "Requests received per route",
			},
			[]string{"route"},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookstore_proxy_responses_total",
				Help: "Responses per route and status code",
			},
			[]string{"route", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bookstore_proxy_request_duration_seconds",
				Help:    "Time spent forwarding requests per route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		misses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bookstore_proxy_unmatched_requests_total",
				Help: "Requests that matched no route",
			},
		),
		rewrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookstore_proxy_location_rewrites_total",
				Help: "Location headers rewritten per route",
			},
			[]string{"route"},
		),
		backendUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bookstore_proxy_backend_up",
				Help: "1 when the backend passes health checks",
			},
			[]string{"backend"},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.responses,
		m.duration,
		m.misses,
		m.rewrites,
		m.backendUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *promMetrics) observe(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		m.requests.WithLabelValues(event.Route).Inc()
	case EventRouteMissed:
		m.misses.Inc()
	case EventResponseCompleted:
		m.responses.WithLabelValues(event.Route, strconv.Itoa(event.StatusCode)).Inc()
		m.duration.WithLabelValues(event.Route).Observe(event.Duration.Seconds())
	case EventHealthChanged:
		up := 0.0
		if event.Healthy {
			up = 1
		}
		m.backendUp.WithLabelValues(event.Backend).Set(up)
	case EventLocationRewritten:
		m.rewrites.WithLabelValues(event.Route).Inc()
	}
}

// PrometheusHandler serves the collector's registry in the exposition format.
func (c *Collector) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(c.prometheus.registry, promhttp.HandlerOpts{})
}
