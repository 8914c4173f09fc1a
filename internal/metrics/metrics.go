// Package metrics exposes relay counters in Prometheus format.
//
// All methods are nil-safe so components can run without metrics wired.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "formrelay"

type Metrics struct {
	reg *prometheus.Registry

	deliveries   *prometheus.CounterVec
	sendDuration prometheus.Histogram
	invocations  *prometheus.CounterVec
	polledRows   prometheus.Counter
	pollErrors   prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers relay metrics and the Go/process collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Emails handed to the transport, by result.",
		}, []string{"result"}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Latency of a single email send.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Relay invocations by kind (submission|test) and result.",
		}, []string{"kind", "result"}),
		polledRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_rows_total",
			Help:      "New rows discovered by the poller.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Poll runs that failed.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.deliveries, m.sendDuration, m.invocations, m.polledRows, m.pollErrors,
		m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves /metrics for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// WatchGauge registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) WatchGauge(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) Delivery(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result(ok)).Inc()
	m.sendDuration.Observe(took.Seconds())
}

func (m *Metrics) Invocation(kind string, ok bool) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(kind, result(ok)).Inc()
}

func (m *Metrics) PolledRows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.polledRows.Add(float64(n))
}

func (m *Metrics) PollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
