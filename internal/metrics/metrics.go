package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mongo-query-top/internal/query"
)

const namespace = "mqt"

// Metrics holds the collectors of one process. Each instance has its own
// registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	PollsTotal     *prometheus.CounterVec
	PollDuration   prometheus.Histogram
	Operations     *prometheus.GaugeVec
	KillsTotal     *prometheus.CounterVec
	SnapshotsTotal *prometheus.CounterVec
	AlertsTotal    *prometheus.CounterVec
	AdviceRequests *prometheus.CounterVec
	StreamClients  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "currentOp polls by result",
		},
		[]string{"result"},
	)

	m.PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Round trip time of currentOp",
			Buckets:   prometheus.DefBuckets,
		},
	)

	m.Operations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operations",
			Help:      "Operations seen in the last poll",
		},
		[]string{"state"},
	)

	m.KillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kills_total",
			Help:      "killOp commands by result",
		},
		[]string{"result"},
	)

	m.SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Files written to disk, by trigger",
		},
		[]string{"trigger"},
	)

	m.AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Slack alerts by result",
		},
		[]string{"result"},
	)

	m.AdviceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advice_requests_total",
			Help:      "Index advice requests by result",
		},
		[]string{"result"},
	)

	m.StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected websocket clients",
		},
	)

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PollsTotal,
		m.PollDuration,
		m.Operations,
		m.KillsTotal,
		m.SnapshotsTotal,
		m.AlertsTotal,
		m.AdviceRequests,
		m.StreamClients,
	)

	return m
}

// Result is the label value for an outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObservePoll records one currentOp round trip.
func (m *Metrics) ObservePoll(took time.Duration, err error) {
	m.PollsTotal.WithLabelValues(Result(err)).Inc()
	if err == nil {
		m.PollDuration.Observe(took.Seconds())
	}
}

// ObserveSummary publishes the counts of the last poll.
func (m *Metrics) ObserveSummary(s query.Summary) {
	m.Operations.WithLabelValues("total").Set(float64(s.TotalQueries))
	m.Operations.WithLabelValues("displayed").Set(float64(s.DisplayedQueries))
	m.Operations.WithLabelValues("skipped").Set(float64(s.SkippedQueries))
	m.Operations.WithLabelValues("unindexed").Set(float64(s.UnindexedQueries))
}

// Middleware tracks HTTP requests by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := NewStatusRecorder(w)
		next.ServeHTTP(rw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.Status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

func (rw *StatusRecorder) WriteHeader(code int) {
	rw.Status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (rw *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.Status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *StatusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
