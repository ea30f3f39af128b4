package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/botgate/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry    *prometheus.Registry
	namespace   string
	httpReqCnt  *prometheus.CounterVec
	httpDur     *prometheus.HistogramVec
	httpInfl    *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	sessions    *prometheus.GaugeVec
	retries     prometheus.Counter
	sendCnt     *prometheus.CounterVec
	sendDur     *prometheus.HistogramVec
	sendInfl    prometheus.Gauge
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "session_transitions_total"}, []string{"from", "to"})
	sessions := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "sessions"}, []string{"state"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "session_retries_total"})
	r.MustRegister(transitions, sessions, retries)

	sendCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "message_sends_total"}, []string{"status"})
	sendDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "message_send_duration_seconds", Buckets: buckets}, []string{"status"})
	sendInfl := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "message_sends_inflight"})
	r.MustRegister(sendCnt, sendDur, sendInfl)

	return &Metrics{
		registry:    r,
		namespace:   ns,
		httpReqCnt:  httpReqCnt,
		httpDur:     httpDur,
		httpInfl:    httpInfl,
		transitions: transitions,
		sessions:    sessions,
		retries:     retries,
		sendCnt:     sendCnt,
		sendDur:     sendDur,
		sendInfl:    sendInfl,
	}
}

// SessionTransition records a state change; an empty from means a new session
func (m *Metrics) SessionTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
	if from != "" {
		m.sessions.WithLabelValues(from).Dec()
	}
	m.sessions.WithLabelValues(to).Inc()
}

// SessionRemoved records that a session in state left the registry
func (m *Metrics) SessionRemoved(state string) {
	m.sessions.WithLabelValues(state).Dec()
}

func (m *Metrics) SessionRetryScheduled() {
	m.retries.Inc()
}

func (m *Metrics) SendStart() {
	m.sendInfl.Inc()
}

func (m *Metrics) SendDone(status string, since time.Time) {
	m.sendCnt.WithLabelValues(status).Inc()
	m.sendDur.WithLabelValues(status).Observe(time.Since(since).Seconds())
	m.sendInfl.Dec()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
