package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds the engine's Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	EventsPublishedTotal  prometheus.Counter
	EventsHandledTotal    *prometheus.CounterVec
	ActionExecutionsTotal *prometheus.CounterVec
	RetriesTotal          *prometheus.CounterVec
	LockAcquisitionsTotal *prometheus.CounterVec
	LockWaitDuration      prometheus.Histogram
	TransitionDuration    *prometheus.HistogramVec
	SyncPointsClosedTotal *prometheus.CounterVec
	TimersFiredTotal      prometheus.Counter
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	registry              *prometheus.Registry
}

// InitMetrics creates the instruments and registers them on a fresh registry.
func InitMetrics() *Metrics {
	m := &Metrics{
		EventsPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventflow_events_published_total",
			Help: "Total number of events published on the stream.",
		}),
		EventsHandledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventflow_events_handled_total",
			Help: "Total number of stream deliveries handled.",
		}, []string{"outcome"}),
		ActionExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventflow_action_executions_total",
			Help: "Total number of action executions.",
		}, []string{"action", "outcome"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventflow_retries_total",
			Help: "Total number of retries by error category.",
		}, []string{"category"}),
		LockAcquisitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventflow_lock_acquisitions_total",
			Help: "Total number of distributed lock acquisition attempts.",
		}, []string{"outcome"}),
		LockWaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventflow_lock_wait_seconds",
			Help:    "Time spent waiting for distributed locks.",
			Buckets: durationBuckets,
		}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventflow_transition_duration_seconds",
			Help:    "Time to apply one transition including its actions.",
			Buckets: durationBuckets,
		}, []string{"workflow"}),
		SyncPointsClosedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventflow_sync_points_closed_total",
			Help: "Total number of sync points that completed or failed.",
		}, []string{"status"}),
		TimersFiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventflow_timers_fired_total",
			Help: "Total number of workflow timers fired.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: durationBuckets,
		}, []string{"method", "path_pattern"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.EventsPublishedTotal,
		m.EventsHandledTotal,
		m.ActionExecutionsTotal,
		m.RetriesTotal,
		m.LockAcquisitionsTotal,
		m.LockWaitDuration,
		m.TransitionDuration,
		m.SyncPointsClosedTotal,
		m.TimersFiredTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EventPublished() {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.Inc()
}

func (m *Metrics) EventHandled(outcome string) {
	if m == nil {
		return
	}
	m.EventsHandledTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ActionExecuted(action string, outcome string) {
	if m == nil {
		return
	}
	m.ActionExecutionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) Retried(category string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(category).Inc()
}

// LockObserved matches lock.Config.Observe.
func (m *Metrics) LockObserved(acquired bool, waited time.Duration) {
	if m == nil {
		return
	}
	outcome := "acquired"
	if !acquired {
		outcome = "failed"
	}
	m.LockAcquisitionsTotal.WithLabelValues(outcome).Inc()
	m.LockWaitDuration.Observe(waited.Seconds())
}

func (m *Metrics) TransitionObserved(workflow string, d time.Duration) {
	if m == nil {
		return
	}
	m.TransitionDuration.WithLabelValues(workflow).Observe(d.Seconds())
}

func (m *Metrics) SyncPointClosed(status string) {
	if m == nil {
		return
	}
	m.SyncPointsClosedTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) TimerFired() {
	if m == nil {
		return
	}
	m.TimersFiredTotal.Inc()
}

func (m *Metrics) HTTPObserved(method string, pattern string, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(d.Seconds())
}
