package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campusflow/od-approval-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// approval workflow engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	workflowRequests prometheus.Counter
	workflowGroups   prometheus.Histogram
	stepDecisions    *prometheus.CounterVec
	notifDispatched  prometheus.Counter
	notifFailed      prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	workflowRequests := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workflow_requests_created_total",
		Help: "Total OD/leave requests created",
	})

	workflowGroups := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "workflow_request_groups",
		Help:    "Approval chains instantiated per request",
		Buckets: []float64{1, 2, 3, 4, 5, 8},
	})

	stepDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_step_decisions_total",
		Help: "Approval step decisions by outcome",
	}, []string{"outcome"})

	notifDispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Notification jobs delivered",
	})

	notifFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Notification deliveries that failed",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, workflowRequests, workflowGroups,
		stepDecisions, notifDispatched, notifFailed, cacheHits, cacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:         registry,
		handler:          handler,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		workflowRequests: workflowRequests,
		workflowGroups:   workflowGroups,
		stepDecisions:    stepDecisions,
		notifDispatched:  notifDispatched,
		notifFailed:      notifFailed,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordRequestCreated counts a created request and its chain fan-out.
func (m *MetricsService) RecordRequestCreated(groups int) {
	if m == nil {
		return
	}
	m.workflowRequests.Inc()
	m.workflowGroups.Observe(float64(groups))
}

// RecordStepDecision counts a step decision by outcome.
func (m *MetricsService) RecordStepDecision(outcome models.ApprovalStatus) {
	if m == nil {
		return
	}
	m.stepDecisions.WithLabelValues(string(outcome)).Inc()
}

// RecordNotificationDispatched counts a delivered notification job.
func (m *MetricsService) RecordNotificationDispatched() {
	if m == nil {
		return
	}
	m.notifDispatched.Inc()
}

// RecordNotificationFailed counts a failed notification delivery.
func (m *MetricsService) RecordNotificationFailed() {
	if m == nil {
		return
	}
	m.notifFailed.Inc()
}

// RegisterQueueDepth exposes a gauge following a job queue's buffered backlog.
func (m *MetricsService) RegisterQueueDepth(queue string, depth func() int) {
	if m == nil || depth == nil {
		return
	}
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "jobs_queue_depth",
		Help:        "Jobs buffered in an in-memory queue",
		ConstLabels: prometheus.Labels{"queue": queue},
	}, func() float64 { return float64(depth()) })
	m.registry.MustRegister(gauge)
}

// RecordCacheOperation counts cache hit/miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
