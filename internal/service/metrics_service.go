package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation on a private registry.
// All methods are safe on a nil receiver.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	promotions      *prometheus.CounterVec
	lockWait        prometheus.Histogram
	lockTimeouts    prometheus.Counter
	sweepRuns       *prometheus.CounterVec
	sweepDuration   *prometheus.HistogramVec
	holds           *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers the registrar collectors.
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

	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_operations_total",
		Help: "Registration operations by operation and outcome",
	}, []string{"operation", "outcome"})

	promotions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_waitlist_promotions_total",
		Help: "Waitlist promotion attempts by outcome",
	}, []string{"outcome"})

	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "registrar_lock_wait_seconds",
		Help:    "Time spent acquiring section and student locks",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	lockTimeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registrar_lock_timeouts_total",
		Help: "Lock acquisitions that timed out and surfaced as BUSY",
	})

	sweepRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_sweep_runs_total",
		Help: "Periodic sweep executions by job and result",
	}, []string{"job", "result"})

	sweepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registrar_sweep_duration_seconds",
		Help:    "Duration of periodic sweeps",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	holds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_financial_holds_total",
		Help: "Financial holds raised or cleared by the invoice sweep",
	}, []string{"action"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_notifications_total",
		Help: "Notification deliveries by kind and result",
	}, []string{"kind", "result"})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
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

	registry.MustRegister(requestDuration, requestTotal, registrations, promotions, lockWait, lockTimeouts,
		sweepRuns, sweepDuration, holds, notifications, cacheHitRatio, cacheHits, cacheMisses, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		registrations:   registrations,
		promotions:      promotions,
		lockWait:        lockWait,
		lockTimeouts:    lockTimeouts,
		sweepRuns:       sweepRuns,
		sweepDuration:   sweepDuration,
		holds:           holds,
		notifications:   notifications,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordOperation counts a registration operation outcome (enrolled, waitlisted,
// or an error code such as CAPACITY_FULL).
func (m *MetricsService) RecordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(operation, outcome).Inc()
}

// RecordPromotion counts promoted, requeued and skipped waitlist entries.
func (m *MetricsService) RecordPromotion(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.promotions.WithLabelValues(outcome).Add(float64(n))
}

// ObserveLockWait records lock acquisition latency.
func (m *MetricsService) ObserveLockWait(duration time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	m.lockWait.Observe(duration.Seconds())
	if timedOut {
		m.lockTimeouts.Inc()
	}
}

// RecordSweep is a jobs.RunObserver for the periodic sweeps.
func (m *MetricsService) RecordSweep(job string, ran bool, duration time.Duration, err error) {
	if m == nil {
		return
	}
	switch {
	case !ran:
		m.sweepRuns.WithLabelValues(job, "skipped").Inc()
		return
	case err != nil:
		m.sweepRuns.WithLabelValues(job, "error").Inc()
	default:
		m.sweepRuns.WithLabelValues(job, "ok").Inc()
	}
	m.sweepDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordHolds counts raised or cleared holds.
func (m *MetricsService) RecordHolds(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.holds.WithLabelValues(action).Add(float64(n))
}

// RecordNotification counts a delivery attempt.
func (m *MetricsService) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}
