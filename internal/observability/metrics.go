package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every custom collector the service exports.
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Task Metrics
	TasksSubmittedTotal    prometheus.Counter
	TasksProcessedTotal    *prometheus.CounterVec
	TaskProcessingDuration prometheus.Histogram
	TasksFailedTotal       *prometheus.CounterVec

	// Worker pool Metrics
	PoolQueueDepth    prometheus.Gauge
	PoolWorkers       prometheus.Gauge
	PoolBusyWorkers   prometheus.Gauge
	PoolRejectedTotal prometheus.Counter

	// Compute service Metrics
	ComputeRequestDuration *prometheus.HistogramVec

	// Reconciliation Metrics
	ReconcileLookupsTotal *prometheus.CounterVec
	ReconcileRepairsTotal prometheus.Counter
	ReconcileAnomalies    prometheus.Counter

	// Cache (Redis) Metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Queue (RabbitMQ) Metrics
	EventsPublishedTotal *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP Metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		// Task Metrics
		TasksSubmittedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "analysis_tasks_submitted_total",
				Help: "Total number of analysis tasks submitted",
			},
		),

		TasksProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_tasks_processed_total",
				Help: "Total number of analysis tasks that reached a terminal state",
			},
			[]string{"state"}, // COMPLETED, FAILED
		),

		TaskProcessingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "analysis_task_processing_duration_seconds",
				Help:    "Wall time from worker pickup to terminal state",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
		),

		TasksFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_tasks_failed_total",
				Help: "Total number of analysis tasks that failed, by reason",
			},
			[]string{"reason"},
		),

		// Worker pool Metrics
		PoolQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "analysis_pool_queue_depth",
				Help: "Jobs waiting in the dispatcher backlog",
			},
		),

		PoolWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "analysis_pool_workers",
				Help: "Live dispatcher workers (core plus overflow)",
			},
		),

		PoolBusyWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "analysis_pool_busy_workers",
				Help: "Dispatcher workers currently running a job",
			},
		),

		PoolRejectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "analysis_pool_rejected_total",
				Help: "Submissions rejected because the pool and its queue were full",
			},
		),

		// Compute Metrics
		ComputeRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "compute_request_duration_seconds",
				Help:    "Duration of compute service calls in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"}, // success, timeout, unavailable, rejected, error
		),

		// Reconciliation Metrics
		ReconcileLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_lookups_total",
				Help: "Result lookups that succeeded, by lookup key",
			},
			[]string{"key"},
		),

		ReconcileRepairsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reconcile_repairs_total",
				Help: "Results whose missing task link was attached during reconciliation",
			},
		),

		ReconcileAnomalies: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reconcile_anomalies_total",
				Help: "Completed tasks for which no result could be found",
			},
		),

		// Cache Metrics
		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"key_type"},
		),

		CacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"key_type"},
		),

		// Queue Metrics
		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_events_published_total",
				Help: "Task lifecycle events published to the message broker",
			},
			[]string{"routing_key", "status"},
		),
	}
}

// GlobalMetrics is registered on the default registry and scraped at /metrics.
var GlobalMetrics *Metrics

// InitMetrics initializes global metrics
func InitMetrics() {
	GlobalMetrics = NewMetrics(prometheus.DefaultRegisterer)
}
