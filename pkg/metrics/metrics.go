package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Project / queue metrics
	ProjectsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_projects_total",
			Help: "Total number of registered projects",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coordinator_queue_depth",
			Help: "Number of ready tasks per project",
		},
		[]string{"project"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coordinator_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	TasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_tasks_scheduled_total",
			Help: "Total number of tasks selected by the scheduler",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_tasks_failed_total",
			Help: "Total number of tasks that exhausted retries",
		},
	)

	TasksCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_tasks_cancelled_total",
			Help: "Total number of tasks cancelled by operator request",
		},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordinator_scheduling_latency_seconds",
			Help:    "Time taken to select the next task",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Ownership metrics
	OwnershipOrphansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_ownership_orphans_total",
			Help: "Total number of ownership records repaired by the orphan scanner",
		},
	)

	OwnershipDeadlocksBrokenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_ownership_deadlocks_broken_total",
			Help: "Total number of locks force-released by the deadlock detector",
		},
	)

	CheckoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordinator_checkout_duration_seconds",
			Help:    "Time taken to complete a checkout",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProcessingIssuesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_processing_issues_total",
			Help: "Number of issues currently owned by a process",
		},
	)

	// Quota metrics
	QuotaUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coordinator_quota_usage",
			Help: "Current usage per project and resource dimension",
		},
		[]string{"project", "resource"},
	)

	QuotaLimit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coordinator_quota_limit",
			Help: "Current effective quota per project and resource dimension",
		},
		[]string{"project", "resource"},
	)

	ElasticBorrowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_elastic_borrows_total",
			Help: "Total number of elastic-borrow events by project and resource",
		},
		[]string{"project", "resource"},
	)

	ReallocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordinator_reallocation_duration_seconds",
			Help:    "Time taken for a re-allocation sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Protocol metrics
	ProtocolRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_protocol_requests_total",
			Help: "Total number of control-plane commands by command name and outcome",
		},
		[]string{"command", "outcome"},
	)

	ProtocolRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coordinator_protocol_request_duration_seconds",
			Help:    "Control-plane command handling duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	ProtocolConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_protocol_connections_active",
			Help: "Number of currently connected control-plane clients",
		},
	)
)

func init() {
	prometheus.MustRegister(ProjectsTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksScheduled)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(TasksCancelled)
	prometheus.MustRegister(SchedulingLatency)

	prometheus.MustRegister(OwnershipOrphansTotal)
	prometheus.MustRegister(OwnershipDeadlocksBrokenTotal)
	prometheus.MustRegister(CheckoutDuration)
	prometheus.MustRegister(ProcessingIssuesTotal)

	prometheus.MustRegister(QuotaUsage)
	prometheus.MustRegister(QuotaLimit)
	prometheus.MustRegister(ElasticBorrowsTotal)
	prometheus.MustRegister(ReallocationDuration)

	prometheus.MustRegister(ProtocolRequestsTotal)
	prometheus.MustRegister(ProtocolRequestDuration)
	prometheus.MustRegister(ProtocolConnectionsActive)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
