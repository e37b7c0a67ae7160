// Package metrics exposes Prometheus metrics for the scheduler. The
// Listener type feeds them from the scheduler's listener hooks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all scheduler metrics.
	MetricsNamespace = "goquartz"

	// MetricsSubsystem is the subsystem for scheduler metrics.
	MetricsSubsystem = "scheduler"
)

// Metrics holds all Prometheus metrics for the scheduler.
type Metrics struct {
	// Execution metrics
	ExecutionsTotal          *prometheus.CounterVec
	ExecutionDurationSeconds *prometheus.HistogramVec
	ExecutionsRunning        prometheus.Gauge

	// Trigger metrics
	TriggersFiredTotal     *prometheus.CounterVec
	TriggerMisfiresTotal   *prometheus.CounterVec
	TriggersFinalizedTotal prometheus.Counter

	// Scheduling metrics
	JobsScheduledTotal   prometheus.Counter
	JobsUnscheduledTotal prometheus.Counter
	SchedulerErrorsTotal prometheus.Counter
	SchedulerRunning     prometheus.Gauge

	// Store gauges
	StoredJobs      prometheus.Gauge
	StoredTriggers  prometheus.Gauge
	StoredCalendars prometheus.Gauge

	// Worker pool gauges
	WorkerPoolSize prometheus.Gauge
	WorkersBusy    prometheus.Gauge
	WorkersIdle    prometheus.Gauge
}

// NewMetrics creates and registers all scheduler metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initExecutionMetrics(factory)
	m.initTriggerMetrics(factory)
	m.initSchedulingMetrics(factory)
	m.initStoreMetrics(factory)
	m.initWorkerMetrics(factory)

	return m
}

// initExecutionMetrics initializes job execution metrics.
func (m *Metrics) initExecutionMetrics(factory promauto.Factory) {
	m.ExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "executions_total",
			Help:      "Total number of job executions",
		},
		[]string{"status", "job_group"},
	)

	m.ExecutionDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "execution_duration_seconds",
			Help:      "Duration of job executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5min
		},
		[]string{"job_group"},
	)

	m.ExecutionsRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "executions_running",
			Help:      "Number of job executions currently in flight",
		},
	)
}

// initTriggerMetrics initializes trigger metrics.
func (m *Metrics) initTriggerMetrics(factory promauto.Factory) {
	m.TriggersFiredTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "triggers_fired_total",
			Help:      "Total number of trigger fires",
		},
		[]string{"trigger_group"},
	)

	m.TriggerMisfiresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "trigger_misfires_total",
			Help:      "Total number of trigger misfires",
		},
		[]string{"trigger_group"},
	)

	m.TriggersFinalizedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "triggers_finalized_total",
			Help:      "Total number of triggers whose schedule exhausted",
		},
	)
}

// initSchedulingMetrics initializes scheduling lifecycle metrics.
func (m *Metrics) initSchedulingMetrics(factory promauto.Factory) {
	m.JobsScheduledTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "jobs_scheduled_total",
			Help:      "Total number of triggers scheduled",
		},
	)

	m.JobsUnscheduledTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "jobs_unscheduled_total",
			Help:      "Total number of triggers unscheduled",
		},
	)

	m.SchedulerErrorsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "errors_total",
			Help:      "Total number of internal scheduler errors",
		},
	)

	m.SchedulerRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "running",
			Help:      "Whether the scheduler is started (1) or in standby/shutdown (0)",
		},
	)
}

// initStoreMetrics initializes job store gauges.
func (m *Metrics) initStoreMetrics(factory promauto.Factory) {
	m.StoredJobs = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "stored_jobs",
			Help:      "Number of jobs in the job store",
		},
	)

	m.StoredTriggers = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "stored_triggers",
			Help:      "Number of triggers in the job store",
		},
	)

	m.StoredCalendars = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "stored_calendars",
			Help:      "Number of calendars in the job store",
		},
	)
}

// initWorkerMetrics initializes worker pool gauges.
func (m *Metrics) initWorkerMetrics(factory promauto.Factory) {
	m.WorkerPoolSize = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "worker_pool_size",
			Help:      "Configured size of the worker pool",
		},
	)

	m.WorkersBusy = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "workers_busy",
			Help:      "Number of busy worker slots",
		},
	)

	m.WorkersIdle = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "workers_idle",
			Help:      "Number of idle worker slots",
		},
	)
}

// RecordExecution records a completed job execution.
func (m *Metrics) RecordExecution(status, jobGroup string, durationSeconds float64) {
	m.ExecutionsTotal.WithLabelValues(status, jobGroup).Inc()
	m.ExecutionDurationSeconds.WithLabelValues(jobGroup).Observe(durationSeconds)
}

// RecordExecutionStarted increments the running execution count.
func (m *Metrics) RecordExecutionStarted() {
	m.ExecutionsRunning.Inc()
}

// RecordExecutionFinished decrements the running execution count.
func (m *Metrics) RecordExecutionFinished() {
	m.ExecutionsRunning.Dec()
}

// RecordTriggerFired records a trigger fire.
func (m *Metrics) RecordTriggerFired(triggerGroup string) {
	m.TriggersFiredTotal.WithLabelValues(triggerGroup).Inc()
}

// RecordMisfire records a trigger misfire.
func (m *Metrics) RecordMisfire(triggerGroup string) {
	m.TriggerMisfiresTotal.WithLabelValues(triggerGroup).Inc()
}

// SetSchedulerRunning sets the running gauge.
func (m *Metrics) SetSchedulerRunning(running bool) {
	if running {
		m.SchedulerRunning.Set(1)
	} else {
		m.SchedulerRunning.Set(0)
	}
}

// SetStoreCounts sets the job store gauges.
func (m *Metrics) SetStoreCounts(jobs, triggers, calendars int) {
	m.StoredJobs.Set(float64(jobs))
	m.StoredTriggers.Set(float64(triggers))
	m.StoredCalendars.Set(float64(calendars))
}

// SetWorkerPoolStats sets the worker pool gauges.
func (m *Metrics) SetWorkerPoolStats(size, busy int) {
	m.WorkerPoolSize.Set(float64(size))
	m.WorkersBusy.Set(float64(busy))
	m.WorkersIdle.Set(float64(size - busy))
}
