// Package metrics provides the aggregator shared by the orchestrator, retry
// engine, rotation pools and health monitor. It is created once by the
// composition root and injected; there is no ambient global state.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Aggregator owns a prometheus registry plus cheap atomic counters that the
// health monitor reads without touching prometheus internals.
type Aggregator struct {
	registry *prometheus.Registry

	tasksTotal      *prometheus.CounterVec
	taskDuration    prometheus.Histogram
	errorsTotal     *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	retryDelay      prometheus.Histogram
	queueDepth      prometheus.Gauge
	activeWorkers   prometheus.Gauge
	poolValid       *prometheus.GaugeVec
	poolReports     *prometheus.CounterVec
	recoveryActions *prometheus.CounterVec
	eventsDropped   prometheus.Counter

	completed atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64

	mu          sync.Mutex
	byCategory  map[string]int64
	lastSuccess time.Time
}

// New creates an aggregator with all collectors registered on a fresh registry.
func New() *Aggregator {
	a := &Aggregator{
		registry:   prometheus.NewRegistry(),
		byCategory: make(map[string]int64),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ripcord_tasks_total",
			Help: "Total tasks reaching a terminal state",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ripcord_task_duration_seconds",
			Help:    "Wall-clock duration of completed tasks",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ripcord_errors_total",
			Help: "Classified extraction failures",
		}, []string{"category"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ripcord_retries_total",
			Help: "Retry attempts scheduled by the backoff engine",
		}, []string{"category"}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ripcord_retry_delay_seconds",
			Help:    "Computed inter-attempt delays",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ripcord_queue_depth",
			Help: "Tasks waiting in the orchestrator queue",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ripcord_active_workers",
			Help: "Tasks currently processing",
		}),
		poolValid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ripcord_pool_valid_resources",
			Help: "Valid resources per rotation pool",
		}, []string{"kind"}),
		poolReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ripcord_pool_reports_total",
			Help: "Success/failure reports per rotation pool",
		}, []string{"kind", "outcome"}),
		recoveryActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ripcord_recovery_actions_total",
			Help: "Recovery actions executed by the health monitor",
		}, []string{"action", "outcome"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ripcord_events_dropped_total",
			Help: "Lifecycle events dropped on slow subscribers",
		}),
	}

	a.registry.MustRegister(
		a.tasksTotal, a.taskDuration, a.errorsTotal, a.retriesTotal,
		a.retryDelay, a.queueDepth, a.activeWorkers, a.poolValid,
		a.poolReports, a.recoveryActions, a.eventsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return a
}

// Registry exposes the owned registry for the HTTP /metrics handler.
func (a *Aggregator) Registry() *prometheus.Registry {
	return a.registry
}

// TaskCompleted records a successful task and its duration.
func (a *Aggregator) TaskCompleted(d time.Duration) {
	a.tasksTotal.WithLabelValues("completed").Inc()
	a.taskDuration.Observe(d.Seconds())
	a.completed.Add(1)
	a.mu.Lock()
	a.lastSuccess = time.Now()
	a.mu.Unlock()
}

// TaskFailed records a terminally failed task.
func (a *Aggregator) TaskFailed(category string) {
	a.tasksTotal.WithLabelValues("failed").Inc()
	a.failed.Add(1)
	a.Error(category)
}

// Error records one classified failure.
func (a *Aggregator) Error(category string) {
	a.errorsTotal.WithLabelValues(category).Inc()
	a.mu.Lock()
	a.byCategory[category]++
	a.mu.Unlock()
}

// Retry records a scheduled retry and its computed delay.
func (a *Aggregator) Retry(category string, delay time.Duration) {
	a.retriesTotal.WithLabelValues(category).Inc()
	a.retryDelay.Observe(delay.Seconds())
	a.retries.Add(1)
}

// SetQueueDepth updates the queue depth gauge.
func (a *Aggregator) SetQueueDepth(n int) { a.queueDepth.Set(float64(n)) }

// SetActiveWorkers updates the active worker gauge.
func (a *Aggregator) SetActiveWorkers(n int) { a.activeWorkers.Set(float64(n)) }

// SetPoolValid updates the valid-resource gauge for one pool.
func (a *Aggregator) SetPoolValid(kind string, n int) {
	a.poolValid.WithLabelValues(kind).Set(float64(n))
}

// PoolReport counts one success/failure report against a pool.
func (a *Aggregator) PoolReport(kind string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	a.poolReports.WithLabelValues(kind, outcome).Inc()
}

// RecoveryAction counts one executed recovery action.
func (a *Aggregator) RecoveryAction(action string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	a.recoveryActions.WithLabelValues(action, outcome).Inc()
}

// EventDropped counts a lifecycle event dropped on a full subscriber buffer.
func (a *Aggregator) EventDropped() { a.eventsDropped.Inc() }

// Snapshot is the cheap view the health monitor samples each cycle.
type Snapshot struct {
	Completed        int64            `json:"completed"`
	Failed           int64            `json:"failed"`
	Retries          int64            `json:"retries"`
	SuccessRate      float64          `json:"success_rate"`
	ErrorsByCategory map[string]int64 `json:"errors_by_category"`
	LastSuccess      time.Time        `json:"last_success"`
}

// Snapshot returns current aggregate counters.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		Completed: a.completed.Load(),
		Failed:    a.failed.Load(),
		Retries:   a.retries.Load(),
	}
	total := s.Completed + s.Failed
	if total > 0 {
		s.SuccessRate = float64(s.Completed) / float64(total)
	} else {
		s.SuccessRate = 1
	}

	a.mu.Lock()
	s.LastSuccess = a.lastSuccess
	s.ErrorsByCategory = make(map[string]int64, len(a.byCategory))
	for k, v := range a.byCategory {
		s.ErrorsByCategory[k] = v
	}
	a.mu.Unlock()
	return s
}
