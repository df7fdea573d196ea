// Package queue implements the download task orchestrator: an unbounded
// two-tier priority queue feeding a bounded set of concurrent workers.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/infra/storage"
	"github.com/trungvv/ripcord/internal/metrics"
	"github.com/trungvv/ripcord/internal/retry"
)

// TaskRunner executes one task through the resilience stack. It receives a
// clone of the task and must not retain it; attempts made are returned for
// the orchestrator to record.
type TaskRunner interface {
	Run(ctx context.Context, task *domain.Task, notify func(domain.Event)) (result *domain.DownloadResult, attempts int, err error)
}

// Config holds orchestrator settings.
type Config struct {
	// Concurrency bounds simultaneous processing; the logical queue itself
	// is unbounded.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	return c
}

type running struct {
	task   *domain.Task
	cancel context.CancelFunc
}

// Stats is the orchestrator's self-reported state for the health monitor.
type Stats struct {
	QueueDepth int `json:"queue_depth"`
	Active     int `json:"active"`
	Capacity   int `json:"capacity"`
}

// Orchestrator owns every task from submission to terminal state.
type Orchestrator struct {
	cfg     Config
	runner  TaskRunner
	archive storage.TaskArchive
	events  *EventBus
	metrics *metrics.Aggregator
	log     *slog.Logger

	mu      sync.Mutex
	pending []*domain.Task
	active  map[string]*running

	wake chan struct{}
}

// New creates an orchestrator.
func New(cfg Config, runner TaskRunner, archive storage.TaskArchive, events *EventBus, agg *metrics.Aggregator, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		runner:  runner,
		archive: archive,
		events:  events,
		metrics: agg,
		log:     log,
		active:  make(map[string]*running),
		wake:    make(chan struct{}, 1),
	}
}

// Submit enqueues a download. It always accepts and never blocks on queue
// capacity. High-priority tasks enter ahead of all normal-priority tasks
// but behind earlier high-priority ones; within a tier the order is FIFO.
func (o *Orchestrator) Submit(url string, opts domain.TaskOptions) string {
	if opts.Priority == "" {
		opts.Priority = domain.PriorityNormal
	}
	task := &domain.Task{
		ID:        uuid.New().String(),
		URL:       url,
		Options:   opts,
		Status:    domain.TaskQueued,
		CreatedAt: time.Now(),
	}

	o.mu.Lock()
	if opts.Priority == domain.PriorityHigh {
		idx := 0
		for idx < len(o.pending) && o.pending[idx].Options.Priority == domain.PriorityHigh {
			idx++
		}
		o.pending = append(o.pending, nil)
		copy(o.pending[idx+1:], o.pending[idx:])
		o.pending[idx] = task
	} else {
		o.pending = append(o.pending, task)
	}
	depth := len(o.pending)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.SetQueueDepth(depth)
	}
	o.log.Info("task submitted", "id", task.ID, "url", url, "priority", opts.Priority)
	o.notifyDispatch()
	return task.ID
}

// Status returns a snapshot of a task, or false when unknown. Terminal
// tasks are served from the archive.
func (o *Orchestrator) Status(id string) (*domain.Task, bool) {
	o.mu.Lock()
	if r, ok := o.active[id]; ok {
		t := r.task.Clone()
		o.mu.Unlock()
		return t, true
	}
	for _, t := range o.pending {
		if t.ID == id {
			c := t.Clone()
			o.mu.Unlock()
			return c, true
		}
	}
	o.mu.Unlock()

	if o.archive != nil {
		if task, err := o.archive.Get(context.Background(), id); err == nil {
			return task, true
		}
	}
	return nil, false
}

// Cancel removes a queued task immediately or signals a processing one to
// stop. Returns false for unknown or already-terminal tasks.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()

	for i, t := range o.pending {
		if t.ID == id {
			o.pending = append(o.pending[:i], o.pending[i+1:]...)
			depth := len(o.pending)
			o.mu.Unlock()
			if o.metrics != nil {
				o.metrics.SetQueueDepth(depth)
			}
			o.log.Info("queued task cancelled", "id", id)
			return true
		}
	}
	if r, ok := o.active[id]; ok {
		r.cancel()
		o.mu.Unlock()
		o.log.Info("cancellation signalled", "id", id)
		return true
	}

	o.mu.Unlock()
	return false
}

// Stats reports queue depth and worker occupancy.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		QueueDepth: len(o.pending),
		Active:     len(o.active),
		Capacity:   o.cfg.Concurrency,
	}
}

// Active returns snapshots of all processing tasks.
func (o *Orchestrator) Active() []*domain.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*domain.Task, 0, len(o.active))
	for _, r := range o.active {
		out = append(out, r.task.Clone())
	}
	return out
}

// Run drives the dispatch loop until ctx cancels. Freed slots are refilled
// immediately from the queue head.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		o.fill(ctx)
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		}
	}
}

func (o *Orchestrator) notifyDispatch() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// fill starts queued tasks while worker slots and queued work both exist.
func (o *Orchestrator) fill(ctx context.Context) {
	for {
		o.mu.Lock()
		if len(o.active) >= o.cfg.Concurrency || len(o.pending) == 0 {
			o.mu.Unlock()
			return
		}

		task := o.pending[0]
		o.pending = o.pending[1:]
		task.Status = domain.TaskProcessing
		task.StartedAt = time.Now()

		taskCtx, cancel := context.WithCancel(ctx)
		o.active[task.ID] = &running{task: task, cancel: cancel}
		depth, activeN := len(o.pending), len(o.active)
		o.mu.Unlock()

		if o.metrics != nil {
			o.metrics.SetQueueDepth(depth)
			o.metrics.SetActiveWorkers(activeN)
		}

		go o.execute(taskCtx, task)
	}
}

func (o *Orchestrator) execute(ctx context.Context, task *domain.Task) {
	o.publish(domain.Event{Type: domain.EventStarted, TaskID: task.ID, URL: task.URL, At: time.Now()})

	notify := func(ev domain.Event) {
		ev.TaskID = task.ID
		ev.URL = task.URL
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		o.publish(ev)
	}

	result, attempts, err := o.runner.Run(ctx, task.Clone(), notify)

	o.mu.Lock()
	delete(o.active, task.ID)
	task.Attempts = attempts
	task.CompletedAt = time.Now()

	if err == nil {
		task.Status = domain.TaskCompleted
		task.Result = result
	} else {
		task.Status = domain.TaskFailed
		var term *retry.TerminalError
		switch {
		// Cancellation wins over any wrapping so a cancelled task is never
		// misreported under a failure category.
		case errors.Is(err, context.Canceled):
			if errors.As(err, &term) {
				task.Failures = term.Attempts
			}
			task.FailureCategory = "CANCELLED"
			task.FailureCause = "cancelled by request"
		case errors.As(err, &term):
			task.Failures = term.Attempts
			task.FailureCategory = string(term.Classification.Category)
			task.FailureCause = terminalCause(term)
		default:
			task.FailureCategory = "UNKNOWN"
			task.FailureCause = err.Error()
		}
	}
	snapshot := task.Clone()
	activeN := len(o.active)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.SetActiveWorkers(activeN)
		if err == nil {
			o.metrics.TaskCompleted(snapshot.CompletedAt.Sub(snapshot.StartedAt))
		} else {
			o.metrics.TaskFailed(snapshot.FailureCategory)
		}
	}

	if o.archive != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if saveErr := o.archive.Save(saveCtx, snapshot); saveErr != nil {
			o.log.Warn("task archive failed", "id", task.ID, "error", saveErr)
		}
		cancel()
	}

	if err == nil {
		o.log.Info("task completed", "id", task.ID, "attempts", attempts)
		o.publish(domain.Event{Type: domain.EventCompleted, TaskID: task.ID, URL: task.URL, At: time.Now(), Attempt: attempts})
	} else {
		o.log.Warn("task failed", "id", task.ID, "attempts", attempts,
			"category", snapshot.FailureCategory, "cause", snapshot.FailureCause)
		o.publish(domain.Event{
			Type: domain.EventFailed, TaskID: task.ID, URL: task.URL, At: time.Now(),
			Attempt: attempts, Category: snapshot.FailureCategory, Message: snapshot.FailureCause,
		})
	}

	o.notifyDispatch()
}

func (o *Orchestrator) publish(ev domain.Event) {
	if o.events != nil {
		o.events.Publish(ev)
	}
}

// terminalCause renders the submitter-facing cause: the classified category
// plus the last attempt's message, never a raw stack trace.
func terminalCause(term *retry.TerminalError) string {
	if n := len(term.Attempts); n > 0 {
		return term.Attempts[n-1].Message
	}
	return term.Err.Error()
}
