package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trungvv/ripcord/internal/classify"
	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/infra/storage/memory"
	"github.com/trungvv/ripcord/internal/retry"
)

// blockingRunner records dispatch order and holds every task until released.
type blockingRunner struct {
	mu      sync.Mutex
	started []string
	release chan struct{}
	result  *domain.DownloadResult
	err     error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		release: make(chan struct{}),
		result:  &domain.DownloadResult{FilePath: "out.mp4"},
	}
}

func (r *blockingRunner) Run(ctx context.Context, task *domain.Task, notify func(domain.Event)) (*domain.DownloadResult, int, error) {
	r.mu.Lock()
	r.started = append(r.started, task.URL)
	r.mu.Unlock()

	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, 1, ctx.Err()
	}
	return r.result, 1, r.err
}

func (r *blockingRunner) startedURLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPriorityDispatchOrder(t *testing.T) {
	runner := newBlockingRunner()
	o := New(Config{Concurrency: 2}, runner, memory.NewTaskArchive(10), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3 normal submitted first, then 2 high; the two high tasks must be the
	// first two dispatched, in submission order.
	o.Submit("n1", domain.TaskOptions{Priority: domain.PriorityNormal})
	o.Submit("n2", domain.TaskOptions{Priority: domain.PriorityNormal})
	o.Submit("n3", domain.TaskOptions{Priority: domain.PriorityNormal})
	o.Submit("h1", domain.TaskOptions{Priority: domain.PriorityHigh})
	o.Submit("h2", domain.TaskOptions{Priority: domain.PriorityHigh})

	go o.Run(ctx)

	waitFor(t, func() bool { return len(runner.startedURLs()) == 2 })
	got := runner.startedURLs()
	if got[0] != "h1" || got[1] != "h2" {
		t.Fatalf("first dispatched = %v, want [h1 h2]", got)
	}

	// Freed slots refill from the head: normals follow in FIFO order.
	close(runner.release)
	waitFor(t, func() bool { return len(runner.startedURLs()) == 5 })
	got = runner.startedURLs()
	for i, want := range []string{"h1", "h2", "n1", "n2", "n3"} {
		if got[i] != want {
			t.Fatalf("dispatch order = %v", got)
		}
	}
}

func TestHighPriorityBeatsEarlierNormal(t *testing.T) {
	runner := newBlockingRunner()
	o := New(Config{Concurrency: 1}, runner, nil, nil, nil, nil)

	o.Submit("b-normal", domain.TaskOptions{Priority: domain.PriorityNormal})
	o.Submit("a-high", domain.TaskOptions{Priority: domain.PriorityHigh})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	waitFor(t, func() bool { return len(runner.startedURLs()) == 1 })
	if runner.startedURLs()[0] != "a-high" {
		t.Fatal("high-priority task submitted later must start first")
	}
}

func TestSubmitNeverBlocks(t *testing.T) {
	o := New(Config{Concurrency: 1}, newBlockingRunner(), nil, nil, nil, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			o.Submit("u", domain.TaskOptions{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submit blocked on queue capacity")
	}
	if got := o.Stats().QueueDepth; got != 1000 {
		t.Fatalf("queue depth = %d", got)
	}
}

func TestCancelQueuedTask(t *testing.T) {
	o := New(Config{Concurrency: 1}, newBlockingRunner(), memory.NewTaskArchive(10), nil, nil, nil)

	// No dispatch loop running: the task stays queued.
	id := o.Submit("u1", domain.TaskOptions{})
	if !o.Cancel(id) {
		t.Fatal("cancel of queued task must succeed")
	}
	if _, ok := o.Status(id); ok {
		t.Fatal("cancelled queued task must report not-found")
	}
	if o.Cancel(id) {
		t.Fatal("second cancel must report unknown")
	}
}

func TestCancelProcessingTask(t *testing.T) {
	runner := newBlockingRunner()
	archive := memory.NewTaskArchive(10)
	o := New(Config{Concurrency: 1}, runner, archive, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	id := o.Submit("u1", domain.TaskOptions{})
	waitFor(t, func() bool { return len(runner.startedURLs()) == 1 })

	if !o.Cancel(id) {
		t.Fatal("cancel of processing task must deliver a signal")
	}

	waitFor(t, func() bool {
		task, ok := o.Status(id)
		return ok && task.Status == domain.TaskFailed
	})
	task, _ := o.Status(id)
	if task.FailureCategory != "CANCELLED" {
		t.Fatalf("failure category = %s", task.FailureCategory)
	}
}

// A task cancelled while the runner was waiting out a backoff comes back as
// a terminal error wrapping the context error; it must still be reported as
// cancelled, with the attempt history kept.
func TestCancelDuringBackoffReportsCancelled(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	runner.result = nil
	runner.err = &retry.TerminalError{
		Classification: classify.Classification{Category: classify.CategoryNetwork},
		Attempts: []domain.AttemptFailure{
			{Category: string(classify.CategoryNetwork), Message: "connection refused"},
		},
		Err: context.Canceled,
	}

	o := New(Config{Concurrency: 1}, runner, memory.NewTaskArchive(10), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	id := o.Submit("u1", domain.TaskOptions{})
	waitFor(t, func() bool {
		task, ok := o.Status(id)
		return ok && task.Status == domain.TaskFailed
	})

	task, _ := o.Status(id)
	if task.FailureCategory != "CANCELLED" {
		t.Fatalf("failure category = %s", task.FailureCategory)
	}
	if len(task.Failures) != 1 || task.Failures[0].Message != "connection refused" {
		t.Fatalf("attempt history = %+v", task.Failures)
	}
}

func TestCancelUnknown(t *testing.T) {
	o := New(Config{}, newBlockingRunner(), nil, nil, nil, nil)
	if o.Cancel("nope") {
		t.Fatal("cancel of unknown task must return false")
	}
}

func TestConcurrencyBound(t *testing.T) {
	runner := newBlockingRunner()
	o := New(Config{Concurrency: 2}, runner, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	for i := 0; i < 6; i++ {
		o.Submit("u", domain.TaskOptions{})
	}

	waitFor(t, func() bool { return o.Stats().Active == 2 })
	time.Sleep(50 * time.Millisecond) // give an over-eager dispatcher rope
	if got := o.Stats().Active; got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}
	if got := o.Stats().QueueDepth; got != 4 {
		t.Fatalf("queue depth = %d, want 4", got)
	}
}

func TestTerminalTaskServedFromArchive(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	archive := memory.NewTaskArchive(10)
	o := New(Config{Concurrency: 1}, runner, archive, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	id := o.Submit("u1", domain.TaskOptions{})
	waitFor(t, func() bool {
		task, ok := o.Status(id)
		return ok && task.Status == domain.TaskCompleted
	})

	task, _ := o.Status(id)
	if task.Result == nil || task.Result.FilePath != "out.mp4" {
		t.Fatalf("result = %+v", task.Result)
	}
}

func TestFailedTaskRetainsAttemptHistory(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	runner.result = nil
	runner.err = &retry.TerminalError{
		Classification: classify.Classification{Category: classify.CategoryContentUnavailable},
		Attempts: []domain.AttemptFailure{
			{Category: string(classify.CategoryContentUnavailable), Message: "Video unavailable"},
		},
		Err: errors.New("Video unavailable"),
	}

	o := New(Config{Concurrency: 1}, runner, memory.NewTaskArchive(10), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	id := o.Submit("u1", domain.TaskOptions{})
	waitFor(t, func() bool {
		task, ok := o.Status(id)
		return ok && task.Status == domain.TaskFailed
	})

	task, _ := o.Status(id)
	if task.FailureCategory != string(classify.CategoryContentUnavailable) {
		t.Fatalf("category = %s", task.FailureCategory)
	}
	if len(task.Failures) != 1 || task.Failures[0].Message != "Video unavailable" {
		t.Fatalf("attempt history = %+v", task.Failures)
	}
	if task.FailureCause != "Video unavailable" {
		t.Fatalf("cause = %q", task.FailureCause)
	}
}

func TestEventLifecycle(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	bus := NewEventBus(16, nil)
	sub := bus.Subscribe()

	o := New(Config{Concurrency: 1}, runner, nil, bus, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	id := o.Submit("u1", domain.TaskOptions{})

	var types []domain.EventType
	deadline := time.After(2 * time.Second)
	for len(types) < 2 {
		select {
		case ev := <-sub:
			if ev.TaskID == id {
				types = append(types, ev.Type)
			}
		case <-deadline:
			t.Fatalf("events so far: %v", types)
		}
	}
	if types[0] != domain.EventStarted || types[1] != domain.EventCompleted {
		t.Fatalf("event order = %v", types)
	}
}

func TestEventBusNonBlocking(t *testing.T) {
	bus := NewEventBus(1, nil)
	_ = bus.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(domain.Event{Type: domain.EventProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
