package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/trungvv/ripcord/internal/classify"
)

func newTestEngine(policy Policy) (*Engine, *[]time.Duration) {
	policy.JitterFraction = 0
	e := NewEngine(classify.New(), policy, nil, nil)
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	e.randFn = func() float64 { return 0 }
	return e, &slept
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	e, slept := newTestEngine(DefaultPolicy())

	calls := 0
	result, err := e.Execute(context.Background(), "u1", 5, func(ctx context.Context, attempt int) (any, error) {
		calls++
		return "ok", nil
	}, Callbacks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" || calls != 1 || len(*slept) != 0 {
		t.Fatalf("result=%v calls=%d sleeps=%d", result, calls, len(*slept))
	}
}

func TestExecuteNonRetryableSingleCallNoSleep(t *testing.T) {
	e, slept := newTestEngine(DefaultPolicy())

	calls := 0
	_, err := e.Execute(context.Background(), "u1", 10, func(ctx context.Context, attempt int) (any, error) {
		calls++
		return nil, errors.New("ERROR: Video unavailable")
	}, Callbacks{})

	if calls != 1 {
		t.Fatalf("calls = %d, want exactly 1", calls)
	}
	if len(*slept) != 0 {
		t.Fatal("non-retryable failure must never sleep")
	}

	var term *TerminalError
	if !errors.As(err, &term) {
		t.Fatalf("want *TerminalError, got %T", err)
	}
	if term.Classification.Category != classify.CategoryContentUnavailable {
		t.Errorf("category = %s", term.Classification.Category)
	}
	if len(term.Attempts) != 1 {
		t.Errorf("attempt history = %d entries", len(term.Attempts))
	}
}

func TestExecuteRateLimitScenario(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())

	swaps := 0
	cb := Callbacks{
		SwapResource: func(ctx context.Context, cl classify.Classification) error {
			swaps++
			if cl.Category != classify.CategoryRateLimit {
				t.Errorf("swap classification = %s", cl.Category)
			}
			return nil
		},
	}

	calls := 0
	result, err := e.Execute(context.Background(), "https://example.com/v", 5, func(ctx context.Context, attempt int) (any, error) {
		calls++
		if calls < 5 {
			return nil, errors.New("HTTP Error 429 Too Many Requests")
		}
		return "payload", nil
	}, cb)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 5 || result != "payload" {
		t.Fatalf("calls=%d result=%v", calls, result)
	}
	if swaps != 4 {
		t.Fatalf("swap callback invoked %d times, want 4", swaps)
	}
}

func TestExecuteDelaysMonotonic(t *testing.T) {
	e, slept := newTestEngine(DefaultPolicy())

	_, err := e.Execute(context.Background(), "u1", 6, func(ctx context.Context, attempt int) (any, error) {
		return nil, errors.New("connection reset by peer")
	}, Callbacks{})
	if err == nil {
		t.Fatal("want terminal error")
	}

	if len(*slept) != 5 {
		t.Fatalf("sleeps = %d, want 5", len(*slept))
	}
	for i := 1; i < len(*slept); i++ {
		if (*slept)[i] < (*slept)[i-1] {
			t.Fatalf("delay %d (%v) < delay %d (%v)", i, (*slept)[i], i-1, (*slept)[i-1])
		}
	}
}

func TestExecuteDelayCapped(t *testing.T) {
	p := DefaultPolicy()
	p.SpiralThreshold = 100 // isolate the cap from damping
	e, slept := newTestEngine(p)

	_, _ = e.Execute(context.Background(), "u1", 12, func(ctx context.Context, attempt int) (any, error) {
		return nil, errors.New("read operation timed out")
	}, Callbacks{})

	cap := p.PerCategory[classify.CategoryTimeout].Cap
	for i, d := range *slept {
		if d > cap {
			t.Fatalf("delay %d = %v exceeds cap %v", i, d, cap)
		}
	}
	if (*slept)[len(*slept)-1] != cap {
		t.Fatalf("final delay = %v, want cap %v", (*slept)[len(*slept)-1], cap)
	}
}

func TestExecuteMaxAttemptsOne(t *testing.T) {
	e, slept := newTestEngine(DefaultPolicy())

	calls := 0
	_, err := e.Execute(context.Background(), "u1", 1, func(ctx context.Context, attempt int) (any, error) {
		calls++
		return nil, errors.New("connection refused")
	}, Callbacks{})

	if calls != 1 || len(*slept) != 0 {
		t.Fatalf("calls=%d sleeps=%d", calls, len(*slept))
	}
	var term *TerminalError
	if !errors.As(err, &term) || term.Classification.Category != classify.CategoryNetwork {
		t.Fatalf("classification still computed for diagnostics: %v", err)
	}
}

func TestExecuteCriticalSeverityCapsAttempts(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())

	calls := 0
	_, err := e.Execute(context.Background(), "u1", 10, func(ctx context.Context, attempt int) (any, error) {
		calls++
		return nil, errors.New("please solve the captcha to continue")
	}, Callbacks{})

	if err == nil {
		t.Fatal("want terminal error")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (critical cap)", calls)
	}
}

func TestExecuteCallbackFailureSwallowed(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())

	calls := 0
	_, err := e.Execute(context.Background(), "u1", 2, func(ctx context.Context, attempt int) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("429 too many requests")
		}
		return "ok", nil
	}, Callbacks{
		SwapResource: func(ctx context.Context, cl classify.Classification) error {
			return errors.New("no spare proxies")
		},
	})

	if err != nil {
		t.Fatalf("failed recovery action aborted the loop: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestExecuteSpiralDamping(t *testing.T) {
	p := DefaultPolicy()
	// Flat schedule so any growth comes from the spiral factor alone.
	p.PerCategory[classify.CategoryNetwork] = Timing{Base: time.Second, Multiplier: 1, Cap: time.Hour}
	e, slept := newTestEngine(p)

	_, _ = e.Execute(context.Background(), "chronic", 8, func(ctx context.Context, attempt int) (any, error) {
		return nil, errors.New("connection reset by peer")
	}, Callbacks{})

	if (*slept)[0] != time.Second {
		t.Fatalf("first delay = %v", (*slept)[0])
	}
	last := (*slept)[len(*slept)-1]
	if last <= time.Second {
		t.Fatal("chronic pattern not dampened")
	}
	if last > 3*time.Second {
		t.Fatalf("damping factor exceeds cap: %v", last)
	}
}

func TestExecuteGlobalLoadShedding(t *testing.T) {
	p := DefaultPolicy()
	p.PerCategory[classify.CategoryNetwork] = Timing{Base: time.Second, Multiplier: 1, Cap: time.Hour}
	e, slept := newTestEngine(p)

	// Push the rolling failure rate over the shed threshold.
	for i := 0; i < 90; i++ {
		e.recordOutcome(fmt.Sprintf("t%d", i), false)
	}

	_, _ = e.Execute(context.Background(), "u1", 2, func(ctx context.Context, attempt int) (any, error) {
		return nil, errors.New("connection reset by peer")
	}, Callbacks{})

	if (*slept)[0] != 2*time.Second {
		t.Fatalf("delay = %v, want doubled 2s under load shedding", (*slept)[0])
	}
}

func TestExecuteCancelledSleepAborts(t *testing.T) {
	e := NewEngine(classify.New(), DefaultPolicy(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	e.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	_, err := e.Execute(ctx, "u1", 5, func(ctx context.Context, attempt int) (any, error) {
		calls++
		return nil, errors.New("connection refused")
	}, Callbacks{})

	if calls != 1 {
		t.Fatalf("calls = %d, cancellation must abort the pending sleep", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestExecuteCancelledAttemptNotRecorded(t *testing.T) {
	e, slept := newTestEngine(DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())

	_, err := e.Execute(ctx, "u1", 5, func(ctx context.Context, attempt int) (any, error) {
		cancel()
		return nil, ctx.Err()
	}, Callbacks{})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	var term *TerminalError
	if errors.As(err, &term) {
		t.Fatal("cancellation must not be wrapped as a classified terminal failure")
	}
	if len(*slept) != 0 {
		t.Fatal("cancellation must not schedule a retry")
	}
	if rate := e.GlobalFailureRate(); rate != 0 {
		t.Fatalf("global failure rate = %v, cancellation must not count as an outcome", rate)
	}
}

func TestConsecutiveFailuresClearedOnSuccess(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())

	calls := 0
	_, _ = e.Execute(context.Background(), "u1", 3, func(ctx context.Context, attempt int) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("timeout")
		}
		return "ok", nil
	}, Callbacks{})

	if got := e.ConsecutiveFailures("u1"); got != 0 {
		t.Fatalf("consecutive failures = %d after success", got)
	}
}
