// Package retry executes operations under a classified backoff schedule,
// firing recovery callbacks between attempts.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/trungvv/ripcord/internal/classify"
	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/metrics"
)

// Operation is one retryable unit of work. attempt is 1-indexed.
type Operation func(ctx context.Context, attempt int) (any, error)

// Callbacks are the caller-supplied recovery hooks. Each is invoked only when
// the classification asks for it; individual failures are logged and
// swallowed so a broken recovery path never aborts the retry loop.
type Callbacks struct {
	SwapResource      func(ctx context.Context, cl classify.Classification) error
	RefreshCredential func(ctx context.Context, cl classify.Classification) error
	SolveChallenge    func(ctx context.Context, cl classify.Classification) error
}

// TerminalError is returned after exhaustion or a non-retryable failure. It
// retains the full attempt history for diagnosis.
type TerminalError struct {
	Classification classify.Classification
	Attempts       []domain.AttemptFailure
	Err            error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", e.Classification.Category, len(e.Attempts), e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

const outcomeWindow = 100

// Engine runs operations with per-category exponential backoff, failure
// spiral damping and a global load-shedding valve.
type Engine struct {
	classifier *classify.Classifier
	policy     Policy
	metrics    *metrics.Aggregator
	log        *slog.Logger

	mu          sync.Mutex
	outcomes    []bool // rolling window of recent attempt outcomes
	consecutive map[string]int

	// test seams
	sleep  func(ctx context.Context, d time.Duration) error
	randFn func() float64
}

// NewEngine creates an engine. metrics may be nil in tests.
func NewEngine(classifier *classify.Classifier, policy Policy, agg *metrics.Aggregator, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		classifier:  classifier,
		policy:      policy,
		metrics:     agg,
		log:         log,
		consecutive: make(map[string]int),
		sleep:       sleepCtx,
		randFn:      rand.Float64,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Execute runs op until it succeeds, becomes non-retryable, or maxAttempts is
// exhausted. target feeds the failure-spiral pattern key.
func (e *Engine) Execute(ctx context.Context, target string, maxAttempts int, op Operation, cb Callbacks) (any, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var history []domain.AttemptFailure
	patterns := make(map[string]int) // (category, target) recurrences this session
	effectiveMax := maxAttempts

	for attempt := 1; ; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			e.recordOutcome(target, true)
			return result, nil
		}

		// Cancellation aborts the session without classification: it says
		// nothing about the target and must not pollute the outcome window.
		if ctx.Err() != nil {
			return nil, err
		}

		cl := e.classifier.ClassifyError(err)
		e.recordOutcome(target, false)
		if e.metrics != nil {
			e.metrics.Error(string(cl.Category))
		}

		history = append(history, domain.AttemptFailure{
			At:       time.Now(),
			Category: string(cl.Category),
			Message:  err.Error(),
		})

		// Expensive recovery is not retried indefinitely.
		if cl.Severity == classify.SeverityCritical && e.policy.CriticalMaxAttempts < effectiveMax {
			effectiveMax = e.policy.CriticalMaxAttempts
		}

		if !cl.Retryable || attempt >= effectiveMax {
			return nil, &TerminalError{Classification: cl, Attempts: history, Err: err}
		}

		key := string(cl.Category) + "|" + target
		patterns[key]++
		delay := e.computeDelay(cl.Category, attempt, patterns[key])

		if e.metrics != nil {
			e.metrics.Retry(string(cl.Category), delay)
		}
		e.log.Warn("attempt failed, retrying",
			"target", target,
			"attempt", attempt,
			"category", cl.Category,
			"delay", delay,
			"error", err)

		e.runCallbacks(ctx, cl, cb)

		if err := e.sleep(ctx, delay); err != nil {
			return nil, &TerminalError{Classification: cl, Attempts: history, Err: err}
		}
	}
}

// computeDelay applies the category schedule, spiral damping, the global
// load-shedding valve and jitter, in that order.
func (e *Engine) computeDelay(cat classify.Category, attempt, patternCount int) time.Duration {
	d := float64(e.policy.baseDelay(cat, attempt))

	if patternCount > e.policy.SpiralThreshold {
		factor := 1 + float64(patternCount-e.policy.SpiralThreshold)*0.5
		if factor > e.policy.SpiralFactorCap {
			factor = e.policy.SpiralFactorCap
		}
		d *= factor
	}

	if e.GlobalFailureRate() > e.policy.ShedFailureRate {
		d *= 2
	}

	if e.policy.JitterFraction > 0 {
		d += d * e.policy.JitterFraction * e.randFn()
	}

	return time.Duration(d)
}

func (e *Engine) runCallbacks(ctx context.Context, cl classify.Classification, cb Callbacks) {
	type hook struct {
		name string
		want bool
		fn   func(context.Context, classify.Classification) error
	}
	for _, h := range []hook{
		{"swap_resource", cl.RequiresResourceSwap(), cb.SwapResource},
		{"refresh_credential", cl.RequiresCredentialRefresh(), cb.RefreshCredential},
		{"solve_challenge", cl.RequiresChallengeSolving(), cb.SolveChallenge},
	} {
		if !h.want || h.fn == nil {
			continue
		}
		if err := h.fn(ctx, cl); err != nil {
			e.log.Warn("recovery callback failed", "callback", h.name, "error", err)
		}
	}
}

func (e *Engine) recordOutcome(target string, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.outcomes = append(e.outcomes, success)
	if len(e.outcomes) > outcomeWindow {
		e.outcomes = e.outcomes[1:]
	}
	if success {
		delete(e.consecutive, target)
	} else {
		e.consecutive[target]++
	}
}

// GlobalFailureRate returns the failure rate over the rolling outcome window.
// Sampled by the health monitor and by the load-shedding valve.
func (e *Engine) GlobalFailureRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.outcomes) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range e.outcomes {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(e.outcomes))
}

// ConsecutiveFailures returns the uninterrupted failure count for a target.
func (e *Engine) ConsecutiveFailures(target string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutive[target]
}

// ResetPatterns clears rolling failure state; used by recovery actions after
// a resource-wide repair so stale history does not keep delays inflated.
func (e *Engine) ResetPatterns() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes = nil
	e.consecutive = make(map[string]int)
}
