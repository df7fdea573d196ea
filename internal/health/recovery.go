package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/trungvv/ripcord/internal/infra/storage"
	"github.com/trungvv/ripcord/internal/metrics"
)

var errRestartLimit = errors.New("restart limit reached within window")

// Action is one step of a recovery chain. Actions within a chain are tried
// in registration order; the first success stops the chain.
type Action struct {
	Name string
	Run  func(ctx context.Context) error

	// restartComponent marks the step as a restart escalation; Register
	// binds Run to the manager's restart valve for that component.
	restartComponent string
}

// RestartAction returns a chain step that escalates to a full component
// restart through the manager's restart valve.
func RestartAction(component string) Action {
	return Action{
		Name:             "restart_" + component,
		restartComponent: component,
	}
}

const (
	// handleCooldown suppresses re-running a chain for the same issue type
	// while the previous run's effect is still settling.
	handleCooldown = time.Minute

	restartWindow = 5 * time.Minute
	restartLimit  = 3
)

// RecoveryManager maps issue types to recovery chains and keeps a bounded
// audit trail of every action attempted.
type RecoveryManager struct {
	history storage.RecoveryLog
	metrics *metrics.Aggregator
	log     *slog.Logger

	mu        sync.Mutex
	chains    map[string][]Action
	lastRun   map[string]time.Time
	restarts  []time.Time
	degraded  bool
	restartCh chan string

	now func() time.Time
}

// NewRecoveryManager creates a manager. history and agg may be nil.
func NewRecoveryManager(history storage.RecoveryLog, agg *metrics.Aggregator, log *slog.Logger) *RecoveryManager {
	if log == nil {
		log = slog.Default()
	}
	return &RecoveryManager{
		history:   history,
		metrics:   agg,
		log:       log,
		chains:    make(map[string][]Action),
		lastRun:   make(map[string]time.Time),
		restartCh: make(chan string, 1),
		now:       time.Now,
	}
}

// Register installs the chain for an issue type, replacing any previous one.
// RestartAction placeholders are bound to the restart valve here.
func (r *RecoveryManager) Register(issueType string, actions ...Action) {
	bound := make([]Action, len(actions))
	for i, a := range actions {
		if a.Run == nil {
			component := a.restartComponent
			if component == "" {
				component = a.Name
			}
			bound[i] = Action{Name: a.Name, Run: func(ctx context.Context) error {
				return r.requestRestart(component)
			}}
			continue
		}
		bound[i] = a
	}
	r.mu.Lock()
	r.chains[issueType] = bound
	r.mu.Unlock()
}

// Handle runs the chain registered for the issue, if any and if not within
// the cooldown for that issue type.
func (r *RecoveryManager) Handle(ctx context.Context, issue Issue) {
	r.mu.Lock()
	chain, ok := r.chains[issue.Type]
	if !ok {
		r.mu.Unlock()
		return
	}
	if last, seen := r.lastRun[issue.Type]; seen && r.now().Sub(last) < handleCooldown {
		r.mu.Unlock()
		return
	}
	r.lastRun[issue.Type] = r.now()
	r.mu.Unlock()

	r.log.Info("running recovery chain", "issue", issue.Type, "detail", issue.Detail)

	for _, action := range chain {
		err := action.Run(ctx)
		r.record(ctx, issue.Type, action.Name, err)
		if err == nil {
			r.log.Info("recovery action succeeded", "issue", issue.Type, "action", action.Name)
			return
		}
		r.log.Warn("recovery action failed", "issue", issue.Type, "action", action.Name, "error", err)
	}
	r.log.Error("recovery chain exhausted", "issue", issue.Type)
}

func (r *RecoveryManager) record(ctx context.Context, issueType, action string, err error) {
	if r.metrics != nil {
		r.metrics.RecoveryAction(action, err == nil)
	}
	if r.history == nil {
		return
	}
	entry := storage.RecoveryEntry{
		At:        r.now(),
		IssueType: issueType,
		Action:    action,
		Success:   err == nil,
	}
	if err != nil {
		entry.Detail = err.Error()
	}
	if logErr := r.history.Append(ctx, entry); logErr != nil {
		r.log.Warn("recovery history append failed", "error", logErr)
	}
}

// requestRestart asks the supervisor to restart a component. At most
// restartLimit restarts may happen per restartWindow; beyond that the
// manager raises a standing degraded signal instead of thrashing.
func (r *RecoveryManager) requestRestart(component string) error {
	r.mu.Lock()
	cutoff := r.now().Add(-restartWindow)
	kept := r.restarts[:0]
	for _, t := range r.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.restarts = kept

	if len(r.restarts) >= restartLimit {
		r.degraded = true
		r.mu.Unlock()
		r.log.Error("restart limit reached, raising standing degraded signal", "component", component)
		return errRestartLimit
	}
	r.restarts = append(r.restarts, r.now())
	r.mu.Unlock()

	select {
	case r.restartCh <- component:
	default:
		// A restart is already pending.
	}
	return nil
}

// RestartRequests delivers components the recovery chains want restarted.
func (r *RecoveryManager) RestartRequests() <-chan string {
	return r.restartCh
}

// Degraded reports the standing signal raised when restarts keep failing to
// clear an issue. It stays up until ClearDegraded.
func (r *RecoveryManager) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// ClearDegraded drops the standing signal, typically after an operator
// intervened.
func (r *RecoveryManager) ClearDegraded() {
	r.mu.Lock()
	r.degraded = false
	r.restarts = nil
	r.mu.Unlock()
}

// History returns the most recent recovery attempts, newest first.
func (r *RecoveryManager) History(ctx context.Context, limit int) ([]storage.RecoveryEntry, error) {
	if r.history == nil {
		return nil, nil
	}
	return r.history.Recent(ctx, limit)
}
