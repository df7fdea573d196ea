package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Checker samples one subsystem. Implementations must be cheap; the monitor
// calls every checker once per cycle on one goroutine.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a closure into a Checker.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) CheckResult
}

func (c CheckerFunc) Name() string                          { return c.CheckerName }
func (c CheckerFunc) Check(ctx context.Context) CheckResult { return c.Fn(ctx) }

// Monitor runs all checkers on a fixed interval and hands issues to the
// recovery manager.
type Monitor struct {
	interval time.Duration
	checkers []Checker
	recovery *RecoveryManager
	log      *slog.Logger

	mu   sync.RWMutex
	last Report
}

// NewMonitor creates a monitor. recovery may be nil to disable automatic
// recovery.
func NewMonitor(interval time.Duration, recovery *RecoveryManager, log *slog.Logger, checkers ...Checker) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		interval: interval,
		checkers: checkers,
		recovery: recovery,
		log:      log,
		last:     Report{Status: StatusHealthy, Subsystems: map[string]CheckResult{}},
	}
}

// Run samples until ctx cancels. The first cycle happens immediately.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single monitor cycle.
func (m *Monitor) RunOnce(ctx context.Context) Report {
	report := Report{
		Status:     StatusHealthy,
		At:         time.Now(),
		Subsystems: make(map[string]CheckResult, len(m.checkers)),
	}

	var issues []Issue
	for _, c := range m.checkers {
		result := m.safeCheck(ctx, c)
		report.Subsystems[result.Name] = result
		report.Status = worse(report.Status, result.Status)
		issues = append(issues, result.Issues...)
	}

	if m.recovery != nil && m.recovery.Degraded() {
		report.Status = worse(report.Status, StatusCritical)
	}

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()

	if report.Status != StatusHealthy {
		m.log.Warn("health degraded", "status", report.Status, "issues", len(issues))
	}

	if m.recovery != nil {
		for _, issue := range issues {
			m.recovery.Handle(ctx, issue)
		}
	}
	return report
}

// safeCheck isolates a panicking or failing checker so one bad subsystem
// never takes the monitor down with it.
func (m *Monitor) safeCheck(ctx context.Context, c Checker) (result CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("health checker panicked", "checker", c.Name(), "panic", r)
			result = CheckResult{
				Name:   c.Name(),
				Status: StatusError,
				Detail: fmt.Sprintf("checker panicked: %v", r),
			}
		}
	}()
	result = c.Check(ctx)
	if result.Name == "" {
		result.Name = c.Name()
	}
	return result
}

// Report returns the last completed cycle.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
