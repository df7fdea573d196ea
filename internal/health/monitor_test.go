package health

import (
	"context"
	"testing"
)

func staticChecker(name string, status Status, issues ...Issue) Checker {
	return CheckerFunc{CheckerName: name, Fn: func(ctx context.Context) CheckResult {
		return CheckResult{Name: name, Status: status, Issues: issues}
	}}
}

func TestOverallStatusIsWorstSubsystem(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one warning", []Status{StatusHealthy, StatusWarning}, StatusWarning},
		{"critical wins", []Status{StatusWarning, StatusCritical, StatusHealthy}, StatusCritical},
		{"error wins", []Status{StatusCritical, StatusError}, StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var checkers []Checker
			for i, s := range tt.statuses {
				checkers = append(checkers, staticChecker(string(rune('a'+i)), s))
			}
			m := NewMonitor(0, nil, nil, checkers...)
			report := m.RunOnce(context.Background())
			if report.Status != tt.want {
				t.Fatalf("overall = %s, want %s", report.Status, tt.want)
			}
		})
	}
}

func TestPanickingCheckerIsIsolated(t *testing.T) {
	bad := CheckerFunc{CheckerName: "bad", Fn: func(ctx context.Context) CheckResult {
		panic("boom")
	}}
	m := NewMonitor(0, nil, nil, bad, staticChecker("good", StatusHealthy))

	report := m.RunOnce(context.Background())
	if report.Subsystems["bad"].Status != StatusError {
		t.Fatalf("bad subsystem = %+v", report.Subsystems["bad"])
	}
	if report.Subsystems["good"].Status != StatusHealthy {
		t.Fatal("healthy checker must still run after a panic")
	}
	if report.Status != StatusError {
		t.Fatalf("overall = %s", report.Status)
	}
}

func TestIssuesRouteToRecovery(t *testing.T) {
	var handled []string
	rec := NewRecoveryManager(nil, nil, nil)
	rec.Register("queue_backlog", Action{Name: "drain", Run: func(ctx context.Context) error {
		handled = append(handled, "drain")
		return nil
	}})

	issue := Issue{Type: "queue_backlog", Severity: StatusCritical, Detail: "depth 500"}
	m := NewMonitor(0, rec, nil, staticChecker("queue", StatusCritical, issue))

	m.RunOnce(context.Background())
	if len(handled) != 1 || handled[0] != "drain" {
		t.Fatalf("handled = %v", handled)
	}
}

func TestStandingDegradedSignalForcesCritical(t *testing.T) {
	rec := NewRecoveryManager(nil, nil, nil)
	rec.degraded = true

	m := NewMonitor(0, rec, nil, staticChecker("queue", StatusHealthy))
	report := m.RunOnce(context.Background())
	if report.Status != StatusCritical {
		t.Fatalf("overall = %s, want critical while degraded", report.Status)
	}
}
