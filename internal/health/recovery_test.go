package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/infra/storage/memory"
	"github.com/trungvv/ripcord/internal/rotation"
)

func TestChainStopsAtFirstSuccess(t *testing.T) {
	history := memory.NewRecoveryLog(10)
	rec := NewRecoveryManager(history, nil, nil)

	var ran []string
	step := func(name string, err error) Action {
		return Action{Name: name, Run: func(ctx context.Context) error {
			ran = append(ran, name)
			return err
		}}
	}
	rec.Register("proxy_failures",
		step("revalidate_proxies", errors.New("still failing")),
		step("rotate_proxy_set", nil),
		step("restart_pools", nil),
	)

	rec.Handle(context.Background(), Issue{Type: "proxy_failures"})

	if len(ran) != 2 || ran[0] != "revalidate_proxies" || ran[1] != "rotate_proxy_set" {
		t.Fatalf("ran = %v", ran)
	}

	entries, _ := history.Recent(context.Background(), 10)
	if len(entries) != 2 {
		t.Fatalf("history = %d entries", len(entries))
	}
	// Newest first.
	if !entries[0].Success || entries[0].Action != "rotate_proxy_set" {
		t.Fatalf("entry 0 = %+v", entries[0])
	}
	if entries[1].Success || entries[1].Action != "revalidate_proxies" {
		t.Fatalf("entry 1 = %+v", entries[1])
	}
}

func TestUnknownIssueIsIgnored(t *testing.T) {
	rec := NewRecoveryManager(nil, nil, nil)
	rec.Handle(context.Background(), Issue{Type: "nothing_registered"})
}

func TestChainCooldownSuppressesRefire(t *testing.T) {
	rec := NewRecoveryManager(nil, nil, nil)
	now := time.Now()
	rec.now = func() time.Time { return now }

	calls := 0
	rec.Register("queue_backlog", Action{Name: "noop", Run: func(ctx context.Context) error {
		calls++
		return nil
	}})

	issue := Issue{Type: "queue_backlog"}
	rec.Handle(context.Background(), issue)
	rec.Handle(context.Background(), issue)
	if calls != 1 {
		t.Fatalf("calls = %d, want cooldown to suppress the second run", calls)
	}

	now = now.Add(handleCooldown + time.Second)
	rec.Handle(context.Background(), issue)
	if calls != 2 {
		t.Fatalf("calls = %d after cooldown elapsed", calls)
	}
}

func TestRestartActionDeliversComponent(t *testing.T) {
	rec := NewRecoveryManager(nil, nil, nil)
	rec.Register("queue_backlog",
		Action{Name: "noop", Run: func(ctx context.Context) error {
			return errors.New("did not help")
		}},
		RestartAction("pools"),
	)

	rec.Handle(context.Background(), Issue{Type: "queue_backlog"})

	select {
	case component := <-rec.RestartRequests():
		if component != "pools" {
			t.Fatalf("component = %q, want the component, not the action name", component)
		}
	default:
		t.Fatal("no restart request delivered")
	}
}

func TestRestartLimitRaisesDegraded(t *testing.T) {
	rec := NewRecoveryManager(nil, nil, nil)
	now := time.Now()
	rec.now = func() time.Time { return now }

	for i := 0; i < restartLimit; i++ {
		if err := rec.requestRestart("pools"); err != nil {
			t.Fatalf("restart %d refused: %v", i, err)
		}
		// Drain the pending request so the next one is accepted.
		select {
		case <-rec.RestartRequests():
		default:
			t.Fatal("no restart request delivered")
		}
	}

	if err := rec.requestRestart("pools"); err == nil {
		t.Fatal("restart beyond limit must be refused")
	}
	if !rec.Degraded() {
		t.Fatal("standing degraded signal must be raised")
	}

	// Outside the window the valve reopens once the signal is cleared.
	now = now.Add(restartWindow + time.Second)
	rec.ClearDegraded()
	if err := rec.requestRestart("pools"); err != nil {
		t.Fatalf("restart after window refused: %v", err)
	}
}

// End-to-end: a proxy pool failing most of its recent uses must raise
// proxy_failures, and the registered chain runs revalidation before any
// escalation.
func TestProxyFailureRecoveryChain(t *testing.T) {
	proxies := rotation.NewPool(domain.KindProxy, []string{"p1", "p2"}, rotation.Config{}, nil, nil, nil)
	pools := rotation.NewManager(
		proxies,
		rotation.NewPool(domain.KindSession, nil, rotation.Config{}, nil, nil, nil),
		rotation.NewPool(domain.KindIdentity, nil, rotation.Config{}, nil, nil, nil),
	)

	// Drive the proxy failure rate above 50% without invalidating everything.
	for _, res := range proxies.Resources() {
		proxies.ReportSuccess(res.ID)
		proxies.ReportFailure(res.ID, "NETWORK")
		proxies.ReportFailure(res.ID, "NETWORK")
	}

	history := memory.NewRecoveryLog(10)
	rec := NewRecoveryManager(history, nil, nil)

	var ran []string
	rec.Register(IssueProxyFailures,
		Action{Name: "revalidate_proxies", Run: func(ctx context.Context) error {
			ran = append(ran, "revalidate_proxies")
			return nil
		}},
		Action{Name: "restart_pools", Run: func(ctx context.Context) error {
			ran = append(ran, "restart_pools")
			return nil
		}},
	)

	m := NewMonitor(0, rec, nil, PoolChecker(pools))
	report := m.RunOnce(context.Background())

	if report.Status != StatusWarning {
		t.Fatalf("overall = %s", report.Status)
	}
	if len(ran) != 1 || ran[0] != "revalidate_proxies" {
		t.Fatalf("chain ran = %v, want revalidation only", ran)
	}
	entries, _ := history.Recent(context.Background(), 10)
	if len(entries) != 1 || entries[0].IssueType != IssueProxyFailures {
		t.Fatalf("history = %+v", entries)
	}
}
