package health

import (
	"context"
	"fmt"

	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/metrics"
	"github.com/trungvv/ripcord/internal/queue"
	"github.com/trungvv/ripcord/internal/retry"
	"github.com/trungvv/ripcord/internal/rotation"
)

// Issue types with registered recovery chains.
const (
	IssueProxyFailures      = "proxy_failures"
	IssueSessionExpiry      = "session_expiry"
	IssueResourceExhaustion = "resource_exhaustion"
	IssueQueueBacklog       = "queue_backlog"
	IssueHighFailureRate    = "high_failure_rate"
)

const poolFailureRateWarn = 0.5

// PoolChecker watches the rotation pools. An exhausted pool is critical;
// a pool failing more than half its recent uses raises its kind's issue.
func PoolChecker(pools *rotation.Manager) Checker {
	return CheckerFunc{CheckerName: "pools", Fn: func(ctx context.Context) CheckResult {
		result := CheckResult{Name: "pools", Status: StatusHealthy}

		for kind, stats := range pools.Stats() {
			if stats.Total == 0 {
				continue
			}
			if stats.Exhausted {
				result.Status = worse(result.Status, StatusCritical)
				result.Issues = append(result.Issues, Issue{
					Type:     IssueResourceExhaustion,
					Severity: StatusCritical,
					Detail:   fmt.Sprintf("%s pool has no valid resources (%d total)", kind, stats.Total),
				})
				continue
			}
			if stats.FailureRate > poolFailureRateWarn {
				issueType := IssueProxyFailures
				if kind == domain.KindSession {
					issueType = IssueSessionExpiry
				}
				result.Status = worse(result.Status, StatusWarning)
				result.Issues = append(result.Issues, Issue{
					Type:     issueType,
					Severity: StatusWarning,
					Detail:   fmt.Sprintf("%s pool failure rate %.0f%%", kind, stats.FailureRate*100),
				})
			}
		}
		if result.Status == StatusHealthy {
			result.Detail = "all pools serving"
		}
		return result
	}}
}

// QueueChecker watches queue depth against soft and hard thresholds.
func QueueChecker(o *queue.Orchestrator, warnDepth, critDepth int) Checker {
	if warnDepth <= 0 {
		warnDepth = 50
	}
	if critDepth <= warnDepth {
		critDepth = warnDepth * 4
	}
	return CheckerFunc{CheckerName: "queue", Fn: func(ctx context.Context) CheckResult {
		stats := o.Stats()
		result := CheckResult{
			Name:   "queue",
			Status: StatusHealthy,
			Detail: fmt.Sprintf("depth=%d active=%d/%d", stats.QueueDepth, stats.Active, stats.Capacity),
		}
		switch {
		case stats.QueueDepth >= critDepth:
			result.Status = StatusCritical
			result.Issues = []Issue{{
				Type:     IssueQueueBacklog,
				Severity: StatusCritical,
				Detail:   fmt.Sprintf("queue depth %d exceeds %d", stats.QueueDepth, critDepth),
			}}
		case stats.QueueDepth >= warnDepth:
			result.Status = StatusWarning
		}
		return result
	}}
}

// RetryChecker watches the rolling global failure rate seen by the retry
// engine and the aggregate success rate.
func RetryChecker(engine *retry.Engine, agg *metrics.Aggregator) Checker {
	return CheckerFunc{CheckerName: "retry", Fn: func(ctx context.Context) CheckResult {
		rate := engine.GlobalFailureRate()
		result := CheckResult{
			Name:   "retry",
			Status: StatusHealthy,
			Detail: fmt.Sprintf("global failure rate %.0f%%", rate*100),
		}
		if agg != nil {
			snap := agg.Snapshot()
			result.Detail = fmt.Sprintf("global failure rate %.0f%%, success rate %.0f%%",
				rate*100, snap.SuccessRate*100)
		}
		switch {
		case rate > 0.7:
			result.Status = StatusCritical
			result.Issues = []Issue{{
				Type:     IssueHighFailureRate,
				Severity: StatusCritical,
				Detail:   result.Detail,
			}}
		case rate > 0.4:
			result.Status = StatusWarning
		}
		return result
	}}
}

// SystemChecker probes host resources: free disk on the output path, free
// memory and load.
func SystemChecker(outputDir string) Checker {
	return CheckerFunc{CheckerName: "system", Fn: func(ctx context.Context) CheckResult {
		info, err := probeSystem(outputDir)
		if err != nil {
			return CheckResult{Name: "system", Status: StatusError, Detail: err.Error()}
		}

		result := CheckResult{
			Name:   "system",
			Status: StatusHealthy,
			Detail: fmt.Sprintf("disk free %.1fGiB, mem available %.1fGiB, load %.2f",
				gib(info.DiskFreeBytes), gib(info.MemAvailableBytes), info.Load1),
		}
		if info.DiskTotalBytes > 0 {
			free := float64(info.DiskFreeBytes) / float64(info.DiskTotalBytes)
			if free < 0.05 {
				result.Status = StatusCritical
			} else if free < 0.15 {
				result.Status = StatusWarning
			}
		}
		if info.MemTotalBytes > 0 {
			avail := float64(info.MemAvailableBytes) / float64(info.MemTotalBytes)
			if avail < 0.05 {
				result.Status = worse(result.Status, StatusCritical)
			}
		}
		return result
	}}
}

func gib(b uint64) float64 { return float64(b) / (1 << 30) }
