// Package rotation maintains pools of interchangeable resources (proxies,
// session credentials, client identities), rotating them round-robin and
// retiring members that keep failing.
package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/trungvv/ripcord/internal/classify"
	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/metrics"
)

// Revalidator re-derives a resource via an external collaborator (cookie
// re-extraction, proxy health probe). A nil error restores validity.
type Revalidator func(ctx context.Context, res *domain.Resource) error

// Config holds the pool thresholds. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold and FailureRateThreshold must both be exceeded
	// before a member is invalidated.
	FailureThreshold     int
	FailureRateThreshold float64

	// RecentWindow is the rolling outcome window used for the rate check.
	RecentWindow int

	// StaleAfter triggers proactive revalidation of unused members.
	StaleAfter time.Duration

	// LifetimeRateThreshold / MinAttemptsForRate trigger proactive
	// revalidation of chronically bad members.
	LifetimeRateThreshold float64
	MinAttemptsForRate    int

	MaintenanceInterval time.Duration
	RevalidateTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.FailureRateThreshold == 0 {
		c.FailureRateThreshold = 0.5
	}
	if c.RecentWindow == 0 {
		c.RecentWindow = 20
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 24 * time.Hour
	}
	if c.LifetimeRateThreshold == 0 {
		c.LifetimeRateThreshold = 0.5
	}
	if c.MinAttemptsForRate == 0 {
		c.MinAttemptsForRate = 10
	}
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = 30 * time.Minute
	}
	if c.RevalidateTimeout == 0 {
		c.RevalidateTimeout = 2 * time.Minute
	}
	return c
}

// member wraps a resource with its own lock; mutation is single-writer per
// resource so unrelated tasks never serialize on one pool-wide lock.
type member struct {
	mu      sync.Mutex
	res     *domain.Resource
	recent  []bool // rolling outcome window
	pending bool   // revalidation in flight
}

func (m *member) recordOutcome(success bool, window int) {
	m.recent = append(m.recent, success)
	if len(m.recent) > window {
		m.recent = m.recent[1:]
	}
}

func (m *member) recentFailureRate() float64 {
	if len(m.recent) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range m.recent {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(m.recent))
}

// PoolStats is the pool's self-reported health, sampled each monitor cycle.
type PoolStats struct {
	Kind        domain.ResourceKind `json:"kind"`
	Total       int                 `json:"total"`
	Valid       int                 `json:"valid"`
	Successes   int                 `json:"successes"`
	Failures    int                 `json:"failures"`
	FailureRate float64             `json:"failure_rate"`
	Exhausted   bool                `json:"exhausted"`
}

// Pool rotates resources of one kind.
type Pool struct {
	kind        domain.ResourceKind
	cfg         Config
	revalidator Revalidator
	metrics     *metrics.Aggregator
	log         *slog.Logger

	mu      sync.RWMutex
	members []*member
	nextIdx int

	now func() time.Time
}

// NewPool creates a pool seeded with the given resource values.
func NewPool(kind domain.ResourceKind, values []string, cfg Config, rev Revalidator, agg *metrics.Aggregator, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		kind:        kind,
		cfg:         cfg.withDefaults(),
		revalidator: rev,
		metrics:     agg,
		log:         log.With("pool", kind),
		now:         time.Now,
	}
	for _, v := range values {
		p.Add(v)
	}
	return p
}

// Kind returns the resource kind this pool rotates.
func (p *Pool) Kind() domain.ResourceKind { return p.kind }

// Add registers a new valid resource and returns it.
func (p *Pool) Add(value string) *domain.Resource {
	res := &domain.Resource{
		ID:      uuid.New().String(),
		Kind:    p.kind,
		Value:   value,
		AddedAt: p.now(),
		Valid:   true,
	}
	p.mu.Lock()
	p.members = append(p.members, &member{res: res})
	p.mu.Unlock()
	p.publishGauge()
	return res
}

// Next hands out the next valid resource round-robin. ok is false when every
// member is invalid; callers then operate without this resource kind. The
// returned resource is a snapshot copy.
func (p *Pool) Next() (*domain.Resource, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.members)
	for i := 0; i < n; i++ {
		m := p.members[(p.nextIdx+i)%n]
		m.mu.Lock()
		if m.res.Valid {
			m.res.LastUsed = p.now()
			snapshot := *m.res
			m.mu.Unlock()
			p.nextIdx = (p.nextIdx + i + 1) % n
			return &snapshot, true
		}
		m.mu.Unlock()
	}
	return nil, false
}

// ReportSuccess records a successful use. A previously invalidated resource
// is reinstated; past failures remain on record.
func (p *Pool) ReportSuccess(id string) {
	m := p.find(id)
	if m == nil {
		return
	}
	m.mu.Lock()
	m.res.SuccessCount++
	m.res.Valid = true
	m.recordOutcome(true, p.cfg.RecentWindow)
	m.mu.Unlock()

	if p.metrics != nil {
		p.metrics.PoolReport(string(p.kind), true)
	}
	p.publishGauge()
}

// ReportFailure records a failed use. When both the absolute failure count
// and the rolling failure rate breach their thresholds the member is
// invalidated and revalidated asynchronously.
func (p *Pool) ReportFailure(id string, category classify.Category) {
	m := p.find(id)
	if m == nil {
		return
	}

	m.mu.Lock()
	m.res.FailureCount++
	m.recordOutcome(false, p.cfg.RecentWindow)
	invalidate := m.res.Valid &&
		m.res.FailureCount > p.cfg.FailureThreshold &&
		m.recentFailureRate() > p.cfg.FailureRateThreshold
	if invalidate {
		m.res.Valid = false
	}
	schedule := invalidate && !m.pending && p.revalidator != nil
	if schedule {
		m.pending = true
	}
	m.mu.Unlock()

	if p.metrics != nil {
		p.metrics.PoolReport(string(p.kind), false)
	}
	if invalidate {
		p.log.Warn("resource invalidated", "id", id, "category", category)
		p.publishGauge()
	}
	if schedule {
		go p.revalidate(m)
	}
}

// Revalidate synchronously revalidates one resource by ID. A no-op when a
// revalidation of the member is already in flight.
func (p *Pool) Revalidate(ctx context.Context, id string) error {
	m := p.find(id)
	if m == nil {
		return fmt.Errorf("resource %s not found in %s pool", id, p.kind)
	}
	m.mu.Lock()
	if m.pending {
		m.mu.Unlock()
		return nil
	}
	m.pending = true
	m.mu.Unlock()
	return p.revalidateMember(ctx, m)
}

// revalidate runs detached from any task; it must not inherit a task context.
func (p *Pool) revalidate(m *member) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RevalidateTimeout)
	defer cancel()
	if err := p.revalidateMember(ctx, m); err != nil {
		p.log.Warn("revalidation failed", "id", m.res.ID, "error", err)
	}
}

// revalidateMember drives the external revalidator under a short bounded
// backoff. Success restores validity and resets counters.
func (p *Pool) revalidateMember(ctx context.Context, m *member) error {
	defer func() {
		m.mu.Lock()
		m.pending = false
		m.mu.Unlock()
	}()

	if p.revalidator == nil {
		return fmt.Errorf("no revalidator configured for %s pool", p.kind)
	}

	m.mu.Lock()
	snapshot := *m.res
	m.mu.Unlock()

	backoff := retry.WithMaxRetries(2, retry.NewExponential(2*time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := p.revalidator(ctx, &snapshot); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.res.Value = snapshot.Value
	m.res.Valid = true
	m.res.FailureCount = 0
	m.res.SuccessCount = 0
	m.recent = nil
	m.mu.Unlock()

	p.log.Info("resource revalidated", "id", snapshot.ID)
	p.publishGauge()
	return nil
}

// RunMaintenance proactively revalidates stale or chronically failing
// members on a fixed interval until ctx is cancelled.
func (p *Pool) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep performs one maintenance pass.
func (p *Pool) Sweep(ctx context.Context) {
	p.mu.RLock()
	members := make([]*member, len(p.members))
	copy(members, p.members)
	p.mu.RUnlock()

	now := p.now()
	for _, m := range members {
		m.mu.Lock()
		stale := !m.res.LastUsed.IsZero() && now.Sub(m.res.LastUsed) > p.cfg.StaleAfter
		if m.res.LastUsed.IsZero() {
			stale = now.Sub(m.res.AddedAt) > p.cfg.StaleAfter
		}
		chronic := m.res.Attempts() >= p.cfg.MinAttemptsForRate &&
			m.res.FailureRate() > p.cfg.LifetimeRateThreshold
		// Claim the pending flag under the member lock so a sweep never
		// races a failure-scheduled revalidation of the same member.
		claim := (stale || chronic) && !m.pending && p.revalidator != nil
		if claim {
			m.pending = true
		}
		id := m.res.ID
		m.mu.Unlock()

		if !claim {
			continue
		}
		p.log.Debug("proactive revalidation", "id", id, "stale", stale, "chronic", chronic)
		if err := p.revalidateMember(ctx, m); err != nil {
			p.log.Warn("proactive revalidation failed", "id", id, "error", err)
		}
	}
}

// Stats reports pool health. Exhausted pools are a degraded signal for the
// health monitor, never an error from Next.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{Kind: p.kind, Total: len(p.members)}
	for _, m := range p.members {
		m.mu.Lock()
		if m.res.Valid {
			stats.Valid++
		}
		stats.Successes += m.res.SuccessCount
		stats.Failures += m.res.FailureCount
		m.mu.Unlock()
	}
	if total := stats.Successes + stats.Failures; total > 0 {
		stats.FailureRate = float64(stats.Failures) / float64(total)
	}
	stats.Exhausted = stats.Total > 0 && stats.Valid == 0
	return stats
}

// Resources returns snapshot copies of all members, for status reporting.
func (p *Pool) Resources() []*domain.Resource {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*domain.Resource, 0, len(p.members))
	for _, m := range p.members {
		m.mu.Lock()
		snapshot := *m.res
		m.mu.Unlock()
		out = append(out, &snapshot)
	}
	return out
}

func (p *Pool) find(id string) *member {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.members {
		if m.res.ID == id {
			return m
		}
	}
	return nil
}

func (p *Pool) publishGauge() {
	if p.metrics == nil {
		return
	}
	p.metrics.SetPoolValid(string(p.kind), p.Stats().Valid)
}
