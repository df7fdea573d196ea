package rotation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/trungvv/ripcord/internal/classify"
	"github.com/trungvv/ripcord/internal/core/domain"
)

// Manager bundles the three rotation pools and hands out working sets.
type Manager struct {
	proxies    *Pool
	sessions   *Pool
	identities *Pool
}

// NewManager wraps the three pools.
func NewManager(proxies, sessions, identities *Pool) *Manager {
	return &Manager{proxies: proxies, sessions: sessions, identities: identities}
}

// Pool returns the pool for a kind, or nil.
func (m *Manager) Pool(kind domain.ResourceKind) *Pool {
	switch kind {
	case domain.KindProxy:
		return m.proxies
	case domain.KindSession:
		return m.sessions
	case domain.KindIdentity:
		return m.identities
	}
	return nil
}

// WorkingSet assembles one resource of each kind. Exhausted pools simply
// leave their slot nil.
func (m *Manager) WorkingSet() domain.WorkingSet {
	var set domain.WorkingSet
	if res, ok := m.proxies.Next(); ok {
		set.Proxy = res
	}
	if res, ok := m.sessions.Next(); ok {
		set.Session = res
	}
	if res, ok := m.identities.Next(); ok {
		set.Identity = res
	}
	return set
}

// ReportSuccess credits every resource in the set.
func (m *Manager) ReportSuccess(set domain.WorkingSet) {
	if set.Proxy != nil {
		m.proxies.ReportSuccess(set.Proxy.ID)
	}
	if set.Session != nil {
		m.sessions.ReportSuccess(set.Session.ID)
	}
	if set.Identity != nil {
		m.identities.ReportSuccess(set.Identity.ID)
	}
}

// ReportFailure charges the resources implicated by the classification.
// A rate limit or proxy error blames the egress identity; an authentication
// failure blames the session; everything else charges the whole set lightly
// via the proxy only.
func (m *Manager) ReportFailure(set domain.WorkingSet, cl classify.Classification) {
	switch cl.Category {
	case classify.CategoryAuthentication:
		if set.Session != nil {
			m.sessions.ReportFailure(set.Session.ID, cl.Category)
		}
	case classify.CategoryRateLimit, classify.CategoryGeoBlocked, classify.CategoryProxyError, classify.CategoryCaptchaRequired:
		if set.Proxy != nil {
			m.proxies.ReportFailure(set.Proxy.ID, cl.Category)
		}
		if set.Identity != nil {
			m.identities.ReportFailure(set.Identity.ID, cl.Category)
		}
	default:
		if set.Proxy != nil {
			m.proxies.ReportFailure(set.Proxy.ID, cl.Category)
		}
	}
}

// Stats returns per-pool health keyed by kind.
func (m *Manager) Stats() map[domain.ResourceKind]PoolStats {
	return map[domain.ResourceKind]PoolStats{
		domain.KindProxy:    m.proxies.Stats(),
		domain.KindSession:  m.sessions.Stats(),
		domain.KindIdentity: m.identities.Stats(),
	}
}

// RunMaintenance runs all three pool maintenance loops until ctx cancels.
func (m *Manager) RunMaintenance(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range []*Pool{m.proxies, m.sessions, m.identities} {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			p.RunMaintenance(ctx)
		}(p)
	}
	wg.Wait()
}

// SweepAll performs one maintenance pass over every pool; used as a recovery
// action by the health monitor.
func (m *Manager) SweepAll(ctx context.Context, log *slog.Logger) {
	for _, p := range []*Pool{m.proxies, m.sessions, m.identities} {
		p.Sweep(ctx)
	}
	if log != nil {
		log.Info("pool sweep complete")
	}
}
