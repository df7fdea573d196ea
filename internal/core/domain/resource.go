package domain

import "time"

// ResourceKind identifies a rotation pool.
type ResourceKind string

const (
	KindProxy    ResourceKind = "proxy"    // network-egress identity
	KindSession  ResourceKind = "session"  // cookie/credential file
	KindIdentity ResourceKind = "identity" // client fingerprint / user agent
)

// Resource is an interchangeable rotatable value plus its rolling health
// record. Counters and the validity flag are mutated only by the owning pool
// under its per-member lock.
type Resource struct {
	ID    string       `json:"id"`
	Kind  ResourceKind `json:"kind"`
	Value string       `json:"value"`

	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	LastUsed     time.Time `json:"last_used"`
	AddedAt      time.Time `json:"added_at"`
	Valid        bool      `json:"valid"`
}

// Attempts returns the lifetime attempt count.
func (r *Resource) Attempts() int {
	return r.SuccessCount + r.FailureCount
}

// FailureRate returns the lifetime failure rate, 0 when unused.
func (r *Resource) FailureRate() float64 {
	total := r.Attempts()
	if total == 0 {
		return 0
	}
	return float64(r.FailureCount) / float64(total)
}

// WorkingSet is the resource set handed to one extraction attempt. Any field
// may be nil when the corresponding pool is exhausted; the extractor then
// operates without that resource kind.
type WorkingSet struct {
	Proxy    *Resource
	Session  *Resource
	Identity *Resource

	// ChallengeToken is populated by the challenge-solving callback and
	// consumed by the next extraction attempt.
	ChallengeToken string
}
