package retry

import (
	"time"

	"github.com/trungvv/ripcord/internal/classify"
)

// Timing is the backoff schedule for one failure category.
type Timing struct {
	Base       time.Duration `yaml:"base"`
	Multiplier float64       `yaml:"multiplier"`
	Cap        time.Duration `yaml:"cap"`
}

// Policy holds all tunable backoff behavior. The spiral and load-shedding
// constants are heuristics carried over as configuration, not validated
// load-bearing values.
type Policy struct {
	PerCategory map[classify.Category]Timing
	Default     Timing

	// JitterFraction adds uniform jitter up to this fraction of the delay.
	JitterFraction float64

	// SpiralThreshold is how many times the same (category, target) pattern
	// may recur within one retry session before delays are dampened.
	SpiralThreshold int

	// SpiralFactorCap bounds the dampening multiplier.
	SpiralFactorCap float64

	// ShedFailureRate is the global rolling failure rate beyond which every
	// delay is doubled, independent of any single target's history.
	ShedFailureRate float64

	// CriticalMaxAttempts caps attempts once a critical-severity failure is
	// seen; expensive recovery is not retried indefinitely.
	CriticalMaxAttempts int
}

// DefaultPolicy returns the stock schedule.
func DefaultPolicy() Policy {
	return Policy{
		PerCategory: map[classify.Category]Timing{
			classify.CategoryRateLimit:         {Base: 30 * time.Second, Multiplier: 2, Cap: 10 * time.Minute},
			classify.CategoryCaptchaRequired:   {Base: 45 * time.Second, Multiplier: 2, Cap: 5 * time.Minute},
			classify.CategoryAuthentication:    {Base: 60 * time.Second, Multiplier: 2, Cap: 10 * time.Minute},
			classify.CategoryGeoBlocked:        {Base: 10 * time.Second, Multiplier: 2, Cap: 2 * time.Minute},
			classify.CategoryProxyError:        {Base: 5 * time.Second, Multiplier: 2, Cap: time.Minute},
			classify.CategoryTimeout:           {Base: 10 * time.Second, Multiplier: 2, Cap: 3 * time.Minute},
			classify.CategoryNetwork:           {Base: 5 * time.Second, Multiplier: 2, Cap: 2 * time.Minute},
			classify.CategoryFormatUnavailable: {Base: 2 * time.Second, Multiplier: 1.5, Cap: 30 * time.Second},
		},
		Default:             Timing{Base: 5 * time.Second, Multiplier: 2, Cap: 5 * time.Minute},
		JitterFraction:      0.1,
		SpiralThreshold:     3,
		SpiralFactorCap:     3,
		ShedFailureRate:     0.7,
		CriticalMaxAttempts: 2,
	}
}

// timing resolves the schedule for a category.
func (p Policy) timing(cat classify.Category) Timing {
	if t, ok := p.PerCategory[cat]; ok {
		return t
	}
	return p.Default
}

// baseDelay computes the deterministic (pre-jitter, pre-damping) delay for
// the given attempt, 1-indexed.
func (p Policy) baseDelay(cat classify.Category, attempt int) time.Duration {
	t := p.timing(cat)
	d := float64(t.Base)
	for i := 1; i < attempt; i++ {
		d *= t.Multiplier
		if d >= float64(t.Cap) {
			return t.Cap
		}
	}
	if d > float64(t.Cap) {
		return t.Cap
	}
	return time.Duration(d)
}
