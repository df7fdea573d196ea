// Package classify maps raw extraction failures (diagnostic text, exit code)
// to a taxonomy entry driving retry and recovery decisions.
package classify

import "strings"

// Category is the failure taxonomy.
type Category string

const (
	CategoryNetwork            Category = "NETWORK"
	CategoryTimeout            Category = "TIMEOUT"
	CategoryAuthentication     Category = "AUTHENTICATION"
	CategoryRateLimit          Category = "RATE_LIMIT"
	CategoryCaptchaRequired    Category = "CAPTCHA_REQUIRED"
	CategoryGeoBlocked         Category = "GEO_BLOCKED"
	CategoryFormatUnavailable  Category = "FORMAT_UNAVAILABLE"
	CategoryContentUnavailable Category = "CONTENT_UNAVAILABLE"
	CategoryProxyError         Category = "PROXY_ERROR"
	CategorySystemError        Category = "SYSTEM_ERROR"
	CategoryUnknown            Category = "UNKNOWN"
)

// Severity grades a classification.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is a recommended recovery-action identifier, ordered by preference.
type Action string

const (
	ActionRetryWithDelay Action = "retry_with_delay"
	ActionSwapProxy      Action = "swap_proxy"
	ActionRotateIdentity Action = "rotate_identity"
	ActionRefreshSession Action = "refresh_session"
	ActionSolveChallenge Action = "solve_challenge"
	ActionSwitchFormat   Action = "switch_format"
	ActionAbort          Action = "abort"
)

// Classification is the immutable outcome of classifying one failure.
type Classification struct {
	Category  Category
	Severity  Severity
	Retryable bool
	Actions   []Action
}

// RequiresResourceSwap reports whether a proxy/identity rotation is recommended.
func (c Classification) RequiresResourceSwap() bool {
	return c.hasAction(ActionSwapProxy) || c.hasAction(ActionRotateIdentity)
}

// RequiresCredentialRefresh reports whether a session refresh is recommended.
func (c Classification) RequiresCredentialRefresh() bool {
	return c.hasAction(ActionRefreshSession)
}

// RequiresChallengeSolving reports whether an anti-bot challenge must be solved.
func (c Classification) RequiresChallengeSolving() bool {
	return c.hasAction(ActionSolveChallenge)
}

func (c Classification) hasAction(a Action) bool {
	for _, action := range c.Actions {
		if action == a {
			return true
		}
	}
	return false
}

// Failure is the raw input from a failed extraction attempt.
type Failure struct {
	Message  string
	ExitCode int
}

// rule matches lowercase substrings against the failure message.
// First match wins, so table order is a contract: specific patterns
// (rate limit, captcha) come before the generic network bucket that
// would otherwise shadow them.
type rule struct {
	patterns []string
	result   Classification
}

// Classifier holds the ordered rule table. Stateless after construction.
type Classifier struct {
	rules []rule
}

// New returns a classifier with the default rule table.
func New() *Classifier {
	return &Classifier{rules: defaultRules()}
}

func defaultRules() []rule {
	return []rule{
		{
			patterns: []string{"429", "too many requests", "rate limit", "rate-limit", "quota exceeded", "request count exceeded"},
			result: Classification{
				Category:  CategoryRateLimit,
				Severity:  SeverityHigh,
				Retryable: true,
				Actions:   []Action{ActionSwapProxy, ActionRotateIdentity, ActionRetryWithDelay},
			},
		},
		{
			patterns: []string{"captcha", "challenge required", "verify you are human", "unusual traffic", "confirm you're not a bot", "sign in to confirm"},
			result: Classification{
				Category:  CategoryCaptchaRequired,
				Severity:  SeverityCritical,
				Retryable: true,
				Actions:   []Action{ActionSolveChallenge, ActionSwapProxy, ActionRetryWithDelay},
			},
		},
		{
			patterns: []string{"video unavailable", "content is not available", "has been removed", "account associated with this video has been terminated", "private video", "video is private", "404 not found", "no longer available"},
			result: Classification{
				Category:  CategoryContentUnavailable,
				Severity:  SeverityLow,
				Retryable: false,
				Actions:   []Action{ActionAbort},
			},
		},
		{
			patterns: []string{"not available in your country", "geo restriction", "geo-restricted", "blocked it in your country", "this video is not available from your location"},
			result: Classification{
				Category:  CategoryGeoBlocked,
				Severity:  SeverityMedium,
				Retryable: true,
				Actions:   []Action{ActionSwapProxy, ActionRetryWithDelay},
			},
		},
		{
			patterns: []string{"login required", "sign in", "authentication", "cookies are no longer valid", "cookie", "401", "account has been", "credentials"},
			result: Classification{
				Category:  CategoryAuthentication,
				Severity:  SeverityHigh,
				Retryable: true,
				Actions:   []Action{ActionRefreshSession, ActionRetryWithDelay},
			},
		},
		{
			patterns: []string{"403", "forbidden", "access denied"},
			result: Classification{
				Category:  CategoryAuthentication,
				Severity:  SeverityHigh,
				Retryable: true,
				Actions:   []Action{ActionSwapProxy, ActionRefreshSession, ActionRetryWithDelay},
			},
		},
		{
			patterns: []string{"requested format is not available", "format not available", "no video formats", "requested format"},
			result: Classification{
				Category:  CategoryFormatUnavailable,
				Severity:  SeverityLow,
				Retryable: true,
				Actions:   []Action{ActionSwitchFormat, ActionRetryWithDelay},
			},
		},
		{
			patterns: []string{"proxy", "socks", "tunnel connection failed", "connection to proxy"},
			result: Classification{
				Category:  CategoryProxyError,
				Severity:  SeverityMedium,
				Retryable: true,
				Actions:   []Action{ActionSwapProxy, ActionRetryWithDelay},
			},
		},
		{
			patterns: []string{"timed out", "timeout", "stalled", "deadline exceeded", "no data received"},
			result: Classification{
				Category:  CategoryTimeout,
				Severity:  SeverityMedium,
				Retryable: true,
				Actions:   []Action{ActionRetryWithDelay, ActionSwapProxy},
			},
		},
		{
			patterns: []string{"connection reset", "connection refused", "network is unreachable", "name resolution", "dns", "unable to download", "ssl", "eof occurred", "remote end closed", "http error 5"},
			result: Classification{
				Category:  CategoryNetwork,
				Severity:  SeverityMedium,
				Retryable: true,
				Actions:   []Action{ActionRetryWithDelay, ActionSwapProxy},
			},
		},
		{
			patterns: []string{"no space left", "permission denied", "read-only file system", "cannot write", "disk", "out of memory", "killed"},
			result: Classification{
				Category:  CategorySystemError,
				Severity:  SeverityCritical,
				Retryable: false,
				Actions:   []Action{ActionAbort},
			},
		},
	}
}

// unknown is the fallback for failures no rule matches.
var unknown = Classification{
	Category:  CategoryUnknown,
	Severity:  SeverityMedium,
	Retryable: true,
	Actions:   []Action{ActionRetryWithDelay},
}

// Classify maps a raw failure to its taxonomy entry. Matching is
// first-match-wins over the ordered rule table, case-insensitive.
func (c *Classifier) Classify(f Failure) Classification {
	msg := strings.ToLower(f.Message)

	for _, r := range c.rules {
		for _, p := range r.patterns {
			if strings.Contains(msg, p) {
				return c.pin(r.result)
			}
		}
	}

	// Signal-terminated subprocesses (exit 128+N) with no matching output
	// are treated as system errors worth one more look.
	if f.ExitCode > 128 {
		return c.pin(Classification{
			Category:  CategorySystemError,
			Severity:  SeverityHigh,
			Retryable: true,
			Actions:   []Action{ActionRetryWithDelay},
		})
	}

	return unknown
}

// ClassifyError is a convenience wrapper for plain errors.
func (c *Classifier) ClassifyError(err error) Classification {
	if err == nil {
		return unknown
	}
	return c.Classify(Failure{Message: err.Error()})
}

// pin enforces hard invariants no rule edit may break: a permanently
// missing resource is never retryable.
func (c *Classifier) pin(cl Classification) Classification {
	if cl.Category == CategoryContentUnavailable {
		cl.Retryable = false
	}
	return cl
}
