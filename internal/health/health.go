// Package health periodically samples every subsystem, reduces the results
// to one overall status and routes detected issues into recovery chains.
package health

import "time"

// Status is a subsystem or overall health level.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusError    Status = "error"
)

var statusRank = map[Status]int{
	StatusHealthy:  0,
	StatusWarning:  1,
	StatusCritical: 2,
	StatusError:    3,
}

// worse returns the more severe of two statuses.
func worse(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// Issue is a detected condition with a registered recovery chain.
type Issue struct {
	Type     string `json:"type"`
	Severity Status `json:"severity"`
	Detail   string `json:"detail"`
}

// CheckResult is one subsystem's verdict for a single monitor cycle.
type CheckResult struct {
	Name   string  `json:"name"`
	Status Status  `json:"status"`
	Detail string  `json:"detail,omitempty"`
	Issues []Issue `json:"issues,omitempty"`
}

// Report is the reduced view of the last completed cycle. Overall status is
// the worst subsystem status.
type Report struct {
	Status     Status                 `json:"status"`
	At         time.Time              `json:"at"`
	Subsystems map[string]CheckResult `json:"subsystems"`
}
