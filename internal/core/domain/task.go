package domain

import "time"

// Priority determines queue insertion order.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// TaskStatus represents the lifecycle state of a download task.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskOptions holds caller-supplied download options.
type TaskOptions struct {
	Quality  string   `json:"quality"`
	Format   string   `json:"format"`
	Priority Priority `json:"priority"`
}

// AttemptFailure records a single failed attempt for diagnosis.
type AttemptFailure struct {
	At       time.Time `json:"at"`
	Category string    `json:"category"`
	Message  string    `json:"message"`
}

// DownloadResult is the opaque success payload from the extraction collaborator.
type DownloadResult struct {
	FilePath  string        `json:"file_path"`
	SizeBytes int64         `json:"size_bytes"`
	Duration  time.Duration `json:"duration"`
}

// Task is a unit of download work. It is owned exclusively by the
// orchestrator from creation to terminal state; everyone else sees clones.
type Task struct {
	ID       string      `json:"id"`
	URL      string      `json:"url"`
	Options  TaskOptions `json:"options"`
	Status   TaskStatus  `json:"status"`
	Attempts int         `json:"attempts"`

	// Failures keeps the full per-attempt history (category + message).
	Failures []AttemptFailure `json:"failures,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	Result *DownloadResult `json:"result,omitempty"`

	// Terminal classification shown to submitters instead of raw output.
	FailureCategory string `json:"failure_category,omitempty"`
	FailureCause    string `json:"failure_cause,omitempty"`
}

// Clone returns a deep copy safe to hand outside the orchestrator.
func (t *Task) Clone() *Task {
	c := *t
	if t.Failures != nil {
		c.Failures = make([]AttemptFailure, len(t.Failures))
		copy(c.Failures, t.Failures)
	}
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}
