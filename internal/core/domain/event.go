package domain

import "time"

// EventType identifies a task lifecycle notification.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventRetry     EventType = "retry"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is a fire-and-forget lifecycle notification for external consumers
// (dashboard bridge, metrics). Not part of the orchestrator's correctness
// contract; publishers never block on slow subscribers.
type Event struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
	URL    string    `json:"url"`
	At     time.Time `json:"at"`

	Attempt  int     `json:"attempt,omitempty"`
	Progress float64 `json:"progress,omitempty"` // 0..100 for EventProgress
	Category string  `json:"category,omitempty"`
	Message  string  `json:"message,omitempty"`
}
