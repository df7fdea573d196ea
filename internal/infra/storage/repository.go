// Package storage defines the persistence boundaries for terminal task
// history and the recovery audit log. The memory implementations are the
// spec'd bounded ring buffers; postgres adds durable archival.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/trungvv/ripcord/internal/core/domain"
)

// ErrNotFound is returned when a task is absent from the archive.
var ErrNotFound = errors.New("not found")

// TaskArchive stores tasks that reached a terminal state.
type TaskArchive interface {
	// Save archives a terminal task. Older entries may be evicted by
	// bounded implementations.
	Save(ctx context.Context, task *domain.Task) error

	// Get returns an archived task or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Task, error)

	// Recent returns up to limit archived tasks, newest first.
	Recent(ctx context.Context, limit int) ([]*domain.Task, error)
}

// RecoveryEntry is one recovery-action attempt, kept for audit.
type RecoveryEntry struct {
	At        time.Time `json:"at"         db:"at"`
	IssueType string    `json:"issue_type" db:"issue_type"`
	Action    string    `json:"action"     db:"action"`
	Success   bool      `json:"success"    db:"success"`
	Detail    string    `json:"detail"     db:"detail"`
}

// RecoveryLog records recovery-action attempts.
type RecoveryLog interface {
	Append(ctx context.Context, entry RecoveryEntry) error
	Recent(ctx context.Context, limit int) ([]RecoveryEntry, error)
}
