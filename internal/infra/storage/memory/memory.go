// Package memory provides bounded in-memory implementations of the storage
// repositories, used when no database is configured.
package memory

import (
	"context"
	"sync"

	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/infra/storage"
)

// TaskArchive is a bounded ring of terminal tasks, newest first.
type TaskArchive struct {
	mu    sync.RWMutex
	limit int
	tasks []*domain.Task
	byID  map[string]*domain.Task
}

// NewTaskArchive creates an archive keeping at most limit tasks.
func NewTaskArchive(limit int) *TaskArchive {
	if limit <= 0 {
		limit = 100
	}
	return &TaskArchive{limit: limit, byID: make(map[string]*domain.Task)}
}

// Save archives a task, evicting the oldest entry when full.
func (a *TaskArchive) Save(_ context.Context, task *domain.Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	clone := task.Clone()
	a.tasks = append([]*domain.Task{clone}, a.tasks...)
	a.byID[clone.ID] = clone
	if len(a.tasks) > a.limit {
		evicted := a.tasks[len(a.tasks)-1]
		a.tasks = a.tasks[:len(a.tasks)-1]
		delete(a.byID, evicted.ID)
	}
	return nil
}

// Get returns an archived task.
func (a *TaskArchive) Get(_ context.Context, id string) (*domain.Task, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	task, ok := a.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return task.Clone(), nil
}

// Recent returns up to limit tasks, newest first.
func (a *TaskArchive) Recent(_ context.Context, limit int) ([]*domain.Task, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 || limit > len(a.tasks) {
		limit = len(a.tasks)
	}
	out := make([]*domain.Task, 0, limit)
	for _, t := range a.tasks[:limit] {
		out = append(out, t.Clone())
	}
	return out, nil
}

// RecoveryLog is a bounded ring of recovery-action attempts.
type RecoveryLog struct {
	mu      sync.RWMutex
	limit   int
	entries []storage.RecoveryEntry
}

// NewRecoveryLog creates a log keeping at most limit entries.
func NewRecoveryLog(limit int) *RecoveryLog {
	if limit <= 0 {
		limit = 50
	}
	return &RecoveryLog{limit: limit}
}

// Append records an entry, evicting the oldest when full.
func (l *RecoveryLog) Append(_ context.Context, entry storage.RecoveryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.limit {
		l.entries = l.entries[1:]
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *RecoveryLog) Recent(_ context.Context, limit int) ([]storage.RecoveryEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]storage.RecoveryEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}
