package postgres

import (
	"context"
	"fmt"

	"github.com/trungvv/ripcord/internal/infra/storage"
)

// RecoveryLog implements storage.RecoveryLog on PostgreSQL.
type RecoveryLog struct {
	db *DB
}

// NewRecoveryLog creates the repository.
func NewRecoveryLog(db *DB) *RecoveryLog {
	return &RecoveryLog{db: db}
}

// Append records one recovery-action attempt.
func (r *RecoveryLog) Append(ctx context.Context, entry storage.RecoveryEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recovery_log (at, issue_type, action, success, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.At, entry.IssueType, entry.Action, entry.Success, entry.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert recovery entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *RecoveryLog) Recent(ctx context.Context, limit int) ([]storage.RecoveryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []storage.RecoveryEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT at, issue_type, action, success, detail
		 FROM recovery_log ORDER BY at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select recovery entries: %w", err)
	}
	return entries, nil
}
