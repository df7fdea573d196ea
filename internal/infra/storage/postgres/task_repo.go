package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/infra/storage"
)

// TaskArchive implements storage.TaskArchive on PostgreSQL.
type TaskArchive struct {
	db *DB
}

// NewTaskArchive creates the repository.
func NewTaskArchive(db *DB) *TaskArchive {
	return &TaskArchive{db: db}
}

type taskRow struct {
	ID              string         `db:"id"`
	URL             string         `db:"url"`
	Status          string         `db:"status"`
	Attempts        int            `db:"attempts"`
	Options         []byte         `db:"options"`
	Failures        []byte         `db:"failures"`
	Result          []byte         `db:"result"`
	FailureCategory sql.NullString `db:"failure_category"`
	FailureCause    sql.NullString `db:"failure_cause"`
	CreatedAt       time.Time      `db:"created_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
}

// Save archives a terminal task, idempotently by ID.
func (r *TaskArchive) Save(ctx context.Context, task *domain.Task) error {
	options, err := json.Marshal(task.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	failures, err := json.Marshal(task.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}
	var result []byte
	if task.Result != nil {
		if result, err = json.Marshal(task.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO task_archive (
			id, url, status, attempts, options, failures, result,
			failure_category, failure_cause, created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			failures = EXCLUDED.failures,
			result = EXCLUDED.result,
			failure_category = EXCLUDED.failure_category,
			failure_cause = EXCLUDED.failure_cause,
			completed_at = EXCLUDED.completed_at`,
		task.ID, task.URL, string(task.Status), task.Attempts, options, failures, result,
		nullString(task.FailureCategory), nullString(task.FailureCause),
		task.CreatedAt, nullTime(task.StartedAt), nullTime(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get returns an archived task or storage.ErrNotFound.
func (r *TaskArchive) Get(ctx context.Context, id string) (*domain.Task, error) {
	var row taskRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM task_archive WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select task: %w", err)
	}
	return row.toDomain()
}

// Recent returns up to limit archived tasks, newest first.
func (r *TaskArchive) Recent(ctx context.Context, limit int) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []taskRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM task_archive ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select recent tasks: %w", err)
	}

	tasks := make([]*domain.Task, 0, len(rows))
	for _, row := range rows {
		task, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (row taskRow) toDomain() (*domain.Task, error) {
	task := &domain.Task{
		ID:              row.ID,
		URL:             row.URL,
		Status:          domain.TaskStatus(row.Status),
		Attempts:        row.Attempts,
		FailureCategory: row.FailureCategory.String,
		FailureCause:    row.FailureCause.String,
		CreatedAt:       row.CreatedAt,
		StartedAt:       row.StartedAt.Time,
		CompletedAt:     row.CompletedAt.Time,
	}
	if err := json.Unmarshal(row.Options, &task.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	if len(row.Failures) > 0 {
		if err := json.Unmarshal(row.Failures, &task.Failures); err != nil {
			return nil, fmt.Errorf("unmarshal failures: %w", err)
		}
	}
	if len(row.Result) > 0 {
		task.Result = &domain.DownloadResult{}
		if err := json.Unmarshal(row.Result, task.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return task, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
