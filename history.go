package redistasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// History records task execution attempts for auditing and post-mortems.
// Implementations must be safe for concurrent use.
type History interface {
	RecordStarted(ctx context.Context, task *Task, startedAt time.Time) error
	RecordOutcome(ctx context.Context, task *Task, outcome Outcome, finishedAt time.Time) error
}

// Attempt is one recorded execution attempt of a task.
type Attempt struct {
	TaskID     string
	Attempt    int
	Queue      string
	FuncName   string
	Outcome    *string
	Message    *string
	StartedAt  time.Time
	FinishedAt *time.Time
}

const historySchema = `
CREATE TABLE IF NOT EXISTS task_history (
	task_id     TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	queue       TEXT NOT NULL,
	func_name   TEXT NOT NULL,
	outcome     TEXT,
	message     TEXT,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	PRIMARY KEY (task_id, attempt)
)`

// SQLHistory persists the audit trail to a relational database via
// database/sql; the bundled binaries use an sqlite file. One row per
// (task, attempt), keyed on the task's retry count at execution time.
type SQLHistory struct {
	db *sql.DB
}

// NewSQLHistory creates the history table if needed and returns a store
// over db. The caller owns the database handle.
func NewSQLHistory(ctx context.Context, db *sql.DB) (*SQLHistory, error) {
	if db == nil {
		return nil, errors.New("history db cannot be nil")
	}
	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &SQLHistory{db: db}, nil
}

// RecordStarted implements History
func (h *SQLHistory) RecordStarted(ctx context.Context, task *Task, startedAt time.Time) error {
	if task == nil {
		return ErrTaskNil
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO task_history (task_id, attempt, queue, func_name, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		task.ID.String(), int(task.RetryCount), task.Queue, task.FuncName, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record attempt start for task %s: %w", task.ID, err)
	}
	return nil
}

// RecordOutcome implements History
func (h *SQLHistory) RecordOutcome(ctx context.Context, task *Task, outcome Outcome, finishedAt time.Time) error {
	if task == nil {
		return ErrTaskNil
	}
	_, err := h.db.ExecContext(ctx,
		`UPDATE task_history SET outcome = ?, message = ?, finished_at = ?
		 WHERE task_id = ? AND attempt = ?`,
		string(outcome.Kind), outcome.Message, finishedAt.UTC(),
		task.ID.String(), int(task.RetryCount))
	if err != nil {
		return fmt.Errorf("failed to record attempt outcome for task %s: %w", task.ID, err)
	}
	return nil
}

// Attempts returns the recorded attempts of a task, oldest first.
func (h *SQLHistory) Attempts(ctx context.Context, taskID string) ([]Attempt, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT task_id, attempt, queue, func_name, outcome, message, started_at, finished_at
		 FROM task_history WHERE task_id = ? ORDER BY attempt`,
		taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var outcome, message sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(&a.TaskID, &a.Attempt, &a.Queue, &a.FuncName,
			&outcome, &message, &a.StartedAt, &finishedAt); err != nil {
			return nil, err
		}
		if outcome.Valid {
			v := outcome.String
			a.Outcome = &v
		}
		if message.Valid {
			v := message.String
			a.Message = &v
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			a.FinishedAt = &t
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
