package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"
)

// ErrTaskNotFound is returned when a task is not found.
var ErrTaskNotFound = errors.New("task not found")

// ErrTaskNotRunnable is returned when claiming a task that is not WAITING,
// or finishing one that is not RUNNING.
var ErrTaskNotRunnable = errors.New("task is not runnable")

// JoinArgs quotes an argument vector into the single string kept in schTASK.
func JoinArgs(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = quoteArg(a)
	}
	return strings.Join(quoted, " ")
}

// SplitArgs is the inverse of JoinArgs.
func SplitArgs(s string) ([]string, error) {
	argv, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("failed to split task arguments: %w", err)
	}
	return argv, nil
}

func quoteArg(a string) string {
	if a == "" {
		return "''"
	}
	if !strings.ContainsAny(a, " \t\n\"'\\$`#;&|<>()*?[]{}~") {
		return a
	}
	return "'" + strings.ReplaceAll(a, "'", `'"'"'`) + "'"
}

// Argv returns the task's argument vector.
func (t *Task) Argv() ([]string, error) {
	return SplitArgs(t.Arguments)
}

// SubmitTask enqueues a task in the WAITING state and sets task.ID.
func (s *SQLiteStore) SubmitTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}
	if task.Proc == "" {
		return errors.New("proc is required")
	}
	if task.User == "" {
		return errors.New("user is required")
	}

	task.Status = TaskWaiting
	task.CreatedUnixMs = time.Now().UnixMilli()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO schTASK (proc, user, arguments, status, created_unix_ms)
		VALUES (?, ?, ?, ?, ?)
	`, task.Proc, task.User, task.Arguments, string(task.Status), task.CreatedUnixMs)
	if err != nil {
		return fmt.Errorf("failed to submit task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read task id: %w", err)
	}
	task.ID = id
	return nil
}

const taskColumns = `id, proc, user, arguments, status, runner, progress,
	created_unix_ms, started_unix_ms, finished_unix_ms`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var status string
	if err := row.Scan(&t.ID, &t.Proc, &t.User, &t.Arguments, &status, &t.Runner,
		&t.Progress, &t.CreatedUnixMs, &t.StartedUnixMs, &t.FinishedUnixMs); err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	return &t, nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM schTASK WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: #%d", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ClaimTask moves a WAITING task to RUNNING on behalf of runner.
func (s *SQLiteStore) ClaimTask(ctx context.Context, taskID int64, runner string) (*Task, error) {
	if runner == "" {
		return nil, errors.New("runner is required")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE schTASK SET status = ?, runner = ?, started_unix_ms = ?
		WHERE id = ? AND status = ?
	`, string(TaskRunning), runner, time.Now().UnixMilli(), taskID, string(TaskWaiting))
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: #%d is %s", ErrTaskNotRunnable, taskID, task.Status)
	}
	return task, nil
}

// UpdateTaskProgress records a free-form progress message.
func (s *SQLiteStore) UpdateTaskProgress(ctx context.Context, taskID int64, progress string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE schTASK SET progress = ? WHERE id = ?`, progress, taskID)
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: #%d", ErrTaskNotFound, taskID)
	}
	return nil
}

// FinishTask moves a RUNNING task to a terminal status.
func (s *SQLiteStore) FinishTask(ctx context.Context, taskID int64, status TaskStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE schTASK SET status = ?, finished_unix_ms = ?
		WHERE id = ? AND status = ?
	`, string(status), time.Now().UnixMilli(), taskID, string(TaskRunning))
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.GetTask(ctx, taskID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: #%d is not running", ErrTaskNotRunnable, taskID)
	}
	return nil
}

// ListTasks returns tasks matching q, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, q TaskQuery) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM schTASK WHERE 1=1`
	args := make([]any, 0, 4)

	if q.Proc != "" {
		query += " AND proc = ?"
		args = append(args, q.Proc)
	}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}

	query += " ORDER BY id DESC"

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
		if q.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, q.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}
