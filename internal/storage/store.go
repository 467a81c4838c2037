// Package storage provides SQLite-based persistent storage for bibupload.
// It holds bibliographic records, their formatted versions and history, and
// the task queue that uploads go through.
package storage

import (
	"context"
	"database/sql"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store defines the interface for all storage operations.
type Store interface {
	// Records
	RecordExists(ctx context.Context, q Querier, recID int64) (bool, error)
	CreateRecord(ctx context.Context, q Querier, recID int64) (int64, error)
	TouchRecord(ctx context.Context, q Querier, recID int64) error
	PutFormat(ctx context.Context, q Querier, recID int64, format string, value []byte) error
	GetFormat(ctx context.Context, q Querier, recID int64, format string) ([]byte, error)
	ReplaceFields(ctx context.Context, q Querier, recID int64, fields []Field) error
	FindRecords(ctx context.Context, tag, code, value string) ([]int64, error)
	CountRecords(ctx context.Context) (int64, error)
	DeleteRecord(ctx context.Context, recID int64) error

	// History
	AppendHistory(ctx context.Context, q Querier, entry *HistoryEntry) error
	ListHistory(ctx context.Context, recID int64) ([]HistoryEntry, error)

	// Tasks
	SubmitTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, taskID int64) (*Task, error)
	ClaimTask(ctx context.Context, taskID int64, runner string) (*Task, error)
	UpdateTaskProgress(ctx context.Context, taskID int64, progress string) error
	FinishTask(ctx context.Context, taskID int64, status TaskStatus) error
	ListTasks(ctx context.Context, q TaskQuery) ([]Task, error)

	// Raw access
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryIDs(ctx context.Context, query string, args ...any) ([]int64, error)

	// Lifecycle
	Close() error
}

// FormatXM is the MARC-XML format code stored in bibfmt.
const FormatXM = "xm"

// Field is one indexed value of a record. Control fields have an empty Code.
type Field struct {
	FieldNumber int
	Tag         string
	Ind1        string
	Ind2        string
	Code        string
	Value       string
}

// HistoryEntry is a row of hstRECORD.
type HistoryEntry struct {
	ID            int64
	RecID         int64
	MarcXML       []byte
	JobID         int64
	JobName       string
	JobPerson     string
	JobDateUnixMs int64
	JobDetails    string
}

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

const (
	TaskWaiting TaskStatus = "WAITING"
	TaskRunning TaskStatus = "RUNNING"
	TaskDone    TaskStatus = "DONE"
	TaskError   TaskStatus = "ERROR"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskError
}

// Task is a row of schTASK.
type Task struct {
	ID             int64
	Proc           string
	User           string
	Arguments      string // shell-quoted argument vector
	Status         TaskStatus
	Runner         string
	Progress       string
	CreatedUnixMs  int64
	StartedUnixMs  int64
	FinishedUnixMs int64
}

// TaskQuery defines parameters for listing tasks.
type TaskQuery struct {
	Proc   string
	Status TaskStatus
	Limit  int
	Offset int
}
