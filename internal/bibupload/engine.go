// Package bibupload queues MARC-XML uploads as tasks and executes them
// against the record store.
//
// An upload happens in two steps. Submit validates the input file and stores
// a WAITING task; Run claims that task, applies every record in its own
// transaction and marks the task DONE or ERROR. Both steps write a fixed set
// of console lines that operators and scripts rely on:
//
//	Task #12 submitted.
//	Record 96013 DONE
//	Task stats: 1 input records, 1 updated, 0 inserted, 0 errors. Time 0.01 sec.
package bibupload

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/runger/bibupload/internal/logging"
	"github.com/runger/bibupload/internal/marcxml"
	"github.com/runger/bibupload/internal/storage"
)

// ProcName is the proc column of upload tasks.
const ProcName = "bibupload"

var (
	// ErrMissingRecID is returned when a mode needs controlfield 001 and the
	// record has none.
	ErrMissingRecID = errors.New("record has no controlfield 001")

	// ErrRecIDNotAllowed is returned when inserting a record that carries 001
	// without --force.
	ErrRecIDNotAllowed = errors.New("record id given for insert without --force")

	// ErrTooManyRecords is returned when the input exceeds MaxRecords.
	ErrTooManyRecords = errors.New("too many records in input file")

	// errPretend rolls back a --pretend transaction.
	errPretend = errors.New("pretend")
)

// Config configures an Engine.
type Config struct {
	// Output receives console log lines (default: os.Stderr).
	Output io.Writer

	// Level is the console log level.
	Level slog.Level

	// LogDir receives one JSON log file per task. Empty disables task logs.
	LogDir string

	// LockPath is the runner lock file. Empty disables locking.
	LockPath    string
	LockTimeout time.Duration

	// MaxRecords limits records per input file (0 = unlimited).
	MaxRecords int

	// DefaultUser owns tasks submitted without --user.
	DefaultUser string
}

// Engine submits and runs upload tasks.
type Engine struct {
	store  storage.Store
	cfg    Config
	logCfg *logging.Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Engine over store.
func New(store storage.Store, cfg Config) *Engine {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.DefaultUser == "" {
		cfg.DefaultUser = "admin"
	}
	logCfg := &logging.Config{Output: cfg.Output, Level: cfg.Level}
	return &Engine{
		store:  store,
		cfg:    cfg,
		logCfg: logCfg,
		logger: logging.NewConsole(logCfg),
		now:    time.Now,
	}
}

// Submit validates the input file and queues a WAITING task for it.
func (e *Engine) Submit(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	path, err := filepath.Abs(opts.File)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", opts.File, err)
	}
	opts.File = path

	records, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	if err := e.checkRecordCount(len(records)); err != nil {
		return nil, err
	}
	if opts.User == "" {
		opts.User = e.cfg.DefaultUser
	}

	task := &storage.Task{
		Proc:      ProcName,
		User:      opts.User,
		Arguments: storage.JoinArgs(opts.Args()),
	}
	if err := e.store.SubmitTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to submit task: %w", err)
	}

	e.logger.Info(fmt.Sprintf("Task #%d submitted.", task.ID),
		"task_id", task.ID,
		"mode", string(opts.Mode),
		"records", len(records),
		"file", path,
	)
	return &Result{TaskID: task.ID, Status: task.Status}, nil
}

// Run executes a WAITING task. A non-nil Result is returned whenever the task
// was claimed, even if the run failed; the task then ends in ERROR.
func (e *Engine) Run(ctx context.Context, taskID int64) (*Result, error) {
	lock, err := e.acquireLock()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			e.logger.Warn("failed to release runner lock", "error", err)
		}
	}()

	task, err := e.store.ClaimTask(ctx, taskID, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to claim task %d: %w", taskID, err)
	}

	logger, closeLog := e.taskLogger(task.ID)
	defer func() {
		if err := closeLog(); err != nil {
			e.logger.Warn("failed to close task log", "task_id", task.ID, "error", err)
		}
	}()

	start := e.now()
	result := &Result{TaskID: task.ID, Status: storage.TaskRunning}
	runErr := e.execute(ctx, task, logger, result)
	if runErr != nil {
		logger.Error("task failed", "error", runErr)
	}
	result.Stats.Elapsed = e.now().Sub(start)
	logger.Info(result.Stats.String(),
		"input", result.Stats.Input,
		"updated", result.Stats.Updated,
		"inserted", result.Stats.Inserted,
		"errors", result.Stats.Errors,
	)

	status := storage.TaskDone
	if runErr != nil || result.Stats.Errors > 0 {
		status = storage.TaskError
	}
	if err := e.store.FinishTask(context.WithoutCancel(ctx), task.ID, status); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to finish task %d: %w", task.ID, err))
	}
	result.Status = status
	return result, runErr
}

func (e *Engine) execute(ctx context.Context, task *storage.Task, logger *slog.Logger, result *Result) error {
	argv, err := task.Argv()
	if err != nil {
		return err
	}
	opts, err := ParseArgs(argv)
	if err != nil {
		return fmt.Errorf("task %d: %w", task.ID, err)
	}
	records, err := readRecords(opts.File)
	if err != nil {
		return err
	}
	if err := e.checkRecordCount(len(records)); err != nil {
		return err
	}

	result.Stats.Input = len(records)
	logger.Debug("processing input",
		"file", opts.File,
		"mode", string(opts.Mode),
		"force", opts.Force,
		"pretend", opts.Pretend,
		"records", len(records),
	)

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome := e.processRecord(ctx, task, opts, i+1, rec)
		result.Records = append(result.Records, outcome)
		result.Stats.add(outcome)

		if outcome.Err != nil {
			logger.Error("Record upload failed", "index", outcome.Index, "recid", outcome.RecID, "error", outcome.Err)
		} else {
			logger.Info(fmt.Sprintf("Record %d DONE", outcome.RecID),
				"recid", outcome.RecID,
				"kind", string(outcome.Kind),
			)
		}

		progress := fmt.Sprintf("Done %d out of %d.", i+1, len(records))
		if err := e.store.UpdateTaskProgress(ctx, task.ID, progress); err != nil {
			logger.Warn("failed to update task progress", "error", err)
		}
	}
	return nil
}

// processRecord applies one record inside its own transaction.
func (e *Engine) processRecord(ctx context.Context, task *storage.Task, opts *Options, index int, rec *marcxml.Record) RecordOutcome {
	out := RecordOutcome{Index: index}
	givenID, _, _ := rec.RecID()

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		recID, kind, final, err := e.resolve(ctx, tx, opts, rec)
		if err != nil {
			return err
		}
		out.RecID, out.Kind = recID, kind

		xm, err := marcxml.Marshal(final)
		if err != nil {
			return err
		}
		if err := e.store.PutFormat(ctx, tx, recID, storage.FormatXM, xm); err != nil {
			return err
		}
		if err := e.store.ReplaceFields(ctx, tx, recID, IndexFields(final)); err != nil {
			return err
		}
		entry := &storage.HistoryEntry{
			RecID:         recID,
			MarcXML:       xm,
			JobID:         task.ID,
			JobName:       task.Proc,
			JobPerson:     task.User,
			JobDateUnixMs: e.now().UnixMilli(),
			JobDetails:    string(opts.Mode),
		}
		if err := e.store.AppendHistory(ctx, tx, entry); err != nil {
			return err
		}

		if opts.Pretend {
			return errPretend
		}
		return nil
	})
	if errors.Is(err, errPretend) {
		err = nil
	}
	if err != nil {
		// An allocated id is gone with the rollback.
		out.RecID, out.Kind = givenID, ""
		out.Err = err
	}
	return out
}

// resolve decides the target record id and the content to store.
func (e *Engine) resolve(ctx context.Context, tx *sql.Tx, opts *Options, rec *marcxml.Record) (int64, Kind, *marcxml.Record, error) {
	recID, hasID, err := rec.RecID()
	if err != nil {
		return 0, "", nil, err
	}

	mode := opts.Mode
	if mode == ModeReplaceOrInsert {
		mode = ModeInsert
		if hasID {
			mode = ModeReplace
		}
	}

	switch mode {
	case ModeInsert:
		if hasID && !opts.Force {
			return 0, "", nil, fmt.Errorf("%w: %d", ErrRecIDNotAllowed, recID)
		}
		newID, err := e.store.CreateRecord(ctx, tx, recID)
		if err != nil {
			return 0, "", nil, err
		}
		rec.SetRecID(newID)
		return newID, KindInserted, rec, nil

	case ModeReplace:
		if !hasID {
			return 0, "", nil, ErrMissingRecID
		}
		exists, err := e.store.RecordExists(ctx, tx, recID)
		if err != nil {
			return 0, "", nil, err
		}
		if !exists {
			if !opts.Force {
				return 0, "", nil, fmt.Errorf("%w: %d", storage.ErrRecordNotFound, recID)
			}
			if _, err := e.store.CreateRecord(ctx, tx, recID); err != nil {
				return 0, "", nil, err
			}
			return recID, KindUpdated, rec, nil
		}
		if err := e.store.TouchRecord(ctx, tx, recID); err != nil {
			return 0, "", nil, err
		}
		return recID, KindUpdated, rec, nil

	case ModeAppend, ModeCorrect:
		if !hasID {
			return 0, "", nil, ErrMissingRecID
		}
		stored, err := e.store.GetFormat(ctx, tx, recID, storage.FormatXM)
		if err != nil {
			return 0, "", nil, err
		}
		existing, err := marcxml.Parse(bytes.NewReader(stored))
		if err != nil {
			return 0, "", nil, fmt.Errorf("stored record %d: %w", recID, err)
		}
		current := existing[0]
		if mode == ModeAppend {
			current.Append(rec)
		} else {
			current.Correct(rec)
		}
		if err := e.store.TouchRecord(ctx, tx, recID); err != nil {
			return 0, "", nil, err
		}
		return recID, KindUpdated, current, nil
	}
	return 0, "", nil, fmt.Errorf("unknown upload mode %q", opts.Mode)
}

// IndexFields flattens a record into bibxxx rows. Every subfield of a
// datafield shares the field number of its datafield.
func IndexFields(rec *marcxml.Record) []storage.Field {
	var fields []storage.Field
	n := 0
	for _, cf := range rec.ControlFields {
		n++
		fields = append(fields, storage.Field{FieldNumber: n, Tag: cf.Tag, Value: cf.Value})
	}
	for _, df := range rec.DataFields {
		n++
		for _, sf := range df.Subfields {
			fields = append(fields, storage.Field{
				FieldNumber: n,
				Tag:         df.Tag,
				Ind1:        df.Ind1,
				Ind2:        df.Ind2,
				Code:        sf.Code,
				Value:       sf.Value,
			})
		}
	}
	return fields
}

func (e *Engine) acquireLock() (*RunnerLock, error) {
	if e.cfg.LockPath == "" {
		return nil, nil
	}
	return AcquireLock(e.cfg.LockPath, LockOptions{Timeout: e.cfg.LockTimeout})
}

func (e *Engine) taskLogger(taskID int64) (*slog.Logger, func() error) {
	if e.cfg.LogDir == "" {
		return e.logger.With("task_id", taskID), func() error { return nil }
	}
	logger, closeLog, err := logging.NewTaskLogger(e.logCfg, e.cfg.LogDir, taskID)
	if err != nil {
		e.logger.Warn("task log disabled", "task_id", taskID, "error", err)
	}
	return logger, closeLog
}

func (e *Engine) checkRecordCount(n int) error {
	if e.cfg.MaxRecords > 0 && n > e.cfg.MaxRecords {
		return fmt.Errorf("%w: %d > %d", ErrTooManyRecords, n, e.cfg.MaxRecords)
	}
	return nil
}

func readRecords(path string) ([]*marcxml.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	records, err := marcxml.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}
