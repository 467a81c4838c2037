package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/bibupload/internal/bibupload"
	"github.com/runger/bibupload/internal/config"
	"github.com/runger/bibupload/internal/logging"
	"github.com/runger/bibupload/internal/storage"
)

// app is the state shared by the commands of one invocation.
type app struct {
	paths  *config.Paths
	cfg    *config.Config
	result *bibupload.Result
}

func (a *app) openStore(cmd *cobra.Command) (*storage.SQLiteStore, error) {
	logger := logging.NewConsole(&logging.Config{Output: cmd.ErrOrStderr(), Level: a.cfg.SlogLevel()})
	store, err := storage.NewSQLiteStore(a.cfg.DatabasePath(a.paths),
		storage.WithBusyTimeout(a.cfg.Database.BusyTimeoutMs),
		storage.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func (a *app) engine(cmd *cobra.Command, store storage.Store) *bibupload.Engine {
	logDir := ""
	if a.cfg.Log.TaskLogs {
		logDir = a.cfg.LogDir(a.paths)
	}
	return bibupload.New(store, bibupload.Config{
		Output:      cmd.OutOrStdout(),
		Level:       a.cfg.SlogLevel(),
		LogDir:      logDir,
		LockPath:    a.paths.LockFile(),
		LockTimeout: time.Duration(a.cfg.Upload.LockTimeoutMs) * time.Millisecond,
		MaxRecords:  a.cfg.Upload.MaxRecords,
		DefaultUser: a.cfg.User(),
	})
}

// runUpload submits a file, or runs a task when arg is a task id and no
// mode flag was given.
func (a *app) runUpload(cmd *cobra.Command, mf bibupload.ModeFlags, opts bibupload.Options, arg string) error {
	store, err := a.openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := a.engine(cmd, store)
	ctx := cmd.Context()

	if !mf.Any() {
		taskID, ok := parseTaskID(arg)
		if !ok {
			return bibupload.ErrNoMode
		}
		result, err := engine.Run(ctx, taskID)
		a.result = result
		return err
	}

	mode, err := mf.Mode()
	if err != nil {
		return err
	}
	opts.Mode = mode
	opts.File = arg
	result, err := engine.Submit(ctx, opts)
	a.result = result
	return err
}

func parseTaskID(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseRecID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", s)
	}
	return id, nil
}
