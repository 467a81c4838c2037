// Package logging builds the structured loggers used by bibupload.
//
// Operators read a plain text stream on the console. Each executed task also
// gets a JSON-lines file, so the two are fanned out from one logger:
//
//	{"ts":"2026-01-15T10:30:00Z","level":"INFO","msg":"Record 96013 DONE","task_id":7,"recid":96013}
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// Config configures the structured logger.
type Config struct {
	// Output is the writer for log output (default: os.Stderr)
	Output io.Writer

	// Level is the minimum log level (default: LevelInfo)
	Level slog.Level

	// Debug enables debug level logging (overrides Level)
	Debug bool
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Output: os.Stderr,
		Level:  slog.LevelInfo,
		Debug:  false,
	}
}

func (c *Config) level() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	return c.Level
}

// NewJSON creates a JSON-lines logger with the timestamp under "ts".
func NewJSON(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return slog.New(jsonHandler(outputOf(cfg), cfg.level()))
}

// NewConsole creates a text logger for operator-facing output. Timestamps are
// dropped to keep lines short.
func NewConsole(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return slog.New(consoleHandler(outputOf(cfg), cfg.level()))
}

// TaskLogPath returns the per-task log file path.
func TaskLogPath(logDir string, taskID int64) string {
	return filepath.Join(logDir, fmt.Sprintf("bibupload_task_%d.log", taskID))
}

// NewTaskLogger fans out console output and a JSON file for one task.
// The returned cleanup closes the file. When the file cannot be opened the
// logger falls back to console only and the error is returned alongside it.
func NewTaskLogger(cfg *Config, logDir string, taskID int64) (*slog.Logger, func() error, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	console := consoleHandler(outputOf(cfg), cfg.level())
	noop := func() error { return nil }

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return slog.New(console).With("task_id", taskID), noop,
			fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(TaskLogPath(logDir, taskID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return slog.New(console).With("task_id", taskID), noop,
			fmt.Errorf("failed to open task log: %w", err)
	}

	logger := slog.New(slogmulti.Fanout(console, jsonHandler(file, slog.LevelDebug))).With("task_id", taskID)
	return logger, file.Close, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func outputOf(cfg *Config) io.Writer {
	if cfg.Output == nil {
		return os.Stderr
	}
	return cfg.Output
}

func jsonHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Key = "ts"
			}
			return a
		},
	})
}

func consoleHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
}
