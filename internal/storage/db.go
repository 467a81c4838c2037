package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// walCheckpointInterval is how often we checkpoint the WAL file
	// while a long batch is running.
	walCheckpointInterval = 5 * time.Minute

	defaultBusyTimeoutMs = 5000
)

// Option configures a SQLiteStore.
type Option func(*storeOptions)

type storeOptions struct {
	busyTimeoutMs int
	logger        *slog.Logger
}

// WithBusyTimeout sets the SQLite busy timeout in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(o *storeOptions) {
		if ms > 0 {
			o.busyTimeoutMs = ms
		}
	}
}

// WithLogger sets the logger used for background maintenance messages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	logger    *slog.Logger
	stopCh    chan struct{} // signals background goroutines to stop
	stoppedCh chan struct{} // signals background goroutines have stopped
	closeOnce sync.Once     // ensures Close() is idempotent
	closeErr  error         // stores the error from Close()
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// brings its schema up to date.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}

	o := storeOptions{busyTimeoutMs: defaultBusyTimeoutMs, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// modernc.org/sqlite uses _pragma=name(value) syntax
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		dbPath, o.busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Ping to establish connection and ensure pragmas are applied
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{
		db:        db,
		path:      dbPath,
		logger:    o.logger,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	go store.walCheckpointLoop()

	return store, nil
}

// Close closes the database connection.
// It is safe to call Close multiple times.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			<-s.stoppedCh
		}

		if s.db != nil {
			// Final checkpoint before closing to merge WAL into main db
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}

// DB returns the underlying database connection for advanced use cases.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Exec runs a raw statement and returns the number of affected rows.
func (s *SQLiteStore) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute statement: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// QueryIDs runs a raw query whose first column is an integer id.
func (s *SQLiteStore) QueryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run query: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return ids, nil
}

// walCheckpointLoop periodically checkpoints the WAL file.
func (s *SQLiteStore) walCheckpointLoop() {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(walCheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				s.logger.Warn("WAL checkpoint failed", "error", err)
			}
		}
	}
}

// migrate runs database migrations to ensure the schema is up to date.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{version: 1, sql: migrationV1},
		{version: 2, sql: migrationV2},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration v%d failed: %w", m.version, err)
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO schema_meta (version, applied_at_unix_ms)
			VALUES (?, ?)
		`, m.version, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a fresh file.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	version := 0
	row := s.db.QueryRowContext(ctx, `
		SELECT version FROM schema_meta ORDER BY version DESC LIMIT 1
	`)
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isTableNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// isTableNotFoundError checks if the error indicates a missing table.
func isTableNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "no such table") || strings.Contains(errStr, "does not exist")
}

// isDuplicateKeyError checks if the error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY") ||
		strings.Contains(errStr, "duplicate key")
}

// migrationV1 creates the record tables.
const migrationV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_meta (
  version INTEGER PRIMARY KEY,
  applied_at_unix_ms INTEGER NOT NULL
);

-- Records
CREATE TABLE IF NOT EXISTS bibrec (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  creation_unix_ms INTEGER NOT NULL,
  modification_unix_ms INTEGER NOT NULL
);

-- Formatted records (no foreign key: deleted by its own statement)
CREATE TABLE IF NOT EXISTS bibfmt (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  id_bibrec INTEGER NOT NULL,
  format TEXT NOT NULL,
  last_updated_unix_ms INTEGER NOT NULL,
  value BLOB NOT NULL,
  UNIQUE (id_bibrec, format)
);

-- Flattened field index
CREATE TABLE IF NOT EXISTS bibxxx (
  id_bibrec INTEGER NOT NULL REFERENCES bibrec(id) ON DELETE CASCADE,
  field_number INTEGER NOT NULL,
  tag TEXT NOT NULL,
  ind1 TEXT NOT NULL DEFAULT '',
  ind2 TEXT NOT NULL DEFAULT '',
  code TEXT NOT NULL DEFAULT '',
  value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bibxxx_rec ON bibxxx(id_bibrec);
CREATE INDEX IF NOT EXISTS idx_bibxxx_lookup ON bibxxx(tag, code, value);

-- Record history
CREATE TABLE IF NOT EXISTS hstRECORD (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  id_bibrec INTEGER NOT NULL,
  marcxml BLOB NOT NULL,
  job_id INTEGER NOT NULL,
  job_name TEXT NOT NULL,
  job_person TEXT NOT NULL,
  job_date_unix_ms INTEGER NOT NULL,
  job_details TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_hstrecord_rec ON hstRECORD(id_bibrec, job_date_unix_ms DESC);
`

// migrationV2 adds the task queue.
const migrationV2 = `
CREATE TABLE IF NOT EXISTS schTASK (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  proc TEXT NOT NULL,
  user TEXT NOT NULL,
  arguments TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'WAITING',
  runner TEXT NOT NULL DEFAULT '',
  progress TEXT NOT NULL DEFAULT '',
  created_unix_ms INTEGER NOT NULL,
  started_unix_ms INTEGER NOT NULL DEFAULT 0,
  finished_unix_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_schtask_status ON schTASK(status, id);
`
