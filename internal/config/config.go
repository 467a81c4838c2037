package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the bibupload configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Paths    PathsConfig    `yaml:"paths"`
	Upload   UploadConfig   `yaml:"upload"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	Path          string `yaml:"path"`            // SQLite file (overrides default)
	BusyTimeoutMs int    `yaml:"busy_timeout_ms"` // SQLite busy timeout
}

// PathsConfig holds directory overrides.
type PathsConfig struct {
	TmpDir string `yaml:"tmp_dir"` // Staging directory for uploaded files
	LogDir string `yaml:"log_dir"` // Per-task log directory
}

// UploadConfig holds upload settings.
type UploadConfig struct {
	DefaultUser   string `yaml:"default_user"`    // Task owner when --user is not given
	LockTimeoutMs int    `yaml:"lock_timeout_ms"` // Wait for the runner lock (0 = fail fast)
	MaxRecords    int    `yaml:"max_records"`     // Records per file (0 = unlimited)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level    string `yaml:"level"`     // debug, info, warn, error
	TaskLogs bool   `yaml:"task_logs"` // Write a JSON log file per task
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:          "", // Use default from paths
			BusyTimeoutMs: 5000,
		},
		Paths: PathsConfig{
			TmpDir: "",
			LogDir: "",
		},
		Upload: UploadConfig{
			DefaultUser:   "",
			LockTimeoutMs: 5000,
			MaxRecords:    0,
		},
		Log: LogConfig{
			Level:    "info",
			TaskLogs: true,
		},
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	paths := DefaultPaths()
	return LoadFromFile(paths.ConfigFile())
}

// LoadFromFile loads configuration from the specified file.
// If the file doesn't exist, returns default configuration.
// Environment variable overrides are applied after file loading.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to the specified file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Database.BusyTimeoutMs < 0 {
		return errors.New("database.busy_timeout_ms must be >= 0")
	}
	if c.Upload.LockTimeoutMs < 0 {
		return errors.New("upload.lock_timeout_ms must be >= 0")
	}
	if c.Upload.MaxRecords < 0 {
		return errors.New("upload.max_records must be >= 0")
	}
	if !isValidLogLevel(c.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn, or error (got: %s)", c.Log.Level)
	}
	return nil
}

// ApplyEnvOverrides applies BIBUPLOAD_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("BIBUPLOAD_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("BIBUPLOAD_TMPDIR"); v != "" {
		c.Paths.TmpDir = v
	}
	if v := os.Getenv("BIBUPLOAD_LOGDIR"); v != "" {
		c.Paths.LogDir = v
	}
	if v := os.Getenv("BIBUPLOAD_USER"); v != "" {
		c.Upload.DefaultUser = v
	}
	if v := os.Getenv("BIBUPLOAD_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Log.Level = "debug"
		}
	}
	if v := os.Getenv("BIBUPLOAD_LOG_LEVEL"); v != "" {
		if isValidLogLevel(v) {
			c.Log.Level = v
		}
	}
}

// DatabasePath resolves the database file against paths.
func (c *Config) DatabasePath(p *Paths) string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return p.DatabaseFile()
}

// TmpDir resolves the staging directory against paths.
func (c *Config) TmpDir(p *Paths) string {
	if c.Paths.TmpDir != "" {
		return c.Paths.TmpDir
	}
	return p.TmpDir
}

// LogDir resolves the task log directory against paths.
func (c *Config) LogDir(p *Paths) string {
	if c.Paths.LogDir != "" {
		return c.Paths.LogDir
	}
	return p.LogDir()
}

// User returns the configured task owner, falling back to the OS user.
func (c *Config) User() string {
	if c.Upload.DefaultUser != "" {
		return c.Upload.DefaultUser
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "admin"
}

// SlogLevel converts Log.Level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ListKeys returns user-facing configuration keys.
func ListKeys() []string {
	return []string{
		"database.path",
		"database.busy_timeout_ms",
		"paths.tmp_dir",
		"paths.log_dir",
		"upload.default_user",
		"upload.lock_timeout_ms",
		"upload.max_records",
		"log.level",
		"log.task_logs",
	}
}

// Get retrieves a configuration value by dot-separated key.
// For example: "database.path" or "log.level"
func (c *Config) Get(key string) (string, error) {
	section, field, err := splitKey(key)
	if err != nil {
		return "", err
	}

	switch section {
	case "database":
		switch field {
		case "path":
			return c.Database.Path, nil
		case "busy_timeout_ms":
			return strconv.Itoa(c.Database.BusyTimeoutMs), nil
		}
	case "paths":
		switch field {
		case "tmp_dir":
			return c.Paths.TmpDir, nil
		case "log_dir":
			return c.Paths.LogDir, nil
		}
	case "upload":
		switch field {
		case "default_user":
			return c.Upload.DefaultUser, nil
		case "lock_timeout_ms":
			return strconv.Itoa(c.Upload.LockTimeoutMs), nil
		case "max_records":
			return strconv.Itoa(c.Upload.MaxRecords), nil
		}
	case "log":
		switch field {
		case "level":
			return c.Log.Level, nil
		case "task_logs":
			return strconv.FormatBool(c.Log.TaskLogs), nil
		}
	default:
		return "", fmt.Errorf("unknown section: %s", section)
	}
	return "", fmt.Errorf("unknown key: %s", key)
}

// Set sets a configuration value by dot-separated key and re-validates.
func (c *Config) Set(key, value string) error {
	section, field, err := splitKey(key)
	if err != nil {
		return err
	}

	next := *c
	switch section + "." + field {
	case "database.path":
		next.Database.Path = value
	case "database.busy_timeout_ms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		next.Database.BusyTimeoutMs = n
	case "paths.tmp_dir":
		next.Paths.TmpDir = value
	case "paths.log_dir":
		next.Paths.LogDir = value
	case "upload.default_user":
		next.Upload.DefaultUser = value
	case "upload.lock_timeout_ms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		next.Upload.LockTimeoutMs = n
	case "upload.max_records":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		next.Upload.MaxRecords = n
	case "log.level":
		next.Log.Level = value
	case "log.task_logs":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %w", key, err)
		}
		next.Log.TaskLogs = b
	default:
		return fmt.Errorf("unknown key: %s", key)
	}

	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

func splitKey(key string) (section, field string, err error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return "", "", errors.New("key must be in format 'section.key'")
	}
	return parts[0], parts[1], nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
