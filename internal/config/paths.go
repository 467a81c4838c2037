// Package config provides configuration management for bibupload.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds all the path configurations for bibupload.
type Paths struct {
	// ConfigDir is the directory for configuration files (~/.config/bibupload)
	ConfigDir string

	// DataDir is the directory for the database, logs and locks (~/.local/share/bibupload)
	DataDir string

	// TmpDir is where uploads stage temporary MARC-XML files
	TmpDir string
}

// DefaultPaths returns the default paths based on XDG Base Directory spec.
// On Windows, it uses %APPDATA% instead.
func DefaultPaths() *Paths {
	home := homeDir()

	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(home, "AppData", "Local")
		}

		return &Paths{
			ConfigDir: filepath.Join(appData, "bibupload"),
			DataDir:   filepath.Join(localAppData, "bibupload"),
			TmpDir:    filepath.Join(localAppData, "bibupload", "tmp"),
		}
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(home, ".local", "share")
	}

	dataDir := filepath.Join(dataHome, "bibupload")
	return &Paths{
		ConfigDir: filepath.Join(configHome, "bibupload"),
		DataDir:   dataDir,
		TmpDir:    filepath.Join(dataDir, "tmp"),
	}
}

// PathsForRoot lays every directory out under a single root. Tests and
// throwaway installations use it.
func PathsForRoot(root string) *Paths {
	return &Paths{
		ConfigDir: filepath.Join(root, "config"),
		DataDir:   filepath.Join(root, "data"),
		TmpDir:    filepath.Join(root, "tmp"),
	}
}

// ConfigFile returns the path to the main configuration file.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.ConfigDir, "config.yaml")
}

// DatabaseFile returns the path to the SQLite database.
func (p *Paths) DatabaseFile() string {
	return filepath.Join(p.DataDir, "bibupload.db")
}

// LogDir returns the path to the task log directory.
func (p *Paths) LogDir() string {
	return filepath.Join(p.DataDir, "logs")
}

// LockFile returns the path to the runner lock file.
func (p *Paths) LockFile() string {
	return filepath.Join(p.DataDir, ".runner.lock")
}

// EnsureDirectories creates all necessary directories.
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.ConfigDir,
		p.DataDir,
		p.TmpDir,
		p.LogDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if runtime.GOOS == "windows" {
			return os.Getenv("USERPROFILE")
		}
		return os.Getenv("HOME")
	}
	return home
}
