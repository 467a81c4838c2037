package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	paths := DefaultPaths()

	if paths.ConfigDir == "" {
		t.Error("ConfigDir is empty")
	}
	if paths.DataDir == "" {
		t.Error("DataDir is empty")
	}
	if paths.TmpDir == "" {
		t.Error("TmpDir is empty")
	}

	// All paths should be absolute
	if !filepath.IsAbs(paths.ConfigDir) {
		t.Errorf("ConfigDir should be absolute: %s", paths.ConfigDir)
	}
	if !filepath.IsAbs(paths.DataDir) {
		t.Errorf("DataDir should be absolute: %s", paths.DataDir)
	}
}

func TestDefaultPaths_XDG(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("XDG test not applicable on Windows")
	}

	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	t.Setenv("XDG_DATA_HOME", "/custom/data")

	paths := DefaultPaths()

	if paths.ConfigDir != "/custom/config/bibupload" {
		t.Errorf("ConfigDir = %s, want /custom/config/bibupload", paths.ConfigDir)
	}
	if paths.DataDir != "/custom/data/bibupload" {
		t.Errorf("DataDir = %s, want /custom/data/bibupload", paths.DataDir)
	}
	if paths.TmpDir != "/custom/data/bibupload/tmp" {
		t.Errorf("TmpDir = %s, want /custom/data/bibupload/tmp", paths.TmpDir)
	}
}

func TestPaths_Files(t *testing.T) {
	paths := PathsForRoot("/base")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ConfigFile", paths.ConfigFile(), filepath.Join("/base", "config", "config.yaml")},
		{"DatabaseFile", paths.DatabaseFile(), filepath.Join("/base", "data", "bibupload.db")},
		{"LogDir", paths.LogDir(), filepath.Join("/base", "data", "logs")},
		{"LockFile", paths.LockFile(), filepath.Join("/base", "data", ".runner.lock")},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %s, want %s", tt.name, tt.got, tt.want)
		}
	}
}

func TestEnsureDirectories(t *testing.T) {
	paths := PathsForRoot(t.TempDir())

	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() error = %v", err)
	}

	for _, dir := range []string{paths.ConfigDir, paths.DataDir, paths.TmpDir, paths.LogDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("directory %s not created: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}
