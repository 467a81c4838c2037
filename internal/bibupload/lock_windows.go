//go:build windows

package bibupload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/windows"
)

const windowsStillActive = 259

// RunnerLock is an exclusive lock held while a task executes. On Windows it is
// the exclusive creation of the lock file.
type RunnerLock struct {
	path string
	file *os.File
}

// AcquireLock takes the runner lock at path, retrying until opts.Timeout.
// Lock files left by dead processes are removed.
func AcquireLock(path string, opts LockOptions) (*RunnerLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}

	deadline := time.Now().Add(opts.Timeout)
	for {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			if err := writePID(file); err != nil {
				file.Close()
				_ = os.Remove(path)
				return nil, err
			}
			return &RunnerLock{path: path, file: file}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to acquire runner lock: %w", err)
		}

		if pid := readLockPID(path); pid > 0 && !processExists(pid) {
			_ = os.Remove(path)
			continue
		}
		if opts.Timeout == 0 || time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, path)
		}
		time.Sleep(opts.RetryInterval)
	}
}

// Release closes and removes the lock file. It is safe to call more than once.
func (l *RunnerLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	_ = os.Remove(l.path)
	if err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	return nil
}

func processExists(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == windowsStillActive
}
