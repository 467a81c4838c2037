//go:build !windows

package bibupload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// RunnerLock is an exclusive advisory lock held while a task executes.
type RunnerLock struct {
	path string
	file *os.File
}

// AcquireLock takes the runner lock at path, retrying until opts.Timeout.
// A zero timeout fails immediately when the lock is held.
func AcquireLock(path string, opts LockOptions) (*RunnerLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}

	deadline := time.Now().Add(opts.Timeout)
	for {
		lock, err := tryAcquireLock(path)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) {
			return nil, fmt.Errorf("failed to acquire runner lock: %w", err)
		}
		if opts.Timeout == 0 || time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, path)
		}
		time.Sleep(opts.RetryInterval)
	}
}

func tryAcquireLock(path string) (*RunnerLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		return nil, err
	}
	if err := writePID(file); err != nil {
		_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, err
	}
	return &RunnerLock{path: path, file: file}, nil
}

// Release unlocks and closes the lock file. It is safe to call more than once.
// The file itself stays: removing it would let a waiter lock a stale inode.
func (l *RunnerLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to release runner lock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close lock file: %w", closeErr)
	}
	return nil
}
