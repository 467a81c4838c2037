package bibupload

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrLockHeld is returned when another runner holds the runner lock.
var ErrLockHeld = errors.New("runner lock held by another process")

// LockOptions configures lock acquisition.
type LockOptions struct {
	// Timeout is the maximum time to wait. Zero means a single attempt.
	Timeout time.Duration

	// RetryInterval defaults to 50ms.
	RetryInterval time.Duration
}

// Path returns the path of the lock file.
func (l *RunnerLock) Path() string {
	return l.path
}

// LockHolderPID reads the pid recorded in a lock file, or 0.
func LockHolderPID(path string) int {
	return readLockPID(path)
}

func writePID(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}
	return file.Sync()
}

func readLockPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0
	}
	return pid
}
