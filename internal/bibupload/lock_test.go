package bibupload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock_Exclusive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", ".runner.lock")

	lock, err := AcquireLock(path, LockOptions{})
	require.NoError(t, err)
	assert.Equal(t, path, lock.Path())
	assert.Equal(t, os.Getpid(), LockHolderPID(path))

	_, err = AcquireLock(path, LockOptions{Timeout: 100 * time.Millisecond, RetryInterval: 10 * time.Millisecond})
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())

	again, err := AcquireLock(path, LockOptions{})
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquireLock_WaitsForRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".runner.lock")
	lock, err := AcquireLock(path, LockOptions{})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = lock.Release()
	}()

	next, err := AcquireLock(path, LockOptions{Timeout: 5 * time.Second, RetryInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, next.Release())
}

func TestRunnerLock_NilRelease(t *testing.T) {
	t.Parallel()

	var lock *RunnerLock
	assert.NoError(t, lock.Release())
}

func TestLockHolderPID_Missing(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, LockHolderPID(filepath.Join(t.TempDir(), "none")))
}
