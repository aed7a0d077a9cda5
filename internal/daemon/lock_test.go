package daemon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_TryLockAndUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	l := NewLock(path)

	acquired, err := l.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, l.IsLocked())
	assert.Equal(t, path, l.Path())

	require.NoError(t, l.Unlock())
	assert.False(t, l.IsLocked())
}

func TestLock_SecondHolderIsRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")

	first := NewLock(path)
	acquired, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)

	// A separate Lock opens its own descriptor, so flock treats it
	// as another holder even inside one process.
	second := NewLock(path)
	acquired, err = second.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.False(t, second.IsLocked())

	require.NoError(t, first.Unlock())

	acquired, err = second.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, second.Unlock())
}

func TestLock_UnlockWithoutLockIsNoop(t *testing.T) {
	l := NewLock(filepath.Join(t.TempDir(), "daemon.lock"))
	require.NoError(t, l.Unlock())
}

func TestLock_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "run", "daemon.lock")
	l := NewLock(path)

	acquired, err := l.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, l.Unlock())
}
