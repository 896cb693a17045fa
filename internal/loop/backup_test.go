package loop

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupCapturesFirstVersionOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.ts", "original")

	b := NewBackupSet(root)
	require.NoError(t, b.Record("src/a.ts"))

	writeFile(t, root, "src/a.ts", "mutated once")
	require.NoError(t, b.Record("src/a.ts"))
	writeFile(t, root, "src/a.ts", "mutated twice")

	assert.Equal(t, 1, b.Len())
	restored, err := b.RestoreAll()
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Equal(t, "original", readFile(t, root, "src/a.ts"))
}

func TestBackupDeletesCreatedFiles(t *testing.T) {
	root := t.TempDir()

	b := NewBackupSet(root)
	require.NoError(t, b.Record("src/new.ts"))
	writeFile(t, root, "src/new.ts", "created by a fix")

	_, err := b.RestoreAll()
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(root, "src/new.ts"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRestoreEmptySetIsNoop(t *testing.T) {
	b := NewBackupSet(t.TempDir())
	restored, err := b.RestoreAll()
	require.NoError(t, err)
	assert.Zero(t, restored)
}

func TestSessionLockExcludesSecondSession(t *testing.T) {
	stateDir := t.TempDir()

	lock, err := AcquireSessionLock(stateDir)
	require.NoError(t, err)

	_, err = AcquireSessionLock(stateDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, lock.Release())
	second, err := AcquireSessionLock(stateDir)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}
