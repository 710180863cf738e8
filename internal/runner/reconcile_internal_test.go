package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueResultDirSequence(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	first, err := uniqueResultDir(root, "s", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "s"), first)

	second, err := uniqueResultDir(root, "s", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "s-20240102-030405"), second)

	third, err := uniqueResultDir(root, "s", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "s-2"), third)

	fourth, err := uniqueResultDir(root, "s", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "s-3"), fourth)
}

func TestUniqueResultDirCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing", "out")
	dir, err := uniqueResultDir(root, "x", time.Now())
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
