package ledger_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quacwatch/internal/ledger"
)

func TestLedgerMissingFileIsEmpty(t *testing.T) {
	l := ledger.New(filepath.Join(t.TempDir(), ledger.FileName))
	set, err := l.Load()
	require.NoError(t, err)
	assert.Empty(t, set)

	present, err := l.Contains("a.raw")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestLedgerSkipsCommentsAndBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), ledger.FileName)
	require.NoError(t, os.WriteFile(path, []byte("# processed files\n\n  a_std.raw  \n#b_std.raw\nc_std.raw"), 0o644))

	entries, err := ledger.New(path).Entries()
	require.NoError(t, err)
	assert.Equal(t, []string{"a_std.raw", "c_std.raw"}, entries)
}

func TestLedgerAppendDeduplicatesAndRepairsNewline(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", ledger.FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("hand_edited.raw"), 0o644))

	l := ledger.New(path)
	appended, err := l.Append(ctx, "b_std.raw")
	require.NoError(t, err)
	assert.True(t, appended)

	appended, err = l.Append(ctx, "b_std.raw")
	require.NoError(t, err)
	assert.False(t, appended, "second append must be a no-op")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hand_edited.raw\nb_std.raw\n", string(data))
}

func TestLedgerAppendRejectsInvalidNames(t *testing.T) {
	l := ledger.New(filepath.Join(t.TempDir(), ledger.FileName))
	for _, name := range []string{"", "dir/a.raw", "#a.raw", " a.raw", "a\nb"} {
		_, err := l.Append(context.Background(), name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestLedgerConcurrentAppendsNeverInterleave(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ledger.FileName)
	shared := ledger.New(path)

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := shared
			if i%2 == 0 {
				l = ledger.New(path)
			}
			_, err := l.Append(ctx, fmt.Sprintf("run_%02d_std.raw", i%20))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.Len(t, lines, 20, "each name appears exactly once")
	seen := map[string]bool{}
	for _, line := range lines {
		assert.Regexp(t, `^run_\d\d_std\.raw$`, line)
		assert.False(t, seen[line], "duplicate line %q", line)
		seen[line] = true
	}
}

func TestLedgerRemoveReenablesName(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ledger.FileName)
	require.NoError(t, os.WriteFile(path, []byte("# keep\na.raw\nb.raw\na.raw\n"), 0o644))

	l := ledger.New(path)
	removed, err := l.Remove(ctx, "a.raw")
	require.NoError(t, err)
	assert.True(t, removed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# keep\nb.raw\n", string(data))

	removed, err = l.Remove(ctx, "zzz.raw")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestLedgerLockLivesInLockDir(t *testing.T) {
	ctx := context.Background()
	output := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(output, 0o755))
	lockDir := filepath.Join(t.TempDir(), "state", "locks")
	path := filepath.Join(output, ledger.FileName)

	l := ledger.NewWithLockDir(path, lockDir)
	_, err := l.Append(ctx, "a.raw")
	require.NoError(t, err)

	entries, err := os.ReadDir(output)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.FileName, entries[0].Name())

	lockPath := ledger.LockPath(lockDir, path)
	assert.Equal(t, lockDir, filepath.Dir(lockPath))
	assert.FileExists(t, lockPath)
	assert.NotEqual(t, lockPath, ledger.LockPath(lockDir, filepath.Join(t.TempDir(), ledger.FileName)))

	held := flock.New(lockPath)
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = ledger.NewWithLockDir(path, lockDir).Append(waitCtx, "b.raw")
	assert.Error(t, err, "append must wait for the shared lock")
}

func TestEnqueuedSetMirrorsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enqueued", "target.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("stale_from_last_run.raw\n"), 0o644))

	set, err := ledger.NewEnqueuedSet(path)
	require.NoError(t, err)
	assert.Empty(t, set.Names(), "a new run starts empty")

	added, err := set.Add("b.raw")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = set.Add("a.raw")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = set.Add("a.raw")
	require.NoError(t, err)
	assert.False(t, added)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a.raw\nb.raw\n", string(data))

	require.NoError(t, set.Remove("a.raw"))
	assert.False(t, set.Contains("a.raw"))
	assert.True(t, set.Contains("b.raw"))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "b.raw\n", string(data))
}

func TestEnqueuedSetWithoutMirror(t *testing.T) {
	set, err := ledger.NewEnqueuedSet("")
	require.NoError(t, err)
	added, err := set.Add("x.raw")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"x.raw"}, set.Names())
}

func TestMatchesSupportsGlobEntries(t *testing.T) {
	entries := map[string]struct{}{
		"exact_std.raw": {},
		"blank_*.raw":   {},
		"[bad":          {},
	}
	assert.True(t, ledger.Matches(entries, "exact_std.raw"))
	assert.True(t, ledger.Matches(entries, "blank_01.raw"))
	assert.False(t, ledger.Matches(entries, "sample_std.raw"))
	assert.False(t, ledger.Matches(entries, "[bad_x"))
}
