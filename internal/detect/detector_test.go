package detect_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quacwatch/internal/config"
	"quacwatch/internal/detect"
	"quacwatch/internal/ledger"
	"quacwatch/internal/logging"
)

type harness struct {
	target   detect.Target
	ledger   *ledger.Ledger
	enqueued *ledger.EnqueuedSet
	received []detect.Candidate
	fail     error
	detector *detect.Detector
}

func newHarness(t *testing.T, pattern string, opts detect.Options) *harness {
	t.Helper()
	base := t.TempDir()
	input := filepath.Join(base, "in")
	output := filepath.Join(base, "out")
	require.NoError(t, os.MkdirAll(input, 0o755))
	require.NoError(t, os.MkdirAll(output, 0o755))

	h := &harness{
		target: detect.NewTarget(config.WatchTarget{Input: input, Output: output, Pattern: pattern}),
	}
	h.ledger = ledger.New(h.target.LedgerPath())
	set, err := ledger.NewEnqueuedSet("")
	require.NoError(t, err)
	h.enqueued = set
	handoff := func(_ context.Context, c detect.Candidate) error {
		if h.fail != nil {
			return h.fail
		}
		h.received = append(h.received, c)
		return nil
	}
	h.detector = detect.New(h.target, h.ledger, h.enqueued, handoff, logging.NewNop(), opts)
	return h
}

func writeSized(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func names(cands []detect.Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Name)
	}
	return out
}

func TestCycleEmitsOnlyAfterSizeIsStable(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	path := filepath.Join(h.target.Input, "sample1.raw")

	writeSized(t, path, 10)
	assert.Empty(t, h.detector.Cycle(ctx), "first sighting never emits")

	writeSized(t, path, 20)
	assert.Empty(t, h.detector.Cycle(ctx), "growing file must not emit")

	emitted := h.detector.Cycle(ctx)
	require.Len(t, emitted, 1)
	assert.Equal(t, "sample1.raw", emitted[0].Name)
	assert.Equal(t, int64(20), emitted[0].Size)
	assert.Equal(t, path, emitted[0].Path)
	assert.True(t, h.enqueued.Contains("sample1.raw"))

	assert.Empty(t, h.detector.Cycle(ctx), "enqueued names are not re-emitted")
	assert.Len(t, h.received, 1)
}

func TestCycleSkipsZeroSizeAndNonMatching(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	writeSized(t, filepath.Join(h.target.Input, "empty.raw"), 0)
	writeSized(t, filepath.Join(h.target.Input, "notes.txt"), 5)

	h.detector.Cycle(ctx)
	assert.Empty(t, h.detector.Cycle(ctx))
}

func TestCycleSkipsLedgerEntries(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	writeSized(t, filepath.Join(h.target.Input, "done.raw"), 4)
	writeSized(t, filepath.Join(h.target.Input, "blank.raw"), 4)
	_, err := h.ledger.Append(ctx, "done.raw")
	require.NoError(t, err)

	h.detector.Cycle(ctx)
	assert.Equal(t, []string{"blank.raw"}, names(h.detector.Cycle(ctx)))
}

func TestLedgerRemovalReenablesWithoutRestart(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	writeSized(t, filepath.Join(h.target.Input, "redo.raw"), 4)
	_, err := h.ledger.Append(ctx, "redo.raw")
	require.NoError(t, err)

	h.detector.Cycle(ctx)
	assert.Empty(t, h.detector.Cycle(ctx))

	_, err = h.ledger.Remove(ctx, "redo.raw")
	require.NoError(t, err)
	assert.Equal(t, []string{"redo.raw"}, names(h.detector.Cycle(ctx)))
}

func TestProcessedNameLeavesEnqueuedSet(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	writeSized(t, filepath.Join(h.target.Input, "cycle.raw"), 4)

	h.detector.Cycle(ctx)
	require.Equal(t, []string{"cycle.raw"}, names(h.detector.Cycle(ctx)))
	require.True(t, h.enqueued.Contains("cycle.raw"))

	// Reconciliation records the name.
	_, err := h.ledger.Append(ctx, "cycle.raw")
	require.NoError(t, err)
	assert.Empty(t, h.detector.Cycle(ctx))
	assert.False(t, h.enqueued.Contains("cycle.raw"), "ledger takes over once the name is recorded")

	_, err = h.ledger.Remove(ctx, "cycle.raw")
	require.NoError(t, err)
	assert.Equal(t, []string{"cycle.raw"}, names(h.detector.Cycle(ctx)))
	assert.Len(t, h.received, 2)
}

func TestReleasedNameIsEmittedWhenLedgerLineIsGone(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	writeSized(t, filepath.Join(h.target.Input, "quick.raw"), 4)

	h.detector.Cycle(ctx)
	require.Equal(t, []string{"quick.raw"}, names(h.detector.Cycle(ctx)))

	// The job finished and its ledger line was deleted before the next cycle.
	h.detector.Release("quick.raw")
	assert.False(t, h.enqueued.Contains("quick.raw"))
	assert.Equal(t, []string{"quick.raw"}, names(h.detector.Cycle(ctx)))
}

func TestCycleSkipsNamesTheLedgerCannotRecord(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	for _, name := range []string{"#draft.raw", " padded.raw", "trailing.raw ", "good.raw"} {
		writeSized(t, filepath.Join(h.target.Input, name), 10)
	}

	assert.Empty(t, h.detector.Cycle(ctx))
	emitted := h.detector.Cycle(ctx)
	assert.Equal(t, []string{"good.raw"}, names(emitted))
	assert.Empty(t, h.detector.Cycle(ctx), "rejected names stay skipped")

	assert.ElementsMatch(t, []string{"good.raw"}, h.enqueued.Names())
	assert.Len(t, h.received, 1)
}

func TestHandoffFailureRetriesNextCycle(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	writeSized(t, filepath.Join(h.target.Input, "flaky.raw"), 8)

	h.detector.Cycle(ctx)
	h.fail = errors.New("disk full")
	assert.Empty(t, h.detector.Cycle(ctx))
	assert.False(t, h.enqueued.Contains("flaky.raw"))

	h.fail = nil
	assert.Equal(t, []string{"flaky.raw"}, names(h.detector.Cycle(ctx)))
}

func TestAcquisitionDirectoriesAreSizedRecursively(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	acq := filepath.Join(h.target.Input, "run7.d")
	writeSized(t, filepath.Join(acq, "analysis.tdf"), 10)
	writeSized(t, filepath.Join(acq, "sub", "data.bin"), 5)
	require.NoError(t, os.MkdirAll(filepath.Join(h.target.Input, "plain.raw.dir"), 0o755))

	h.detector.Cycle(ctx)
	emitted := h.detector.Cycle(ctx)
	require.Len(t, emitted, 1)
	assert.Equal(t, "run7.d", emitted[0].Name)
	assert.True(t, emitted[0].IsDir)
	assert.Equal(t, int64(15), emitted[0].Size)
}

func TestAcquisitionDirectoryStillGrowing(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	acq := filepath.Join(h.target.Input, "run8.d")
	writeSized(t, filepath.Join(acq, "a.bin"), 3)

	h.detector.Cycle(ctx)
	writeSized(t, filepath.Join(acq, "b.bin"), 3)
	assert.Empty(t, h.detector.Cycle(ctx))
	assert.Len(t, h.detector.Cycle(ctx), 1)
}

func TestScanErrorKeepsPreviousSnapshot(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	writeSized(t, filepath.Join(h.target.Input, "x.raw"), 4)
	h.detector.Cycle(ctx)

	moved := h.target.Input + ".away"
	require.NoError(t, os.Rename(h.target.Input, moved))
	assert.Empty(t, h.detector.Cycle(ctx))
	_, err := h.detector.Scan()
	require.Error(t, err)

	require.NoError(t, os.Rename(moved, h.target.Input))
	assert.Equal(t, []string{"x.raw"}, names(h.detector.Cycle(ctx)))
}

func TestVanishedFilesAreDropped(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	path := filepath.Join(h.target.Input, "gone.raw")
	writeSized(t, path, 4)
	h.detector.Cycle(ctx)
	require.NoError(t, os.Remove(path))
	assert.Empty(t, h.detector.Cycle(ctx))

	writeSized(t, path, 4)
	assert.Empty(t, h.detector.Cycle(ctx), "reappearing file starts a fresh observation")
}

func TestPreScanErrorDoesNotStopScan(t *testing.T) {
	calls := 0
	h := newHarness(t, "*.raw", detect.Options{PreScan: func(context.Context) error {
		calls++
		return errors.New("share unreachable")
	}})
	ctx := context.Background()
	writeSized(t, filepath.Join(h.target.Input, "a.raw"), 4)

	h.detector.Cycle(ctx)
	assert.Len(t, h.detector.Cycle(ctx), 1)
	assert.Equal(t, 2, calls)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, "*.raw", detect.Options{})
	ctx := context.Background()
	require.NoError(t, h.detector.Start(ctx))
	assert.Error(t, h.detector.Start(ctx))
	h.detector.Stop()
	h.detector.Stop()
}
