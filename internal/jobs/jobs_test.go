package jobs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quacwatch/internal/config"
	"quacwatch/internal/detect"
	"quacwatch/internal/jobs"
	"quacwatch/internal/logging"
	"quacwatch/internal/services"
)

const testTemplate = `{"input": "%%%INPUT%%%", "output": "%%%OUTPUT%%%", "fasta": "%%%FASTA%%%%", "spike": "%%%SPIKE%%%"}`

type fixture struct {
	cfg    *config.Config
	target detect.Target
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.JobsDir = filepath.Join(base, "jobs")
	cfg.Pipeline.Template = filepath.Join(base, "mcquac.tmpl.json")
	cfg.Reference.FastaDir = filepath.Join(base, "fasta")
	cfg.Reference.SpikeDir = filepath.Join(base, "spike")
	require.NoError(t, os.WriteFile(cfg.Pipeline.Template, []byte(testTemplate), 0o644))

	target := detect.NewTarget(config.WatchTarget{
		Input:   filepath.Join(base, "in"),
		Output:  filepath.Join(base, "out"),
		Pattern: "*.raw",
	})
	require.NoError(t, os.MkdirAll(target.Input, 0o755))
	require.NoError(t, os.MkdirAll(target.Output, 0o755))
	return fixture{cfg: &cfg, target: target}
}

func (f fixture) candidate(t *testing.T, name string, content string) detect.Candidate {
	t.Helper()
	path := filepath.Join(f.target.Input, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return detect.Candidate{Path: path, Name: name, Size: int64(len(content)), Target: f.target}
}

func TestContentKeyIsStable(t *testing.T) {
	a := jobs.ContentKey("/data/in/sample.raw")
	b := jobs.ContentKey("/data/in/../in/sample.raw")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.True(t, jobs.ValidKey(a))
	assert.NotEqual(t, a, jobs.ContentKey("/data/in/other.raw"))
	assert.False(t, jobs.ValidKey("not-a-key"))
}

func TestMaterializeBuildsReadyJob(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.cfg.Reference.FastaDir, 0o755))
	fasta := filepath.Join(f.cfg.Reference.FastaDir, "human.fasta")
	require.NoError(t, os.WriteFile(fasta, []byte(">p\nMK\n"), 0o644))

	m := jobs.NewMaterializer(f.cfg, logging.NewNop(), nil)
	cand := f.candidate(t, "sample1.raw", "spectra")

	layout, err := m.Materialize(context.Background(), cand)
	require.NoError(t, err)

	state, err := layout.State()
	require.NoError(t, err)
	assert.Equal(t, jobs.StateReady, state)

	copied, err := os.ReadFile(filepath.Join(layout.InputDir(), "sample1.raw"))
	require.NoError(t, err)
	assert.Equal(t, "spectra", string(copied))

	for _, dir := range []string{layout.OutputDir(), layout.WorkDir(), layout.LogsDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	params, err := os.ReadFile(layout.ParamsPath())
	require.NoError(t, err)
	assert.Contains(t, string(params), `"input": "`+layout.InputDir()+`"`)
	assert.Contains(t, string(params), `"fasta": "`+fasta+`"`)
	assert.Contains(t, string(params), jobs.TokenSpike, "missing spike reference leaves the token")
	assert.NotContains(t, string(params), fasta+`%`)

	meta, err := jobs.ReadMetadata(layout)
	require.NoError(t, err)
	assert.Equal(t, layout.Key, meta.Key)
	assert.Equal(t, cand.Path, meta.Source.Path)
	assert.Equal(t, f.target.ID, meta.Target.ID)
	assert.Equal(t, f.target.LedgerPath(), meta.LedgerPath)
	assert.Equal(t, fasta, meta.References.Fasta)

	fields, err := jobs.ReadMarker(layout, jobs.StateReady)
	require.NoError(t, err)
	src, ok := jobs.LastValue(fields, jobs.KeySource)
	assert.True(t, ok)
	assert.Equal(t, cand.Path, src)
}

func TestMaterializeTwiceIsAlreadyQueued(t *testing.T) {
	f := newFixture(t)
	m := jobs.NewMaterializer(f.cfg, logging.NewNop(), nil)
	cand := f.candidate(t, "dup.raw", "x")

	_, err := m.Materialize(context.Background(), cand)
	require.NoError(t, err)
	_, err = m.Materialize(context.Background(), cand)
	assert.ErrorIs(t, err, jobs.ErrAlreadyQueued)
	assert.NoError(t, m.Handoff(context.Background(), cand))
}

func TestMaterializeRecyclesFinishedJob(t *testing.T) {
	f := newFixture(t)
	m := jobs.NewMaterializer(f.cfg, logging.NewNop(), nil)
	cand := f.candidate(t, "again.raw", "x")

	layout, err := m.Materialize(context.Background(), cand)
	require.NoError(t, err)
	require.NoError(t, jobs.Transition(layout, jobs.StateReady, jobs.StateWorking))
	require.NoError(t, jobs.AppendMarker(layout, jobs.StateWorking, jobs.Field(jobs.KeyExitCode, "0")))
	require.NoError(t, jobs.Transition(layout, jobs.StateWorking, jobs.StateFinished))

	again, err := m.Materialize(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, layout.Key, again.Key)

	state, err := again.State()
	require.NoError(t, err)
	assert.Equal(t, jobs.StateReady, state)
	_, err = os.Stat(again.MarkerPath(jobs.StateFinished))
	assert.True(t, os.IsNotExist(err), "old finished marker must be gone")
	_, err = os.Stat(filepath.Join(again.InputDir(), "again.raw"))
	assert.NoError(t, err)
}

func TestMaterializeKeepsFailedJob(t *testing.T) {
	f := newFixture(t)
	m := jobs.NewMaterializer(f.cfg, logging.NewNop(), nil)
	cand := f.candidate(t, "broken-run.raw", "x")

	layout, err := m.Materialize(context.Background(), cand)
	require.NoError(t, err)
	require.NoError(t, jobs.Transition(layout, jobs.StateReady, jobs.StateWorking))
	require.NoError(t, jobs.Transition(layout, jobs.StateWorking, jobs.StateFailed))

	_, err = m.Materialize(context.Background(), cand)
	assert.ErrorIs(t, err, jobs.ErrAlreadyQueued)
	state, err := layout.State()
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, state)
}

func TestMaterializeFailureRemovesPartialDir(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.cfg.Pipeline.Template))
	m := jobs.NewMaterializer(f.cfg, logging.NewNop(), nil)
	cand := f.candidate(t, "broken.raw", "x")

	_, err := m.Materialize(context.Background(), cand)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrMaterialize))
	_, statErr := os.Stat(filepath.Join(f.cfg.Paths.JobsDir, jobs.ContentKey(cand.Path)))
	assert.True(t, os.IsNotExist(statErr))
	assert.Error(t, m.Handoff(context.Background(), cand))
}

func TestMaterializeVanishedSource(t *testing.T) {
	f := newFixture(t)
	m := jobs.NewMaterializer(f.cfg, logging.NewNop(), nil)
	cand := f.candidate(t, "gone.raw", "x")
	require.NoError(t, os.Remove(cand.Path))

	_, err := m.Materialize(context.Background(), cand)
	require.Error(t, err)
	entries, _ := os.ReadDir(f.cfg.Paths.JobsDir)
	assert.Empty(t, entries)
}

func TestMaterializeAcquisitionDirectory(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.target.Input, "run1.d")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "analysis.tdf"), []byte("abc"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "x.bin"), []byte("de"), 0o644))

	m := jobs.NewMaterializer(f.cfg, logging.NewNop(), nil)
	layout, err := m.Materialize(context.Background(), detect.Candidate{
		Path: src, Name: "run1.d", Size: 5, IsDir: true, Target: f.target,
	})
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(layout.InputDir(), "run1.d", "sub", "x.bin"))
	require.NoError(t, err)
	assert.Equal(t, "de", string(data))
}

func TestRenderReplacesLegacyTokensFirst(t *testing.T) {
	out, unresolved := jobs.Render("%%%FASTA%%%% %%%FASTA%%% %%%SPIKE%%%%", jobs.TemplateValues{Fasta: "/f.fasta", Spike: "/s.csv"})
	assert.Equal(t, "/f.fasta /f.fasta /s.csv", out)
	assert.Empty(t, unresolved)

	out, unresolved = jobs.Render("%%%INPUT%%% %%%FASTA%%%%", jobs.TemplateValues{Input: "/in"})
	assert.Equal(t, "/in %%%FASTA%%%%", out)
	assert.Equal(t, []string{jobs.TokenFasta}, unresolved)
}

func TestNewestFileTieBreaks(t *testing.T) {
	dir := t.TempDir()
	stamp := time.Now().Add(-time.Hour).Truncate(time.Second)
	write := func(name, content string, mod time.Time) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		require.NoError(t, os.Chtimes(path, mod, mod))
	}
	write("old.fasta", "xxxxxxxx", stamp.Add(-time.Minute))
	write("a.fasta", "xx", stamp)
	write("b.fasta", "xxxx", stamp)
	write("c.fasta", "xxxx", stamp)
	write("ignored.csv", "x", stamp.Add(time.Minute))

	got, err := jobs.NewestFile(dir, "*.fasta")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "c.fasta"), got)

	none, err := jobs.NewestFile(filepath.Join(dir, "missing"), "*.fasta")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTransitionsAndRequeue(t *testing.T) {
	f := newFixture(t)
	m := jobs.NewMaterializer(f.cfg, logging.NewNop(), nil)
	layout, err := m.Materialize(context.Background(), f.candidate(t, "s.raw", "x"))
	require.NoError(t, err)

	require.NoError(t, jobs.Transition(layout, jobs.StateReady, jobs.StateWorking))
	err = jobs.Transition(layout, jobs.StateReady, jobs.StateWorking)
	assert.ErrorIs(t, err, jobs.ErrTransitionLost, "second claim loses")

	require.NoError(t, jobs.AppendMarker(layout, jobs.StateWorking, jobs.Field(jobs.KeyExitCode, "1")))
	require.NoError(t, jobs.Transition(layout, jobs.StateWorking, jobs.StateFailed))

	require.NoError(t, os.WriteFile(filepath.Join(layout.OutputDir(), "partial.txt"), []byte("p"), 0o644))
	prev, err := jobs.Requeue(layout, "now")
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, prev)

	state, err := layout.State()
	require.NoError(t, err)
	assert.Equal(t, jobs.StateReady, state)
	entries, err := os.ReadDir(layout.OutputDir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	fields, err := jobs.ReadMarker(layout, jobs.StateReady)
	require.NoError(t, err)
	code, _ := jobs.LastValue(fields, jobs.KeyExitCode)
	assert.Equal(t, "1", code)

	_, err = jobs.Requeue(layout, "again")
	assert.Error(t, err, "ready jobs cannot be requeued")
}

func TestListAndReadyOrdering(t *testing.T) {
	f := newFixture(t)
	m := jobs.NewMaterializer(f.cfg, logging.NewNop(), nil)
	first, err := m.Materialize(context.Background(), f.candidate(t, "first.raw", "1"))
	require.NoError(t, err)
	second, err := m.Materialize(context.Background(), f.candidate(t, "second.raw", "2"))
	require.NoError(t, err)

	older := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(second.MarkerPath(jobs.StateReady), older, older))
	require.NoError(t, os.Mkdir(filepath.Join(f.cfg.Paths.JobsDir, "not-a-job"), 0o755))

	ready, err := jobs.Ready(f.cfg.Paths.JobsDir, f.cfg.Pipeline.ParamsFileName)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, second.Key, ready[0].Key)
	assert.Equal(t, first.Key, ready[1].Key)

	require.NoError(t, jobs.Transition(first, jobs.StateReady, jobs.StateWorking))
	summaries, err := jobs.List(f.cfg.Paths.JobsDir, f.cfg.Pipeline.ParamsFileName)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	counts := jobs.CountByState(summaries)
	assert.Equal(t, 1, counts["ready"])
	assert.Equal(t, 1, counts["working"])
	assert.Equal(t, 0, counts["failed"])
	for _, s := range summaries {
		require.NotNil(t, s.Metadata)
		assert.True(t, strings.HasSuffix(s.Metadata.Source.Name, ".raw"))
	}
}

func TestParseMarker(t *testing.T) {
	fields := jobs.ParseMarker([]byte("started: 2024-01-01T00:00:00Z\n\nexit_code: 0\nfree text\nexit_code: 3\n"))
	require.Len(t, fields, 4)
	code, ok := jobs.LastValue(fields, "exit_code")
	assert.True(t, ok)
	assert.Equal(t, "3", code)
	assert.Equal(t, "free text", fields[2].Value)
}
