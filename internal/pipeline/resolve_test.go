package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubSeams(t *testing.T, exeDir, wd string, onPath string) {
	t.Helper()
	origExe, origWd, origLook := executablePath, workingDir, lookPath
	t.Cleanup(func() {
		executablePath, workingDir, lookPath = origExe, origWd, origLook
	})
	executablePath = func() (string, error) { return filepath.Join(exeDir, "quacwatch"), nil }
	workingDir = func() (string, error) { return wd, nil }
	lookPath = func(string) (string, error) {
		if onPath == "" {
			return "", errors.New("not found")
		}
		return onPath, nil
	}
}

func writeExecutable(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
}

func TestResolveOrder(t *testing.T) {
	exeDir := t.TempDir()
	wd := t.TempDir()

	t.Run("env wins", func(t *testing.T) {
		stubSeams(t, exeDir, wd, "/usr/bin/nextflow")
		t.Setenv(EnvBinary, "/opt/nf/nextflow")
		bin, src := Resolve("/configured/nextflow")
		assert.Equal(t, "/opt/nf/nextflow", bin)
		assert.Equal(t, SourceEnv, src)
	})

	t.Run("config before bundled", func(t *testing.T) {
		stubSeams(t, exeDir, wd, "")
		t.Setenv(EnvBinary, "")
		writeExecutable(t, filepath.Join(exeDir, "nextflow"))
		bin, src := Resolve("/configured/nextflow")
		assert.Equal(t, "/configured/nextflow", bin)
		assert.Equal(t, SourceConfig, src)
	})

	t.Run("bundled next to executable", func(t *testing.T) {
		stubSeams(t, exeDir, wd, "/usr/bin/nextflow")
		t.Setenv(EnvBinary, "")
		bin, src := Resolve("")
		assert.Equal(t, filepath.Join(exeDir, "nextflow"), bin)
		assert.Equal(t, SourceBundled, src)
	})

	t.Run("bundled in working dir", func(t *testing.T) {
		otherExe := t.TempDir()
		stubSeams(t, otherExe, wd, "")
		t.Setenv(EnvBinary, "")
		writeExecutable(t, filepath.Join(wd, "nextflow"))
		bin, src := Resolve("")
		assert.Equal(t, filepath.Join(wd, "nextflow"), bin)
		assert.Equal(t, SourceBundled, src)
	})

	t.Run("path then default", func(t *testing.T) {
		empty := t.TempDir()
		stubSeams(t, empty, empty, "/usr/bin/nextflow")
		t.Setenv(EnvBinary, "")
		bin, src := Resolve("  ")
		assert.Equal(t, "/usr/bin/nextflow", bin)
		assert.Equal(t, SourcePath, src)

		stubSeams(t, empty, empty, "")
		bin, src = Resolve("")
		assert.Equal(t, "nextflow", bin)
		assert.Equal(t, SourceDefault, src)
	})
}

func TestBundledIgnoresNonExecutable(t *testing.T) {
	exeDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(exeDir, "nextflow"), []byte("x"), 0o644))
	stubSeams(t, exeDir, exeDir, "")
	t.Setenv(EnvBinary, "")
	_, src := Resolve("")
	assert.Equal(t, SourceDefault, src)
}
