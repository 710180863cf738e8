package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"quacwatch/internal/config"
	"quacwatch/internal/jobs"
	"quacwatch/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// createJob lays out a job directory for source in the requested state.
func createJob(t *testing.T, cfg *config.Config, source string, state jobs.State) jobs.Layout {
	t.Helper()

	target := cfg.Watch.Targets[0]
	sourcePath := filepath.Join(target.Input, source)
	layout := jobs.NewLayout(cfg.Paths.JobsDir, jobs.ContentKey(sourcePath), cfg.Pipeline.ParamsFileName)
	for _, dir := range []string{layout.InputDir(), layout.OutputDir(), layout.WorkDir(), layout.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if state == jobs.StateIncomplete {
		return layout
	}

	meta := jobs.Metadata{
		Key:       layout.Key,
		CreatedAt: time.Now().UTC(),
		Source:    jobs.SourceInfo{Path: sourcePath, Name: source, Size: 2048},
		Target: jobs.TargetInfo{
			ID:      target.ID(),
			Input:   target.Input,
			Output:  target.Output,
			Pattern: target.Pattern,
		},
		LedgerPath: target.LedgerPath(),
		ParamsPath: layout.ParamsPath(),
		InputDir:   layout.InputDir(),
		OutputDir:  layout.OutputDir(),
	}
	if err := jobs.WriteMetadata(layout, meta); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	if err := jobs.WriteReady(layout, jobs.Field(jobs.KeySource, sourcePath)); err != nil {
		t.Fatalf("write ready marker: %v", err)
	}
	if state == jobs.StateReady {
		return layout
	}
	if err := jobs.Transition(layout, jobs.StateReady, jobs.StateWorking); err != nil {
		t.Fatalf("claim job: %v", err)
	}
	switch state {
	case jobs.StateFinished, jobs.StateFailed:
		code := "0"
		if state == jobs.StateFailed {
			code = "3"
		}
		if err := jobs.AppendMarker(layout, jobs.StateWorking, jobs.Field(jobs.KeyExitCode, code)); err != nil {
			t.Fatalf("append marker: %v", err)
		}
		if err := jobs.Transition(layout, jobs.StateWorking, state); err != nil {
			t.Fatalf("finish job: %v", err)
		}
	}
	return layout
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
