package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"quacwatch/internal/history"
	"quacwatch/internal/jobs"
	"quacwatch/internal/testsupport"
)

func TestJobsListShowsEveryJob(t *testing.T) {
	env := setupCLITestEnv(t)
	ready := createJob(t, env.cfg, "run1.raw", jobs.StateReady)
	failed := createJob(t, env.cfg, "run2.raw", jobs.StateFailed)

	out, _, err := runCLI(t, []string{"jobs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	requireContains(t, out, shortKey(ready.Key))
	requireContains(t, out, shortKey(failed.Key))
	requireContains(t, out, "run2.raw")
	requireContains(t, out, "failed")
}

func TestJobsListFiltersByState(t *testing.T) {
	env := setupCLITestEnv(t)
	ready := createJob(t, env.cfg, "run1.raw", jobs.StateReady)
	failed := createJob(t, env.cfg, "run2.raw", jobs.StateFailed)

	out, _, err := runCLI(t, []string{"--json", "jobs", "list", "--state", "failed"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	var rows []jobRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode json: %v\n%s", err, out)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Key != failed.Key || rows[0].ExitCode != "3" {
		t.Fatalf("unexpected row %+v", rows[0])
	}
	if rows[0].Key == ready.Key {
		t.Fatal("ready job should be filtered out")
	}
}

func TestJobsListRejectsUnknownState(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"jobs", "list", "--state", "paused"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown state") {
		t.Fatalf("expected unknown state error, got %v", err)
	}
}

func TestJobsShowResolvesPrefix(t *testing.T) {
	env := setupCLITestEnv(t)
	layout := createJob(t, env.cfg, "run1.raw", jobs.StateFailed)

	out, _, err := runCLI(t, []string{"jobs", "show", layout.Key[:8]}, env.configPath)
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	requireContains(t, out, layout.Key)
	requireContains(t, out, "State:      failed")
	requireContains(t, out, "exit_code: 3")
}

func TestJobsShowMissingJob(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"jobs", "show", strings.Repeat("a", 32)}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestJobsRequeueFailedJob(t *testing.T) {
	env := setupCLITestEnv(t)
	layout := createJob(t, env.cfg, "run1.raw", jobs.StateFailed)
	if err := os.WriteFile(layout.OutputDir()+"/partial.txt", []byte("x"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}

	out, _, err := runCLI(t, []string{"jobs", "requeue", layout.Key}, env.configPath)
	if err != nil {
		t.Fatalf("jobs requeue: %v", err)
	}
	requireContains(t, out, "was failed")

	state, err := layout.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state != jobs.StateReady {
		t.Fatalf("expected ready, got %s", state)
	}
	entries, _ := os.ReadDir(layout.OutputDir())
	if len(entries) != 0 {
		t.Fatalf("expected output folder to be emptied, got %d entries", len(entries))
	}
	fields, err := jobs.ReadMarker(layout, jobs.StateReady)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if _, ok := jobs.LastValue(fields, jobs.KeyRequeued); !ok {
		t.Fatal("expected requeued line in marker")
	}
}

func TestJobsRequeueRejectsReadyJob(t *testing.T) {
	env := setupCLITestEnv(t)
	layout := createJob(t, env.cfg, "run1.raw", jobs.StateReady)
	if _, _, err := runCLI(t, []string{"jobs", "requeue", layout.Key}, env.configPath); err == nil {
		t.Fatal("expected requeue of ready job to fail")
	}
}

func TestJobsCleanRemovesIncomplete(t *testing.T) {
	env := setupCLITestEnv(t)
	incomplete := createJob(t, env.cfg, "crashed.raw", jobs.StateIncomplete)
	failed := createJob(t, env.cfg, "run2.raw", jobs.StateFailed)

	out, _, err := runCLI(t, []string{"jobs", "clean"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs clean: %v", err)
	}
	requireContains(t, out, "Removed 1 job directories")
	if _, err := os.Stat(incomplete.Dir()); !os.IsNotExist(err) {
		t.Fatalf("expected incomplete job to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(failed.Dir()); err != nil {
		t.Fatalf("failed job must be kept: %v", err)
	}
}

func TestJobsCleanRefusesWhileDaemonHoldsLock(t *testing.T) {
	env := setupCLITestEnv(t)
	incomplete := createJob(t, env.cfg, "crashed.raw", jobs.StateIncomplete)
	if err := os.MkdirAll(env.cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	held := flock.New(env.cfg.LockPath())
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("hold daemon lock: locked=%v err=%v", locked, err)
	}
	defer func() { _ = held.Unlock() }()

	_, _, err = runCLI(t, []string{"jobs", "clean"}, env.configPath)
	if err == nil {
		t.Fatal("expected jobs clean to refuse while the daemon lock is held")
	}
	requireContains(t, err.Error(), "daemon is running")
	if _, err := os.Stat(incomplete.Dir()); err != nil {
		t.Fatalf("job dir must be untouched: %v", err)
	}
}

func TestJobsDiskReportsTotals(t *testing.T) {
	env := setupCLITestEnv(t)
	createJob(t, env.cfg, "run1.raw", jobs.StateFinished)

	out, _, err := runCLI(t, []string{"jobs", "disk"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs disk: %v", err)
	}
	requireContains(t, out, "Total: 1 directories")
	requireContains(t, out, "finished")
}

func TestJobsHistoryEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"jobs", "history"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs history: %v", err)
	}
	requireContains(t, out, "No runs recorded")
}

func TestJobsHistoryListsRuns(t *testing.T) {
	env := setupCLITestEnv(t)
	layout := createJob(t, env.cfg, "run1.raw", jobs.StateFailed)

	store := testsupport.MustOpenHistory(t, env.cfg)
	ctx := context.Background()
	started := time.Now().UTC().Add(-time.Minute)
	if err := store.RecordStart(ctx, history.Run{
		RunID:      "run-abc",
		JobKey:     layout.Key,
		TargetID:   env.cfg.Watch.Targets[0].ID(),
		SourceName: "run1.raw",
		State:      string(jobs.StateWorking),
		StartedAt:  started,
	}); err != nil {
		t.Fatalf("record start: %v", err)
	}
	if err := store.RecordFinish(ctx, "run-abc", history.Outcome{
		State:        string(jobs.StateFailed),
		ExitCode:     3,
		ErrorClass:   "pipeline",
		ErrorMessage: "nextflow exited with status 3",
		FinishedAt:   started.Add(30 * time.Second),
	}); err != nil {
		t.Fatalf("record finish: %v", err)
	}

	out, _, err := runCLI(t, []string{"jobs", "history"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs history: %v", err)
	}
	requireContains(t, out, shortKey(layout.Key))
	requireContains(t, out, "failed=1")

	out, _, err = runCLI(t, []string{"jobs", "history", "--run", "run-abc"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs history --run: %v", err)
	}
	requireContains(t, out, "Exit code:  3")
	requireContains(t, out, "nextflow exited with status 3")

	if _, _, err := runCLI(t, []string{"jobs", "history", "--run", "missing"}, env.configPath); err == nil {
		t.Fatal("expected unknown run to fail")
	}
}
