package history_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"quacwatch/internal/history"
	"quacwatch/internal/testsupport"
)

func TestRecordStartAndFinish(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := store.RecordStart(ctx, history.Run{
		RunID:      "run-1",
		JobKey:     "0123456789abcdef0123456789abcdef",
		TargetID:   "in_raw",
		SourceName: "sample1.raw",
		State:      "working",
		StartedAt:  started,
	}); err != nil {
		t.Fatalf("RecordStart failed: %v", err)
	}

	run, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if run == nil || run.State != "working" || run.ExitCode != nil {
		t.Fatalf("unexpected run after start: %#v", run)
	}
	if run.Duration() != 0 {
		t.Fatalf("expected zero duration while running, got %s", run.Duration())
	}

	if err := store.RecordFinish(ctx, "run-1", history.Outcome{
		State:      "finished",
		ExitCode:   0,
		Command:    "nextflow run main.nf",
		ResultDir:  "/out/sample1",
		FinishedAt: started.Add(90 * time.Minute),
	}); err != nil {
		t.Fatalf("RecordFinish failed: %v", err)
	}

	run, err = store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if run.State != "finished" || run.ExitCode == nil || *run.ExitCode != 0 {
		t.Fatalf("unexpected run after finish: %#v", run)
	}
	if run.ResultDir != "/out/sample1" || run.Command != "nextflow run main.nf" {
		t.Fatalf("outcome fields not stored: %#v", run)
	}
	if got := run.Duration(); got != 90*time.Minute {
		t.Fatalf("expected 90m duration, got %s", got)
	}
}

func TestRecordFinishUnknownRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	if err := store.RecordFinish(context.Background(), "missing", history.Outcome{State: "failed"}); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestRecordStartRequiresIdentifiers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	if err := store.RecordStart(context.Background(), history.Run{JobKey: "k"}); err == nil {
		t.Fatal("expected error without run id")
	}
}

func TestListOrdersNewestFirstAndPrunes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	base := time.Now().Add(-48 * time.Hour).UTC()
	for i, id := range []string{"a", "b", "c"} {
		start := base.Add(time.Duration(i) * time.Hour)
		if err := store.RecordStart(ctx, history.Run{RunID: id, JobKey: "key-" + id, State: "working", StartedAt: start}); err != nil {
			t.Fatalf("RecordStart %s: %v", id, err)
		}
	}
	if err := store.RecordFinish(ctx, "a", history.Outcome{State: "failed", ExitCode: 1, FinishedAt: base.Add(30 * time.Minute)}); err != nil {
		t.Fatalf("RecordFinish: %v", err)
	}

	runs, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "c" || runs[1].RunID != "b" {
		t.Fatalf("unexpected order: %#v", runs)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["working"] != 2 || stats["failed"] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}

	removed, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned run, got %d", removed)
	}
	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected unfinished runs to survive prune, got %d", len(all))
	}
}

func TestForJobReturnsAttemptsInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()
	start := time.Now().UTC()
	for i, id := range []string{"first", "second"} {
		if err := store.RecordStart(ctx, history.Run{RunID: id, JobKey: "same", State: "working", StartedAt: start.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("RecordStart: %v", err)
		}
	}
	runs, err := store.ForJob(ctx, "same")
	if err != nil {
		t.Fatalf("ForJob: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "first" {
		t.Fatalf("unexpected runs: %#v", runs)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := history.Open(path); !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
