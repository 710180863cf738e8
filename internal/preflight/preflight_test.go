package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quacwatch/internal/config"
	"quacwatch/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDirectoryAccess_Unset(t *testing.T) {
	result := CheckDirectoryAccess("test", "")
	if result.Passed || result.Detail != "not configured" {
		t.Fatalf("unexpected result for empty path: %+v", result)
	}
}

func TestCheckFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "main.nf")
	if err := os.WriteFile(f, []byte("workflow {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := CheckFile("script", f); !r.Passed {
		t.Fatalf("expected pass, got %s", r.Detail)
	}
	if r := CheckFile("script", dir); r.Passed {
		t.Fatal("expected failure for directory")
	}
	if r := CheckFile("script", filepath.Join(dir, "missing.nf")); r.Passed {
		t.Fatal("expected failure for missing file")
	}
}

func TestCheckShareReachable(t *testing.T) {
	orig := dialShare
	t.Cleanup(func() { dialShare = orig })

	var dialed string
	dialShare = func(_ context.Context, address string) error {
		dialed = address
		return nil
	}
	result := CheckShareReachable(context.Background(), config.Share{Name: "raw", Host: "nas.local"})
	if !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
	if dialed != "nas.local:445" {
		t.Fatalf("dialed %q, want nas.local:445", dialed)
	}
	if result.Name != "Share raw" {
		t.Fatalf("unexpected name %q", result.Name)
	}

	dialShare = func(context.Context, string) error { return errors.New("connection refused") }
	result = CheckShareReachable(context.Background(), config.Share{Host: "nas.local", Share: "data"})
	if result.Passed {
		t.Fatal("expected failure for refused connection")
	}
	if !strings.Contains(result.Detail, "unreachable") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
	if result.Name != "Share data@nas.local" {
		t.Fatalf("unexpected name %q", result.Name)
	}

	if r := CheckShareReachable(context.Background(), config.Share{Name: "x"}); r.Passed {
		t.Fatal("expected failure for missing host")
	}
}

func TestCheckHealthz(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bind := strings.TrimPrefix(srv.URL, "http://")
	if r := CheckHealthz(context.Background(), "metrics", bind); !r.Passed {
		t.Fatalf("expected pass, got %s", r.Detail)
	}
	if r := CheckHealthz(context.Background(), "metrics", "not-a-bind"); r.Passed {
		t.Fatal("expected failure for invalid bind")
	}
}

func TestCheckMetricsFromConfig_Disabled(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Bind = ""
	r := CheckMetricsFromConfig(context.Background(), &cfg)
	if !r.Passed || r.Detail != "Disabled" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_TestConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithReference())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	if failed := Failed(results); len(failed) != 0 {
		for _, r := range failed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"Jobs directory", "Pipeline script", "Parameter template", "FASTA references"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q check in %s", want, joined)
		}
	}
}

func TestRunAll_ReportsMissingScript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(cfg.Pipeline.Script); err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	found := false
	for _, r := range Failed(RunAll(context.Background(), cfg)) {
		if r.Name == "Pipeline script" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected failed pipeline script check")
	}
}

func TestCheckSystemDeps(t *testing.T) {
	cfg := config.Default()
	statuses := CheckSystemDeps(&cfg)
	if len(statuses) != 1 || statuses[0].Name != "Nextflow" {
		t.Fatalf("expected only nextflow without shares, got %+v", statuses)
	}

	cfg.Mounts.Shares = []config.Share{{Name: "raw", Host: "nas"}}
	statuses = CheckSystemDeps(&cfg)
	if len(statuses) != 5 {
		t.Fatalf("expected nextflow plus mount helpers, got %d", len(statuses))
	}
	for _, s := range statuses {
		if s.Name == "ping" && !s.Optional {
			t.Fatal("ping should be optional")
		}
	}
}
