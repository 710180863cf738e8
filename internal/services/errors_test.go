package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"quacwatch/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "runner", "launch", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"runner", "launch", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]error{
		"":            nil,
		"mount":       services.Wrap(services.ErrMount, "mount", "cifs", "all versions failed", nil),
		"materialize": services.Wrap(services.ErrMaterialize, "jobs", "copy", "", errors.New("io")),
		"reconcile":   fmt.Errorf("job abc: %w", services.Wrap(services.ErrReconcile, "runner", "ledger", "", nil)),
		"transient":   services.Wrap(services.ErrTransient, "detect", "scan", "", nil),
		"unknown":     errors.New("plain"),
	}
	for want, err := range cases {
		if got := services.Classify(err); got != want {
			t.Fatalf("Classify(%v) = %q, want %q", err, got, want)
		}
	}
}
