package services_test

import (
	"context"
	"testing"

	"quacwatch/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobKey(ctx, "0123abcd")
	ctx = services.WithTarget(ctx, "data-std-raw")
	ctx = services.WithStage(ctx, "reconcile")
	ctx = services.WithRequestID(ctx, "req-123")

	if key, ok := services.JobKeyFromContext(ctx); !ok || key != "0123abcd" {
		t.Fatalf("unexpected job key: %v %v", key, ok)
	}
	if target, ok := services.TargetFromContext(ctx); !ok || target != "data-std-raw" {
		t.Fatalf("unexpected target: %v %v", target, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "reconcile" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}
