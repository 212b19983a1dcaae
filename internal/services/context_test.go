package services_test

import (
	"context"
	"testing"

	"disco/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-42")
	ctx = services.WithStage(ctx, "inference")
	ctx = services.WithSource(ctx, "recording.npy")
	ctx = services.WithMember(ctx, "model-0")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-42" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "inference" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if source, ok := services.SourceFromContext(ctx); !ok || source != "recording.npy" {
		t.Fatalf("unexpected source: %v %v", source, ok)
	}
	if member, ok := services.MemberFromContext(ctx); !ok || member != "model-0" {
		t.Fatalf("unexpected member: %v %v", member, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	ctx = services.WithMember(ctx, "")
	if _, ok := services.MemberFromContext(ctx); ok {
		t.Fatal("expected no member value")
	}
}
