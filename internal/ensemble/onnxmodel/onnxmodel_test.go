package onnxmodel

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"disco/internal/backend"
	"disco/internal/services"
)

func TestToClassesFramesTransposesFrameMajorOutput(t *testing.T) {
	// frames x classes: frame0 = (0.1, 0.9), frame1 = (0.6, 0.4), frame2 = (0.3, 0.7)
	data := []float32{0.1, 0.9, 0.6, 0.4, 0.3, 0.7}
	got, err := toClassesFrames(data, 2, 3, LayoutFramesClasses)
	if err != nil {
		t.Fatalf("toClassesFrames: %v", err)
	}
	want := []float32{0.1, 0.6, 0.3, 0.9, 0.4, 0.7}
	if !slices.Equal(got.Data, want) {
		t.Fatalf("unexpected data: got %v want %v", got.Data, want)
	}

	same, err := toClassesFrames(data, 2, 3, LayoutClassesFrames)
	if err != nil {
		t.Fatalf("toClassesFrames: %v", err)
	}
	if !slices.Equal(same.Data, data) {
		t.Fatalf("classes-first layout should be copied as is, got %v", same.Data)
	}
}

func TestToClassesFramesRejectsSizeMismatch(t *testing.T) {
	if _, err := toClassesFrames(make([]float32, 5), 2, 3, LayoutClassesFrames); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestLoadRequiresTensorNames(t *testing.T) {
	_, err := Load(Spec{ID: "m0", Path: "m0.onnx"}, backend.Backend{Kind: backend.CPU, Threads: 1}, 3)
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected model load error, got %v", err)
	}
}

func TestInitEnvironmentRejectsMissingLibrary(t *testing.T) {
	err := InitEnvironment(filepath.Join(t.TempDir(), "libonnxruntime.so"))
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected model load error, got %v", err)
	}
	if err := ReleaseEnvironment(); err != nil {
		t.Fatalf("release without users should be a no-op: %v", err)
	}
}
