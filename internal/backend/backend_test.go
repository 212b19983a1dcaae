package backend_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"disco/internal/backend"
	"disco/internal/config"
)

func inference(mode string) config.Inference {
	cfg := config.Default().Inference
	cfg.Backend = mode
	cfg.NumThreads = 6
	cfg.MaxWorkers = 2
	return cfg
}

func TestSelectCPUSkipsProbe(t *testing.T) {
	probe := backend.ProbeFunc(func(int) error {
		t.Fatal("probe should not run for cpu backend")
		return nil
	})
	got := backend.Select(inference("cpu"), probe, nil)
	if got.Kind != backend.CPU || got.Workers != 6 {
		t.Fatalf("unexpected backend: %+v", got)
	}
}

func TestSelectAutoUsesCUDAWhenAvailable(t *testing.T) {
	got := backend.Select(inference("auto"), backend.ProbeFunc(func(int) error { return nil }), nil)
	if got.Kind != backend.CUDA || !got.Accelerated() {
		t.Fatalf("expected cuda backend, got %+v", got)
	}
	if got.Workers != 2 || got.Threads != 6 {
		t.Fatalf("unexpected pool sizing: %+v", got)
	}
	if got.String() != "cuda:0" {
		t.Fatalf("unexpected name: got %q want %q", got.String(), "cuda:0")
	}
}

func TestSelectFallsBackToCPUWithWarning(t *testing.T) {
	for _, mode := range []string{"auto", "cuda"} {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		probe := backend.ProbeFunc(func(int) error { return errors.New("no device") })

		got := backend.Select(inference(mode), probe, logger)
		if got.Kind != backend.CPU || got.Workers != 6 {
			t.Fatalf("%s: expected cpu fallback with num_threads workers, got %+v", mode, got)
		}
		if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "compute backend unavailable") {
			t.Fatalf("%s: expected fallback warning, got %q", mode, buf.String())
		}
	}
}

func TestSelectWithoutProbeFallsBack(t *testing.T) {
	if got := backend.Select(inference("auto"), nil, nil); got.Kind != backend.CPU {
		t.Fatalf("expected cpu without probe, got %+v", got)
	}
}

func TestCPUFeaturesNeverEmpty(t *testing.T) {
	if len(backend.CPUFeatures()) == 0 {
		t.Fatal("expected at least one feature label")
	}
}
