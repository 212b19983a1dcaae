package main

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"disco/internal/services"
	"disco/internal/testsupport"
)

func TestEvaluateRunsAndArtifactsShow(t *testing.T) {
	env := setupCLITestEnv(t)
	src := testsupport.WriteSpectrogram(t, t.TempDir(), "rec.npy", testsupport.Ramp(2, 10))
	testsupport.WriteLabels(t, src, env.cfg.Source.LabelsSuffix, []int{0, 1, 2, 0, 1, 2, 0, 1, 2, 0})

	out, _, err := env.run(t, "evaluate", "--tile-size", "4", "--json", src)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	var view evaluationView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode evaluate output %q: %v", out, err)
	}
	if view.Frames != 10 || view.LabeledFrames != 10 {
		t.Fatalf("unexpected frames: got %d/%d want 10/10", view.Frames, view.LabeledFrames)
	}
	if view.Agreement == nil {
		t.Fatal("expected agreement for a labeled source")
	}
	if len(view.Members) != 3 || view.Backend != "cpu" {
		t.Fatalf("unexpected ensemble: %v on %q", view.Members, view.Backend)
	}
	wantDir := filepath.Join(env.cfg.Paths.ArtifactDir, view.RunID)
	if view.ArtifactDir != wantDir {
		t.Fatalf("unexpected artifact dir: got %q want %q", view.ArtifactDir, wantDir)
	}

	out, _, err = env.run(t, "runs", "list")
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, view.RunID)
	requireContains(t, out, "completed")

	out, _, err = env.run(t, "runs", "show", view.RunID)
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	requireContains(t, out, "Tile size:  4")
	requireContains(t, out, "Source 1:   "+src)

	out, _, err = env.run(t, "artifacts", "show", view.ArtifactDir)
	if err != nil {
		t.Fatalf("artifacts show: %v", err)
	}
	requireContains(t, out, "Complete:   yes")
	requireContains(t, out, "Frames:     10 (10 labeled)")
	requireContains(t, out, "hmm_predictions")
	requireContains(t, out, "(3, 10)")
	requireContains(t, out, "HMM frames")

	out, _, err = env.run(t, "logs", "--run", view.RunID)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "evaluation started")
	requireContains(t, out, view.RunID)
}

func TestEvaluateTextSummary(t *testing.T) {
	env := setupCLITestEnv(t)
	src := testsupport.WriteSpectrogram(t, t.TempDir(), "rec.npy", testsupport.Ramp(2, 6))
	outDir := filepath.Join(t.TempDir(), "set")

	out, _, err := env.run(t, "evaluate", "--tile-size", "2", "--out", outDir, src)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	requireContains(t, out, "Artifacts:  "+outDir)
	requireContains(t, out, "Frames:     6 (0 labeled)")
	requireContains(t, out, "n/a (no labeled frames)")
	requireContains(t, out, "Median frames")
}

func TestEvaluateRejectsOddTileSize(t *testing.T) {
	env := setupCLITestEnv(t)
	src := testsupport.WriteSpectrogram(t, t.TempDir(), "rec.npy", testsupport.Ramp(2, 6))

	_, _, err := env.run(t, "evaluate", "--tile-size", "7", src)
	if !errors.Is(err, services.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	if code := services.ExitCode(err); code != services.ExitInvalidInput {
		t.Fatalf("unexpected exit code: got %d want %d", code, services.ExitInvalidInput)
	}
}

func TestEvaluateRequiresSource(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := env.run(t, "evaluate")
	if !errors.Is(err, services.ErrEmptyInput) {
		t.Fatalf("expected empty input error, got %v", err)
	}
	if code := services.ExitCode(err); code != 2 {
		t.Fatalf("unexpected exit code: got %d want 2", code)
	}

	env.members = nil
	if _, _, err := env.run(t, "evaluate", "--models", t.TempDir()); !errors.Is(err, services.ErrEmptyInput) {
		t.Fatalf("missing sources should be reported before preflight, got %v", err)
	}
}

func TestEvaluatePreflightMissingEnsemble(t *testing.T) {
	env := setupCLITestEnv(t)
	env.members = nil
	src := testsupport.WriteSpectrogram(t, t.TempDir(), "rec.npy", testsupport.Ramp(2, 6))

	_, _, err := env.run(t, "evaluate", "--tile-size", "2", "--models", t.TempDir(), src)
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected model load error, got %v", err)
	}
	if code := services.ExitCode(err); code != services.ExitModelLoad {
		t.Fatalf("unexpected exit code: got %d want %d", code, services.ExitModelLoad)
	}
}

func TestRunsListEmptyAndFilter(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "runs", "list")
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, "No runs recorded")

	if _, _, err := env.run(t, "runs", "list", "--status", "bogus"); !errors.Is(err, services.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid status error, got %v", err)
	}
	if _, _, err := env.run(t, "runs", "show", "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestArtifactsShowMissingDirectory(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := env.run(t, "artifacts", "show", filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
