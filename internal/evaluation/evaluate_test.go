package evaluation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"disco/internal/artifact"
	"disco/internal/backend"
	"disco/internal/ensemble"
	"disco/internal/evaluation"
	"disco/internal/logging"
	"disco/internal/observe"
	"disco/internal/runstore"
	"disco/internal/services"
	"disco/internal/testsupport"
)

func fixedID(id string) evaluation.Option {
	return evaluation.WithRunID(func() string { return id })
}

func TestEvaluateThreeMembersTileFour(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTileSize(4), testsupport.WithThreads(2))
	store := testsupport.MustOpenRunStore(t, cfg)
	recorder, err := observe.NewRecorder()
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer recorder.Shutdown(context.Background())

	path := testsupport.WriteSpectrogram(t, t.TempDir(), "rec.npy", testsupport.Ramp(2, 10))
	fakes := testsupport.NewFakeMembers(3, 3)

	eval := evaluation.New(cfg,
		evaluation.WithMembers(evaluation.StaticMembers(testsupport.Members(fakes)...)),
		evaluation.WithRunStore(store),
		evaluation.WithRecorder(recorder),
		evaluation.WithLogger(logging.NewNop()),
		fixedID("run-abc"),
	)
	result, err := eval.Evaluate(context.Background(), evaluation.Request{Sources: []string{path}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if result.Frames != 10 {
		t.Fatalf("unexpected frames: got %d want 10", result.Frames)
	}
	wantDir := filepath.Join(cfg.Paths.ArtifactDir, "run-abc")
	if result.ArtifactDir != wantDir {
		t.Fatalf("unexpected artifact dir: got %q want %q", result.ArtifactDir, wantDir)
	}
	if !slices.Equal(result.Artifacts, artifact.RunArtifacts) {
		t.Fatalf("unexpected artifacts: %v", result.Artifacts)
	}
	if result.Agreement != nil || result.LabeledFrames != 0 {
		t.Fatalf("unlabeled run should have no agreement, got %v", result.Agreement)
	}

	store2 := artifact.NewFileStore(result.ArtifactDir)
	votes, err := store2.Load(artifact.Votes)
	if err != nil {
		t.Fatalf("load votes: %v", err)
	}
	if votes.DType != artifact.Int64 || !slices.Equal(votes.Shape, []int{3, 10}) {
		t.Fatalf("unexpected votes array: %s %v", votes.DType, votes.Shape)
	}
	for f := 0; f < 10; f++ {
		total := 0.0
		for c := 0; c < 3; c++ {
			total += votes.Values[c*10+f]
		}
		if total != 3 {
			t.Fatalf("frame %d: votes total %v, want 3", f, total)
		}
	}

	iqrs, err := store2.Load(artifact.IQRs)
	if err != nil {
		t.Fatalf("load iqrs: %v", err)
	}
	for i, v := range iqrs.Values {
		if v < 0 {
			t.Fatalf("negative iqr %v at %d", v, i)
		}
	}

	smoothed, err := store2.Load(artifact.HMMPredictions)
	if err != nil {
		t.Fatalf("load hmm predictions: %v", err)
	}
	if !slices.Equal(smoothed.Shape, []int{10}) {
		t.Fatalf("unexpected smoothed shape %v", smoothed.Shape)
	}
	truth, err := store2.Load(artifact.GroundTruth)
	if err != nil {
		t.Fatalf("load ground truth: %v", err)
	}
	for _, v := range truth.Values {
		if v != -1 {
			t.Fatalf("unexpected ground truth %v", truth.Values)
		}
	}

	if result.Metrics.TilesOK != 9 {
		t.Fatalf("unexpected tile count: got %d want 9", result.Metrics.TilesOK)
	}
	if _, ok := result.Metrics.StageSeconds["persist"]; !ok {
		t.Fatalf("expected persist stage timing, got %v", result.Metrics.StageSeconds)
	}

	run, err := store.Get(context.Background(), "run-abc")
	if err != nil || run == nil {
		t.Fatalf("expected registry entry, got %v (%v)", run, err)
	}
	if run.Status != runstore.StatusCompleted || run.Frames != 10 || run.EnsembleSize != 3 || run.Backend != "cpu" {
		t.Fatalf("unexpected registry entry: %#v", run)
	}
}

func TestEvaluateOddTileSizeFailsBeforeInference(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTileSize(7))
	path := testsupport.WriteSpectrogram(t, t.TempDir(), "rec.npy", testsupport.Ramp(2, 10))
	fakes := testsupport.NewFakeMembers(3, 3)

	eval := evaluation.New(cfg, evaluation.WithMembers(evaluation.StaticMembers(testsupport.Members(fakes)...)))
	_, err := eval.Evaluate(context.Background(), evaluation.Request{Sources: []string{path}})
	if !errors.Is(err, services.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	if calls := testsupport.TotalCalls(fakes); calls != 0 {
		t.Fatalf("no member should run, got %d calls", calls)
	}
	if _, err := os.Stat(cfg.Paths.ArtifactDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no artifacts should be written, stat err=%v", err)
	}
}

func TestEvaluateEmptySources(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	eval := evaluation.New(cfg, evaluation.WithMembers(evaluation.StaticMembers()))
	if _, err := eval.Evaluate(context.Background(), evaluation.Request{}); !errors.Is(err, services.ErrEmptyInput) {
		t.Fatalf("expected empty input, got %v", err)
	}
}

func TestEvaluateMalformedHMMFailsBeforeModels(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.HMM.Transition[0] = []float64{0.5, 0.1, 0.1}
	opened := false
	src := evaluation.MemberSourceFunc(func(context.Context, backend.Backend, []string) ([]ensemble.Member, func() error, error) {
		opened = true
		return nil, nil, errors.New("should not load")
	})
	path := testsupport.WriteSpectrogram(t, t.TempDir(), "rec.npy", testsupport.Ramp(2, 4))

	_, err := evaluation.New(cfg, evaluation.WithMembers(src)).Evaluate(context.Background(), evaluation.Request{Sources: []string{path}})
	if !errors.Is(err, services.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	if opened {
		t.Fatal("models should not be loaded for a malformed hmm")
	}
}

func TestEvaluateMemberFailureWritesNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTileSize(4))
	store := testsupport.MustOpenRunStore(t, cfg)
	path := testsupport.WriteSpectrogram(t, t.TempDir(), "rec.npy", testsupport.Ramp(2, 10))
	fakes := testsupport.NewFakeMembers(3, 3)
	failAt := float32(4)
	fakes[1].FailOnTile = &failAt

	eval := evaluation.New(cfg,
		evaluation.WithMembers(evaluation.StaticMembers(testsupport.Members(fakes)...)),
		evaluation.WithRunStore(store),
		fixedID("run-fail"),
	)
	_, err := eval.Evaluate(context.Background(), evaluation.Request{Sources: []string{path}})
	if !errors.Is(err, services.ErrInference) {
		t.Fatalf("expected inference error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Paths.ArtifactDir, "run-fail")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("failed run must not leave artifacts, stat err=%v", statErr)
	}
	run, err := store.Get(context.Background(), "run-fail")
	if err != nil || run == nil {
		t.Fatalf("expected registry entry, got %v (%v)", run, err)
	}
	if run.Status != runstore.StatusFailed || run.ErrorMessage == "" {
		t.Fatalf("unexpected registry entry: %#v", run)
	}
}

func TestEvaluateMultipleSourcesWithLabels(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTileSize(4))
	dir := t.TempDir()
	first := testsupport.WriteSpectrogram(t, dir, "a.npy", testsupport.Ramp(2, 6))
	testsupport.WriteLabels(t, first, "", []int{2, 2, 2, 2, 2, 2})
	second := testsupport.WriteSpectrogram(t, dir, "b.npy", testsupport.Ramp(2, 3))

	fakes := testsupport.NewFakeMembers(3, 3)
	out := filepath.Join(t.TempDir(), "custom")
	eval := evaluation.New(cfg, evaluation.WithMembers(evaluation.StaticMembers(testsupport.Members(fakes)...)))
	result, err := eval.Evaluate(context.Background(), evaluation.Request{Sources: []string{first, second}, OutputDir: out})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Frames != 9 || result.ArtifactDir != out {
		t.Fatalf("unexpected result: frames=%d dir=%q", result.Frames, result.ArtifactDir)
	}
	if result.LabeledFrames != 6 || result.Agreement == nil {
		t.Fatalf("expected agreement over 6 labeled frames, got %d %v", result.LabeledFrames, result.Agreement)
	}
	if *result.Agreement < 0 || *result.Agreement > 1 {
		t.Fatalf("agreement out of range: %v", *result.Agreement)
	}
	// a.npy tiles as 4+2 and b.npy as 3: two tiles for the first recording,
	// one for the second, three members each.
	if calls := testsupport.TotalCalls(fakes); calls != 9 {
		t.Fatalf("unexpected predict calls: got %d want 9", calls)
	}

	truth, err := artifact.NewFileStore(out).Load(artifact.GroundTruth)
	if err != nil {
		t.Fatalf("load ground truth: %v", err)
	}
	want := []float64{2, 2, 2, 2, 2, 2, -1, -1, -1}
	if !slices.Equal(truth.Values, want) {
		t.Fatalf("unexpected ground truth: got %v want %v", truth.Values, want)
	}
}
