package ensemble_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"disco/internal/backend"
	"disco/internal/ensemble"
	"disco/internal/observe"
	"disco/internal/services"
	"disco/internal/tensor"
	"disco/internal/testsupport"
	"disco/internal/tiling"
)

func spectrogram(bins, frames int) tensor.Matrix {
	m := tensor.New(bins, frames)
	for i := range m.Data {
		m.Data[i] = float32(i % 7)
	}
	return m
}

func asMembers(fakes []*testsupport.FakeMember) []ensemble.Member {
	out := make([]ensemble.Member, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

func TestRunMatchesUntiledPrediction(t *testing.T) {
	spec := spectrogram(4, 10)
	fakes := testsupport.NewFakeMembers(3, 3)
	cpu := backend.Backend{Kind: backend.CPU, Workers: 4, Threads: 1}

	runner, err := ensemble.NewRunner(asMembers(fakes), cpu, 3)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	tiles, parts, err := tiling.Split(spec, 4)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	preds, err := runner.Run(context.Background(), tiles, parts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(preds.IDs, []string{"fake-0", "fake-1", "fake-2"}) {
		t.Fatalf("unexpected member order: %v", preds.IDs)
	}
	for i, fake := range fakes {
		want, err := fake.Predict(context.Background(), spec)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		got := preds.Ordered()[i]
		if got.Rows != 3 || got.Cols != 10 {
			t.Fatalf("member %d: unexpected shape %dx%d", i, got.Rows, got.Cols)
		}
		if !slices.Equal(got.Data, want.Data) {
			t.Fatalf("member %d: tiled output differs from whole-sequence output", i)
		}
		// 3 tiles from Run plus the direct call above.
		if calls := fake.Calls.Load(); calls != 4 {
			t.Fatalf("member %d: unexpected call count %d", i, calls)
		}
	}
}

func TestRunFailsWholeRunOnMemberError(t *testing.T) {
	spec := spectrogram(2, 12)
	fakes := testsupport.NewFakeMembers(2, 3)
	tiles, parts, err := tiling.Split(spec, 4)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	trigger := parts[1].Data[0]
	fakes[1].FailOnTile = &trigger

	runner, err := ensemble.NewRunner(asMembers(fakes), backend.Backend{Kind: backend.CPU, Workers: 1}, 3)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	_, err = runner.Run(context.Background(), tiles, parts)
	if !errors.Is(err, services.ErrInference) {
		t.Fatalf("expected inference error, got %v", err)
	}
	if !errors.Is(err, testsupport.ErrFakeFailure) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
}

func TestRunRejectsWrongOutputLength(t *testing.T) {
	spec := spectrogram(2, 8)
	fakes := testsupport.NewFakeMembers(1, 3)
	fakes[0].ShortBy = 1
	tiles, parts, _ := tiling.Split(spec, 4)

	runner, err := ensemble.NewRunner(asMembers(fakes), backend.Backend{Kind: backend.CPU, Workers: 2}, 3)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := runner.Run(context.Background(), tiles, parts); !errors.Is(err, services.ErrInference) {
		t.Fatalf("expected inference error, got %v", err)
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	rec, err := observe.NewRecorder()
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	t.Cleanup(func() { _ = rec.Shutdown(context.Background()) })

	spec := spectrogram(3, 9)
	tiles, parts, _ := tiling.Split(spec, 4)
	runner, err := ensemble.NewRunner(asMembers(testsupport.NewFakeMembers(2, 3)),
		backend.Backend{Kind: backend.CPU, Workers: 3}, 3, ensemble.WithMetrics(rec.Metrics))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := runner.Run(context.Background(), tiles, parts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap, err := rec.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.TilesOK != 6 || snap.TilesFailed != 0 {
		t.Fatalf("unexpected tile counts: %+v", snap)
	}
	if _, ok := snap.StageSeconds["inference"]; !ok {
		t.Fatalf("expected inference stage timing, got %v", snap.StageSeconds)
	}
}

func TestRunWithNoTilesYieldsEmptySequences(t *testing.T) {
	runner, err := ensemble.NewRunner(asMembers(testsupport.NewFakeMembers(2, 3)), backend.Backend{Kind: backend.CPU, Workers: 1}, 3)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	preds, err := runner.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, seq := range preds.Ordered() {
		if seq.Rows != 3 || seq.Cols != 0 {
			t.Fatalf("unexpected empty sequence shape %dx%d", seq.Rows, seq.Cols)
		}
	}
}

func TestNewRunnerValidatesEnsemble(t *testing.T) {
	cpu := backend.Backend{Kind: backend.CPU, Workers: 1}
	if _, err := ensemble.NewRunner(nil, cpu, 3); !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected model load error for empty ensemble, got %v", err)
	}
	dup := testsupport.NewFakeMembers(2, 3)
	dup[1].Name = dup[0].Name
	if _, err := ensemble.NewRunner(asMembers(dup), cpu, 3); !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected model load error for duplicate ids, got %v", err)
	}
}

// inFlightTracker records how many Predict calls overlap. Calls block until
// the expected concurrency is reached so the peak is observable.
type inFlightTracker struct {
	want    int64
	current atomic.Int64
	peak    atomic.Int64
	once    sync.Once
	reached chan struct{}
}

func (tr *inFlightTracker) enter() {
	n := tr.current.Add(1)
	for {
		p := tr.peak.Load()
		if n <= p || tr.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if n >= tr.want {
		tr.once.Do(func() { close(tr.reached) })
	}
}

type trackedMember struct {
	id      string
	classes int
	tracker *inFlightTracker
}

func (m *trackedMember) ID() string { return m.id }

func (m *trackedMember) Predict(ctx context.Context, tile tensor.Matrix) (tensor.Matrix, error) {
	m.tracker.enter()
	defer m.tracker.current.Add(-1)
	select {
	case <-m.tracker.reached:
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return tensor.Matrix{}, ctx.Err()
	}
	time.Sleep(time.Millisecond)
	return tensor.New(m.classes, tile.Cols), nil
}

func TestRunCapsConcurrencyAtWorkers(t *testing.T) {
	tiles, parts, err := tiling.Split(spectrogram(2, 40), 4)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for _, workers := range []int{1, 3} {
		tracker := &inFlightTracker{want: int64(workers), reached: make(chan struct{})}
		members := make([]ensemble.Member, 3)
		for i := range members {
			members[i] = &trackedMember{id: fmt.Sprintf("tracked-%d", i), classes: 3, tracker: tracker}
		}
		cpu := backend.Backend{Kind: backend.CPU, Workers: workers, Threads: 1}
		runner, err := ensemble.NewRunner(members, cpu, 3)
		if err != nil {
			t.Fatalf("NewRunner: %v", err)
		}
		if _, err := runner.Run(context.Background(), tiles, parts); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got := tracker.peak.Load(); got != int64(workers) {
			t.Fatalf("workers=%d: unexpected peak concurrency %d", workers, got)
		}
	}
}
