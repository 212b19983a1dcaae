package aggregate_test

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"disco/internal/aggregate"
	"disco/internal/services"
	"disco/internal/tensor"
)

func randomSequences(rng *rand.Rand, members, classes, frames int) []tensor.Matrix {
	seqs := make([]tensor.Matrix, members)
	for m := range seqs {
		seq := tensor.New(classes, frames)
		for c := 0; c < frames; c++ {
			sum := float32(0)
			for r := 0; r < classes; r++ {
				v := rng.Float32() + 0.001
				seq.Set(r, c, v)
				sum += v
			}
			for r := 0; r < classes; r++ {
				seq.Set(r, c, seq.At(r, c)/sum)
			}
		}
		seqs[m] = seq
	}
	return seqs
}

func TestComputeBoundsAndVoteConservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	for _, members := range []int{1, 2, 3, 4, 7} {
		seqs := randomSequences(rng, members, 3, 50)
		stats, err := aggregate.Compute(seqs)
		if err != nil {
			t.Fatalf("Compute(%d members): %v", members, err)
		}
		if stats.Members != members || stats.Frames() != 50 || stats.Classes() != 3 {
			t.Fatalf("unexpected shape: members=%d frames=%d classes=%d", stats.Members, stats.Frames(), stats.Classes())
		}
		const eps = 1e-6
		for r := 0; r < 3; r++ {
			for c := 0; c < 50; c++ {
				lo, hi := float32(math.MaxFloat32), float32(-math.MaxFloat32)
				for _, seq := range seqs {
					lo = min(lo, seq.At(r, c))
					hi = max(hi, seq.At(r, c))
				}
				if med := stats.Median.At(r, c); med < lo-eps || med > hi+eps {
					t.Fatalf("median %v outside [%v,%v]", med, lo, hi)
				}
				if mean := stats.Mean.At(r, c); mean < lo-eps || mean > hi+eps {
					t.Fatalf("mean %v outside [%v,%v]", mean, lo, hi)
				}
				if iqr := stats.IQR.At(r, c); iqr < 0 {
					t.Fatalf("negative iqr %v", iqr)
				}
			}
		}
		for c := 0; c < 50; c++ {
			total := float32(0)
			for r := 0; r < 3; r++ {
				total += stats.Votes.At(r, c)
			}
			if int(total) != members {
				t.Fatalf("frame %d has %v votes, want %d", c, total, members)
			}
		}
	}
}

func TestComputeKnownValues(t *testing.T) {
	a, _ := tensor.FromRows([][]float32{{0.9}, {0.1}})
	b, _ := tensor.FromRows([][]float32{{0.2}, {0.8}})
	c, _ := tensor.FromRows([][]float32{{0.7}, {0.3}})
	d, _ := tensor.FromRows([][]float32{{0.6}, {0.4}})

	stats, err := aggregate.Compute([]tensor.Matrix{a, b, c, d})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// Class 0 values sorted: 0.2 0.6 0.7 0.9
	assertClose(t, "median", stats.Median.At(0, 0), 0.65)
	assertClose(t, "mean", stats.Mean.At(0, 0), 0.6)
	// q25 = 0.2 + 0.75*0.4 = 0.5, q75 = 0.7 + 0.25*0.2 = 0.75
	assertClose(t, "iqr", stats.IQR.At(0, 0), 0.25)
	if stats.Votes.At(0, 0) != 3 || stats.Votes.At(1, 0) != 1 {
		t.Fatalf("unexpected votes: %v / %v", stats.Votes.At(0, 0), stats.Votes.At(1, 0))
	}
}

func TestComputeSingleMemberHasZeroIQR(t *testing.T) {
	seq, _ := tensor.FromRows([][]float32{{0.3, 0.6}, {0.7, 0.4}})
	stats, err := aggregate.Compute([]tensor.Matrix{seq})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for i, v := range stats.IQR.Data {
		if v != 0 {
			t.Fatalf("iqr[%d] = %v, want 0", i, v)
		}
	}
	if stats.Median.At(1, 0) != 0.7 {
		t.Fatalf("median should equal the only member, got %v", stats.Median.At(1, 0))
	}
}

func TestComputeRejectsEmptyAndMismatched(t *testing.T) {
	if _, err := aggregate.Compute(nil); !errors.Is(err, services.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration for empty ensemble, got %v", err)
	}
	_, err := aggregate.Compute([]tensor.Matrix{tensor.New(3, 10), tensor.New(3, 9)})
	if !errors.Is(err, services.ErrInference) {
		t.Fatalf("expected inference error for mismatched lengths, got %v", err)
	}
}

func TestQuantileInterpolates(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	cases := map[float64]float64{0: 1, 0.25: 2, 0.5: 3, 0.6: 3.4, 1: 5}
	for p, want := range cases {
		if got := aggregate.Quantile(sorted, p); math.Abs(got-want) > 1e-12 {
			t.Fatalf("Quantile(%v) = %v, want %v", p, got, want)
		}
	}
	if got := aggregate.Quantile(nil, 0.5); got != 0 {
		t.Fatalf("Quantile of empty input = %v, want 0", got)
	}
}

func TestSummarize(t *testing.T) {
	a, _ := tensor.FromRows([][]float32{{0.9, 0.2}, {0.1, 0.8}})
	b, _ := tensor.FromRows([][]float32{{0.8, 0.6}, {0.2, 0.4}})
	stats, err := aggregate.Compute([]tensor.Matrix{a, b})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	summary := aggregate.Summarize(stats, []int{0, 0})
	if summary.Frames != 2 || summary.Members != 2 {
		t.Fatalf("unexpected summary shape: %+v", summary)
	}
	if summary.Unanimous != 0.5 {
		t.Fatalf("expected half the frames unanimous, got %v", summary.Unanimous)
	}
	// Frame 1 medians: class0 0.4, class1 0.6 -> raw argmax 1, smoothed 0.
	if summary.SmoothedShift != 1 {
		t.Fatalf("expected one smoothed frame, got %d", summary.SmoothedShift)
	}
	if summary.ClassFrames[0] != 1 || summary.ClassFrames[1] != 1 {
		t.Fatalf("unexpected class frames: %v", summary.ClassFrames)
	}
	if counts := aggregate.ClassCounts([]int{0, 2, 2, -1, 5}, 3); counts[0] != 1 || counts[1] != 0 || counts[2] != 2 {
		t.Fatalf("unexpected class counts: %v", counts)
	}
}

func assertClose(t *testing.T, name string, got float32, want float64) {
	t.Helper()
	if math.Abs(float64(got)-want) > 1e-6 {
		t.Fatalf("%s: got %v want %v", name, got, want)
	}
}
