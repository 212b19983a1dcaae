package aggregate

import (
	"gonum.org/v1/gonum/floats"

	"disco/internal/tensor"
)

// Summary condenses statistics into a few run-level numbers for logs and
// the run registry.
type Summary struct {
	Frames        int
	Members       int
	MeanIQR       float64
	MaxIQR        float64
	Unanimous     float64 // fraction of frames where every member agreed
	ClassFrames   []int   // frames per class under median argmax
	SmoothedShift int     // frames where smoothing changed the median argmax
}

// Summarize builds a Summary. smoothed may be nil when decoding was skipped.
func Summarize(stats Statistics, smoothed []int) Summary {
	s := Summary{
		Frames:      stats.Frames(),
		Members:     stats.Members,
		ClassFrames: make([]int, stats.Classes()),
	}
	if s.Frames == 0 || stats.Classes() == 0 {
		return s
	}

	iqr := widen(stats.IQR)
	s.MeanIQR = floats.Sum(iqr) / float64(len(iqr))
	s.MaxIQR = floats.Max(iqr)

	unanimous := 0
	for c := 0; c < s.Frames; c++ {
		for r := 0; r < stats.Classes(); r++ {
			if int(stats.Votes.At(r, c)) == stats.Members {
				unanimous++
				break
			}
		}
	}
	s.Unanimous = float64(unanimous) / float64(s.Frames)

	raw := stats.MedianArgmax()
	for c, class := range raw {
		s.ClassFrames[class]++
		if smoothed != nil && c < len(smoothed) && smoothed[c] != class {
			s.SmoothedShift++
		}
	}
	return s
}

// ClassCounts tallies how many frames carry each label.
func ClassCounts(labels []int, classes int) []int {
	counts := make([]int, classes)
	for _, l := range labels {
		if l >= 0 && l < classes {
			counts[l]++
		}
	}
	return counts
}

func widen(m tensor.Matrix) []float64 {
	out := make([]float64, len(m.Data))
	for i, v := range m.Data {
		out[i] = float64(v)
	}
	return out
}
