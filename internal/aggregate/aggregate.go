// Package aggregate reduces per-member probability sequences into the
// cross-ensemble statistics the rest of the pipeline consumes: median, mean,
// interquartile range, and per-class vote counts for every frame.
//
// Aggregation is a pure function of its inputs. Callers must only invoke it
// once every member has produced its full sequence.
package aggregate

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/stat"

	"disco/internal/services"
	"disco/internal/tensor"
)

// Statistics holds the per-frame ensemble statistics. Every matrix is
// classes x frames. Votes holds whole-number counts.
type Statistics struct {
	Median  tensor.Matrix
	Mean    tensor.Matrix
	IQR     tensor.Matrix
	Votes   tensor.Matrix
	Members int
}

// Classes returns the number of classes.
func (s Statistics) Classes() int {
	return s.Median.Rows
}

// Frames returns the number of frames.
func (s Statistics) Frames() int {
	return s.Median.Cols
}

// MedianArgmax returns the class with the highest median probability per frame.
func (s Statistics) MedianArgmax() []int {
	return s.Median.ArgmaxCols()
}

// MeanArgmax returns the class with the highest mean probability per frame.
func (s Statistics) MeanArgmax() []int {
	return s.Mean.ArgmaxCols()
}

// Compute aggregates member sequences that all share the same shape.
func Compute(sequences []tensor.Matrix) (Statistics, error) {
	if len(sequences) == 0 {
		return Statistics{}, services.Wrap(services.ErrInvalidConfiguration, "aggregate", "compute", "ensemble is empty", nil)
	}
	classes, frames := sequences[0].Rows, sequences[0].Cols
	for i, seq := range sequences {
		if seq.Rows != classes || seq.Cols != frames {
			return Statistics{}, services.Wrap(services.ErrInference, "aggregate", "compute",
				fmt.Sprintf("member %d has shape %dx%d, want %dx%d", i, seq.Rows, seq.Cols, classes, frames), nil)
		}
	}

	stats := Statistics{
		Median:  tensor.New(classes, frames),
		Mean:    tensor.New(classes, frames),
		IQR:     tensor.New(classes, frames),
		Votes:   tensor.New(classes, frames),
		Members: len(sequences),
	}

	values := make([]float64, len(sequences))
	for r := 0; r < classes; r++ {
		for c := 0; c < frames; c++ {
			idx := r*frames + c
			for m, seq := range sequences {
				values[m] = float64(seq.Data[idx])
			}
			stats.Mean.Data[idx] = float32(stat.Mean(values, nil))
			slices.Sort(values)
			stats.Median.Data[idx] = float32(Quantile(values, 0.5))
			stats.IQR.Data[idx] = float32(Quantile(values, 0.75) - Quantile(values, 0.25))
		}
	}

	for _, seq := range sequences {
		for c, class := range seq.ArgmaxCols() {
			stats.Votes.Data[class*frames+c]++
		}
	}
	return stats, nil
}

// Quantile returns the p-quantile of sorted using linear interpolation between
// the two nearest order statistics, matching numpy's default estimator.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n == 1 || p <= 0:
		return sorted[0]
	case p >= 1:
		return sorted[n-1]
	}
	pos := p * float64(n-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= n {
		return sorted[n-1]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
