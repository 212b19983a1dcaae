// Package artifact persists the numeric outputs of an evaluation run as
// NumPy .npy files, one file per named array, so they can be inspected with
// standard scientific tooling and read back bit-for-bit.
package artifact

import (
	"fmt"
	"math"

	"disco/internal/tensor"
)

// Names of the arrays an evaluation run writes.
const (
	GroundTruth       = "ground_truth"
	RawSpectrogram    = "raw_spectrogram"
	HMMPredictions    = "hmm_predictions"
	MedianPredictions = "median_predictions"
	MeanPredictions   = "mean_predictions"
	IQRs              = "iqrs"
	Votes             = "votes"
)

// RunArtifacts lists every array a complete run writes, in write order.
var RunArtifacts = []string{
	GroundTruth, RawSpectrogram, HMMPredictions, MedianPredictions, MeanPredictions, IQRs, Votes,
}

// DType is an element type supported on disk.
type DType string

const (
	Float32 DType = "<f4"
	Float64 DType = "<f8"
	Int32   DType = "<i4"
	Int64   DType = "<i8"
)

func (d DType) size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	}
	return 0
}

// Array is an n-dimensional row-major array. Values are held as float64,
// which represents every float32 and every int32 exactly and int64 values up
// to 2^53.
type Array struct {
	DType  DType
	Shape  []int
	Values []float64
}

// Len returns the element count implied by the shape.
func (a Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Validate checks the dtype and that the shape matches the value count.
func (a Array) Validate() error {
	if a.DType.size() == 0 {
		return fmt.Errorf("unsupported dtype %q", a.DType)
	}
	for i, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("negative dimension %d at axis %d", d, i)
		}
	}
	if a.Len() != len(a.Values) {
		return fmt.Errorf("shape %v holds %d values, got %d", a.Shape, a.Len(), len(a.Values))
	}
	for i, v := range a.Values {
		switch a.DType {
		case Float32:
			if !math.IsNaN(v) && v != float64(float32(v)) {
				return fmt.Errorf("value %d (%v) is not representable as float32", i, v)
			}
		case Int32:
			if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
				return fmt.Errorf("value %d (%v) is not an int32", i, v)
			}
		case Int64:
			if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
				return fmt.Errorf("value %d (%v) is not an integer within 2^53", i, v)
			}
		}
	}
	return nil
}

// Equal reports whether two arrays have identical dtype, shape, and values.
func (a Array) Equal(b Array) bool {
	if a.DType != b.DType || len(a.Shape) != len(b.Shape) || len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	for i := range a.Values {
		if math.Float64bits(a.Values[i]) != math.Float64bits(b.Values[i]) {
			return false
		}
	}
	return true
}

// FromMatrix converts a matrix to a 2-D float32 array.
func FromMatrix(m tensor.Matrix) Array {
	values := make([]float64, len(m.Data))
	for i, v := range m.Data {
		values[i] = float64(v)
	}
	return Array{DType: Float32, Shape: []int{m.Rows, m.Cols}, Values: values}
}

// FromCounts converts a matrix of whole-number counts to a 2-D int64 array.
func FromCounts(m tensor.Matrix) Array {
	values := make([]float64, len(m.Data))
	for i, v := range m.Data {
		values[i] = math.Round(float64(v))
	}
	return Array{DType: Int64, Shape: []int{m.Rows, m.Cols}, Values: values}
}

// FromLabels converts a label sequence to a 1-D int64 array.
func FromLabels(labels []int) Array {
	values := make([]float64, len(labels))
	for i, v := range labels {
		values[i] = float64(v)
	}
	return Array{DType: Int64, Shape: []int{len(labels)}, Values: values}
}

// Matrix returns a 2-D array as a float32 matrix.
func (a Array) Matrix() (tensor.Matrix, error) {
	if len(a.Shape) != 2 {
		return tensor.Matrix{}, fmt.Errorf("array has %d dimensions, want 2", len(a.Shape))
	}
	data := make([]float32, len(a.Values))
	for i, v := range a.Values {
		data[i] = float32(v)
	}
	return tensor.Wrap(a.Shape[0], a.Shape[1], data)
}

// Ints returns a 1-D array as ints.
func (a Array) Ints() ([]int, error) {
	if len(a.Shape) != 1 {
		return nil, fmt.Errorf("array has %d dimensions, want 1", len(a.Shape))
	}
	out := make([]int, len(a.Values))
	for i, v := range a.Values {
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("value %d (%v) is not an integer", i, v)
		}
		out[i] = int(v)
	}
	return out, nil
}
