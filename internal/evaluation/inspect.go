package evaluation

import (
	"errors"
	"fmt"
	"os"

	"disco/internal/aggregate"
	"disco/internal/artifact"
	"disco/internal/services"
)

// ArrayInfo describes one stored array.
type ArrayInfo struct {
	Name  string
	DType artifact.DType
	Shape []int
}

// Inspection summarizes a committed artifact set.
type Inspection struct {
	Dir     string
	Arrays  []ArrayInfo
	Missing []string // run arrays absent from the set
	Classes int
	Frames  int
	// MedianFrames and HMMFrames count frames per class under the median
	// argmax and the smoothed labels.
	MedianFrames  []int
	HMMFrames     []int
	MeanIQR       float64
	LabeledFrames int
	Agreement     *float64
}

// Inspect reads the artifact set in dir. Arrays missing from the set are
// listed, and the statistics that depend on them are left zero.
func Inspect(dir string) (Inspection, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Inspection{}, services.Wrap(services.ErrNotFound, "artifacts", "inspect", dir, nil)
		}
		return Inspection{}, services.Wrap(services.ErrArtifact, "artifacts", "inspect", dir, err)
	}
	if !info.IsDir() {
		return Inspection{}, services.Wrap(services.ErrArtifact, "artifacts", "inspect", fmt.Sprintf("%s is not a directory", dir), nil)
	}

	store := artifact.NewFileStore(dir)
	names, err := store.Names()
	if err != nil {
		return Inspection{}, err
	}
	out := Inspection{Dir: dir}
	arrays := make(map[string]artifact.Array, len(names))
	for _, name := range names {
		a, err := store.Load(name)
		if err != nil {
			return Inspection{}, err
		}
		arrays[name] = a
		out.Arrays = append(out.Arrays, ArrayInfo{Name: name, DType: a.DType, Shape: a.Shape})
	}
	for _, name := range artifact.RunArtifacts {
		if _, ok := arrays[name]; !ok {
			out.Missing = append(out.Missing, name)
		}
	}

	if a, ok := arrays[artifact.MedianPredictions]; ok {
		median, err := a.Matrix()
		if err != nil {
			return Inspection{}, artifactErr(artifact.MedianPredictions, err)
		}
		out.Classes, out.Frames = median.Rows, median.Cols
		out.MedianFrames = aggregate.ClassCounts(median.ArgmaxCols(), median.Rows)
	}
	if a, ok := arrays[artifact.IQRs]; ok {
		iqr, err := a.Matrix()
		if err != nil {
			return Inspection{}, artifactErr(artifact.IQRs, err)
		}
		if len(iqr.Data) > 0 {
			sum := 0.0
			for _, v := range iqr.Data {
				sum += float64(v)
			}
			out.MeanIQR = sum / float64(len(iqr.Data))
		}
	}

	var smoothed []int
	if a, ok := arrays[artifact.HMMPredictions]; ok {
		if smoothed, err = a.Ints(); err != nil {
			return Inspection{}, artifactErr(artifact.HMMPredictions, err)
		}
		out.HMMFrames = aggregate.ClassCounts(smoothed, out.Classes)
	}
	if a, ok := arrays[artifact.GroundTruth]; ok && smoothed != nil {
		labels, err := a.Ints()
		if err != nil {
			return Inspection{}, artifactErr(artifact.GroundTruth, err)
		}
		out.LabeledFrames, out.Agreement = agreementRate(labels, smoothed)
	}
	return out, nil
}

func artifactErr(name string, err error) error {
	return services.Wrap(services.ErrArtifact, "artifacts", "inspect", name, err)
}
