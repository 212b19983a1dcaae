package evaluation

import (
	"disco/internal/aggregate"
	"disco/internal/artifact"
	"disco/internal/tensor"
)

type runArrays struct {
	labels      []int
	spectrogram tensor.Matrix
	smoothed    []int
	stats       aggregate.Statistics
}

// writeArtifacts stages every run array and commits the set to dir.
func writeArtifacts(dir string, arrays runArrays) ([]string, error) {
	w, err := artifact.BeginSet(dir)
	if err != nil {
		return nil, err
	}
	named := map[string]artifact.Array{
		artifact.GroundTruth:       artifact.FromLabels(arrays.labels),
		artifact.RawSpectrogram:    artifact.FromMatrix(arrays.spectrogram),
		artifact.HMMPredictions:    artifact.FromLabels(arrays.smoothed),
		artifact.MedianPredictions: artifact.FromMatrix(arrays.stats.Median),
		artifact.MeanPredictions:   artifact.FromMatrix(arrays.stats.Mean),
		artifact.IQRs:              artifact.FromMatrix(arrays.stats.IQR),
		artifact.Votes:             artifact.FromCounts(arrays.stats.Votes),
	}
	for _, name := range artifact.RunArtifacts {
		if err := w.Save(name, named[name]); err != nil {
			_ = w.Abort()
			return nil, err
		}
	}
	if err := w.Commit(); err != nil {
		return nil, err
	}
	return w.Saved(), nil
}
