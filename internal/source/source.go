// Package source loads spectrogram recordings and their optional ground
// truth from .npy files and lays several recordings end to end along time.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"disco/internal/artifact"
	"disco/internal/config"
	"disco/internal/logging"
	"disco/internal/services"
	"disco/internal/tensor"
)

// Unlabeled marks frames without ground truth.
const Unlabeled = -1

// minLogInput keeps log2 finite for silent bins.
const minLogInput = math.SmallestNonzeroFloat32

// Recording is one preprocessed spectrogram, bins x frames.
type Recording struct {
	Path        string
	Spectrogram tensor.Matrix
	Labels      []int
	HasLabels   bool
}

// Frames returns the recording length.
func (r Recording) Frames() int {
	return r.Spectrogram.Cols
}

// Name returns the file name without directory or extension.
func (r Recording) Name() string {
	base := filepath.Base(r.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LabelsPath returns where ground truth for the spectrogram at path is read from.
func LabelsPath(path, suffix string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + suffix
}

// Load reads one recording and applies the configured preprocessing. Labels
// must lie in [-1, classes); a missing labels file fills them with Unlabeled.
func Load(path string, opts config.Source, classes int, logger *slog.Logger) (Recording, error) {
	logger = logging.NewComponentLogger(logger, "source")

	raw, err := readArray(path)
	if err != nil {
		return Recording{}, err
	}
	if len(raw.Shape) != 2 {
		return Recording{}, invalid(path, fmt.Sprintf("spectrogram must be 2-D, got shape %v", raw.Shape))
	}
	spect, err := raw.Matrix()
	if err != nil {
		return Recording{}, invalid(path, err.Error())
	}
	spect, err = preprocess(spect, opts)
	if err != nil {
		return Recording{}, invalid(path, err.Error())
	}

	rec := Recording{Path: path, Spectrogram: spect}
	labelsPath := LabelsPath(path, opts.LabelsSuffix)
	labelArray, err := readArray(labelsPath)
	switch {
	case errors.Is(err, services.ErrNotFound):
		rec.Labels = unlabeled(spect.Cols)
		logging.WarnWithContext(logger, "ground truth missing", "labels_missing",
			logging.String(logging.FieldSource, path),
			logging.String("labels_path", labelsPath),
			logging.String(logging.FieldImpact, "ground_truth artifact holds -1 for this recording"),
			logging.String(logging.FieldErrorHint, "write integer labels to "+filepath.Base(labelsPath)),
		)
		return rec, nil
	case err != nil:
		return Recording{}, err
	}

	labels, err := labelArray.Ints()
	if err != nil {
		return Recording{}, invalid(labelsPath, err.Error())
	}
	if len(labels) != spect.Cols {
		return Recording{}, invalid(labelsPath, fmt.Sprintf("%d labels for %d frames", len(labels), spect.Cols))
	}
	for i, label := range labels {
		if label < Unlabeled || label >= classes {
			return Recording{}, invalid(labelsPath, fmt.Sprintf("label %d at frame %d outside [-1, %d)", label, i, classes))
		}
	}
	rec.Labels = labels
	rec.HasLabels = true
	logger.Debug("recording loaded",
		logging.String(logging.FieldSource, path),
		logging.Int("bins", spect.Rows),
		logging.Int("frames", spect.Cols),
	)
	return rec, nil
}

// LoadAll loads every path in order. All recordings must share a bin count.
func LoadAll(paths []string, opts config.Source, classes int, logger *slog.Logger) ([]Recording, error) {
	if len(paths) == 0 {
		return nil, services.Wrap(services.ErrEmptyInput, "source", "load", "no test files", nil)
	}
	recordings := make([]Recording, 0, len(paths))
	for _, path := range paths {
		rec, err := Load(path, opts, classes, logger)
		if err != nil {
			return nil, err
		}
		if len(recordings) > 0 && rec.Spectrogram.Rows != recordings[0].Spectrogram.Rows {
			return nil, invalid(path, fmt.Sprintf("has %d frequency bins, %s has %d",
				rec.Spectrogram.Rows, recordings[0].Path, recordings[0].Spectrogram.Rows))
		}
		recordings = append(recordings, rec)
	}
	return recordings, nil
}

// Concat joins recordings along time, returning the combined spectrogram and
// labels.
func Concat(recordings []Recording) (tensor.Matrix, []int, error) {
	parts := make([]tensor.Matrix, len(recordings))
	var labels []int
	for i, rec := range recordings {
		parts[i] = rec.Spectrogram
		labels = append(labels, rec.Labels...)
	}
	spect, err := tensor.ConcatCols(parts...)
	if err != nil {
		return tensor.Matrix{}, nil, services.Wrap(services.ErrInvalidConfiguration, "source", "concat", "join recordings", err)
	}
	if labels == nil {
		labels = []int{}
	}
	return spect, labels, nil
}

func preprocess(m tensor.Matrix, opts config.Source) (tensor.Matrix, error) {
	if opts.VerticalTrim > 0 {
		if opts.VerticalTrim >= m.Rows {
			return tensor.Matrix{}, fmt.Errorf("vertical_trim %d leaves no frequency bins of %d", opts.VerticalTrim, m.Rows)
		}
		trimmed, err := tensor.Wrap(m.Rows-opts.VerticalTrim, m.Cols, m.Data[opts.VerticalTrim*m.Cols:])
		if err != nil {
			return tensor.Matrix{}, err
		}
		m = trimmed.Clone()
	}
	if opts.ApplyLog {
		for i, v := range m.Data {
			m.Data[i] = float32(math.Log2(math.Max(float64(v), minLogInput)))
		}
	}
	return m, nil
}

func readArray(path string) (artifact.Array, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return artifact.Array{}, services.Wrap(services.ErrNotFound, "source", "open", path, err)
		}
		return artifact.Array{}, services.Wrap(services.ErrInvalidConfiguration, "source", "open", path, err)
	}
	defer f.Close()
	a, err := artifact.Decode(f)
	if err != nil {
		return artifact.Array{}, invalid(path, err.Error())
	}
	return a, nil
}

func unlabeled(n int) []int {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Unlabeled
	}
	return labels
}

func invalid(path, message string) error {
	return services.Wrap(services.ErrInvalidConfiguration, "source", "load", fmt.Sprintf("%s: %s", path, message), nil)
}
