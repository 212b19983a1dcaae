package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"disco/internal/artifact"
	"disco/internal/tensor"
)

// WriteSpectrogram stores m as a float32 .npy file at dir/name and returns
// the file path.
func WriteSpectrogram(t testing.TB, dir, name string, m tensor.Matrix) string {
	t.Helper()
	return writeArray(t, filepath.Join(dir, name), artifact.FromMatrix(m))
}

// WriteLabels stores ground truth next to the spectrogram at path using the
// given suffix (".labels.npy" by default).
func WriteLabels(t testing.TB, spectrogramPath, suffix string, labels []int) string {
	t.Helper()
	if suffix == "" {
		suffix = ".labels.npy"
	}
	target := strings.TrimSuffix(spectrogramPath, filepath.Ext(spectrogramPath)) + suffix
	return writeArray(t, target, artifact.FromLabels(labels))
}

// Ramp returns a bins x frames matrix whose column c sums to c, so
// FakeMember winners cycle through the classes frame by frame.
func Ramp(bins, frames int) tensor.Matrix {
	m := tensor.New(bins, frames)
	for c := 0; c < frames; c++ {
		m.Set(0, c, float32(c))
	}
	return m
}

func writeArray(t testing.TB, path string, a artifact.Array) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := artifact.Encode(f, a); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	return path
}
