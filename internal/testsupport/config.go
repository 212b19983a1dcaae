package testsupport

import (
	"path/filepath"
	"testing"

	"disco/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Sources are read without preprocessing and the backend is pinned to CPU so
// tests never probe for an accelerator.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.RunDB = filepath.Join(base, "state", "runs.db")
	cfgVal.Models.CacheDir = filepath.Join(base, "models")
	cfgVal.Source.ApplyLog = false
	cfgVal.Source.VerticalTrim = 0
	cfgVal.Inference.Backend = "cpu"
	cfgVal.HMM.Tolerance = 1e-6

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTileSize overrides the inference tile size.
func WithTileSize(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Inference.TileSize = size
	}
}

// WithThreads overrides the CPU worker count.
func WithThreads(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Inference.NumThreads = n
	}
}

// WithModelDirectory points the ensemble at a saved-model directory.
func WithModelDirectory(dir string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Models.SavedModelDirectory = dir
	}
}

// WithDownloadURL sets the remote ensemble archive.
func WithDownloadURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Models.DownloadURL = url
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.ArtifactDir)
}
