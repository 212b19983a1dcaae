package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"disco/internal/hmm"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains output and bookkeeping locations.
type Paths struct {
	ArtifactDir string `toml:"artifact_dir"`
	LogDir      string `toml:"log_dir"`
	RunDB       string `toml:"run_db"`
}

// Inference contains tiling and compute backend settings.
type Inference struct {
	TileSize   int    `toml:"tile_size"`
	NumThreads int    `toml:"num_threads"`
	Backend    string `toml:"backend"`     // auto, cuda, or cpu
	MaxWorkers int    `toml:"max_workers"` // worker pool size on an accelerated backend
	CUDADevice int    `toml:"cuda_device"`
}

// Source contains spectrogram preprocessing applied on load.
type Source struct {
	ApplyLog     bool   `toml:"apply_log"`
	VerticalTrim int    `toml:"vertical_trim"` // leading frequency bins dropped
	LabelsSuffix string `toml:"labels_suffix"`
}

// Models contains ensemble discovery settings.
type Models struct {
	SavedModelDirectory string `toml:"saved_model_directory"`
	CacheDir            string `toml:"cache_dir"`
	DownloadURL         string `toml:"download_url"`
	DownloadTimeout     int    `toml:"download_timeout"`
	Manifest            string `toml:"manifest"`
	ONNXLibrary         string `toml:"onnx_library"`
}

// Classes names the model output classes in index order.
type Classes struct {
	Names []string `toml:"names"`
}

// HMM contains the temporal smoothing model.
type HMM struct {
	Start      []float64   `toml:"start"`
	Transition [][]float64 `toml:"transition"`
	Emission   [][]float64 `toml:"emission"`
	Tolerance  float64     `toml:"tolerance"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics toggles in-process instrumentation.
type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Config encapsulates all configuration values for disco.
//
// Configuration sections by subsystem:
//   - Paths: artifact output, logs, and the run registry database
//   - Source: spectrogram preprocessing and ground-truth lookup
//   - Inference: tile size, thread count, and backend selection
//   - Models: where ensemble members are found or fetched from
//   - Classes: output class names
//   - HMM: temporal smoothing parameters
//   - Logging: log format and level
//   - Metrics: in-process run metrics
type Config struct {
	Paths     Paths     `toml:"paths"`
	Source    Source    `toml:"source"`
	Inference Inference `toml:"inference"`
	Models    Models    `toml:"models"`
	Classes   Classes   `toml:"classes"`
	HMM       HMM       `toml:"hmm"`
	Logging   Logging   `toml:"logging"`
	Metrics   Metrics   `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("disco.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories an evaluation run writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.ArtifactDir, c.Paths.LogDir, filepath.Dir(c.Paths.RunDB), c.Models.CacheDir}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HMMParams returns the configured smoothing model.
func (c *Config) HMMParams() hmm.Params {
	return hmm.Params{
		Start:      slices.Clone(c.HMM.Start),
		Transition: cloneRows(c.HMM.Transition),
		Emission:   cloneRows(c.HMM.Emission),
	}
}

// ClassIndex maps a class name to its output index.
func (c *Config) ClassIndex(name string) (int, bool) {
	idx := slices.Index(c.Classes.Names, strings.TrimSpace(name))
	return idx, idx >= 0
}

// ClassName returns the configured name of class idx, or its number when the
// index is outside the configured names.
func (c *Config) ClassName(idx int) string {
	if idx >= 0 && idx < len(c.Classes.Names) {
		return c.Classes.Names[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultModelCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "disco", "models")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/disco/models"
	}
	return filepath.Join(home, ".cache", "disco", "models")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func cloneRows(rows [][]float64) [][]float64 {
	if rows == nil {
		return nil
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = slices.Clone(row)
	}
	return out
}
