package config

import (
	"fmt"
	"os"
	"strings"

	"disco/internal/hmm"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSource()
	c.normalizeInference()
	if err := c.normalizeModels(); err != nil {
		return err
	}
	c.normalizeClasses()
	c.normalizeHMM()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		c.Paths.ArtifactDir = defaultArtifactDir
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RunDB) == "" {
		c.Paths.RunDB = defaultRunDB
	}
	if c.Paths.RunDB, err = expandPath(c.Paths.RunDB); err != nil {
		return fmt.Errorf("paths.run_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeSource() {
	c.Source.LabelsSuffix = strings.TrimSpace(c.Source.LabelsSuffix)
	if c.Source.LabelsSuffix == "" {
		c.Source.LabelsSuffix = defaultLabelsSuffix
	}
}

func (c *Config) normalizeInference() {
	c.Inference.Backend = strings.ToLower(strings.TrimSpace(c.Inference.Backend))
	if c.Inference.Backend == "" {
		c.Inference.Backend = defaultBackend
	}
	if c.Inference.MaxWorkers == 0 {
		c.Inference.MaxWorkers = defaultMaxWorkers
	}
}

func (c *Config) normalizeModels() error {
	var err error
	c.Models.SavedModelDirectory = strings.TrimSpace(c.Models.SavedModelDirectory)
	if c.Models.SavedModelDirectory == "" {
		if value, ok := os.LookupEnv("DISCO_MODEL_DIR"); ok {
			c.Models.SavedModelDirectory = strings.TrimSpace(value)
		}
	}
	if c.Models.SavedModelDirectory, err = expandPath(c.Models.SavedModelDirectory); err != nil {
		return fmt.Errorf("models.saved_model_directory: %w", err)
	}
	if strings.TrimSpace(c.Models.CacheDir) == "" {
		c.Models.CacheDir = defaultModelCacheDir()
	}
	if c.Models.CacheDir, err = expandPath(c.Models.CacheDir); err != nil {
		return fmt.Errorf("models.cache_dir: %w", err)
	}
	c.Models.DownloadURL = strings.TrimSpace(c.Models.DownloadURL)
	if c.Models.DownloadURL == "" {
		if value, ok := os.LookupEnv("DISCO_MODEL_URL"); ok {
			c.Models.DownloadURL = strings.TrimSpace(value)
		}
	}
	if c.Models.DownloadTimeout <= 0 {
		c.Models.DownloadTimeout = defaultDownloadTimeout
	}
	c.Models.Manifest = strings.TrimSpace(c.Models.Manifest)
	if c.Models.Manifest == "" {
		c.Models.Manifest = defaultManifest
	}
	c.Models.ONNXLibrary = strings.TrimSpace(c.Models.ONNXLibrary)
	if c.Models.ONNXLibrary == "" {
		if value, ok := os.LookupEnv("ONNXRUNTIME_LIB"); ok {
			c.Models.ONNXLibrary = strings.TrimSpace(value)
		}
	}
	if c.Models.ONNXLibrary, err = expandPath(c.Models.ONNXLibrary); err != nil {
		return fmt.Errorf("models.onnx_library: %w", err)
	}
	return nil
}

func (c *Config) normalizeClasses() {
	names := make([]string, 0, len(c.Classes.Names))
	for _, name := range c.Classes.Names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	if len(names) == 0 {
		names = append(names, DefaultClassNames...)
	}
	c.Classes.Names = names
}

func (c *Config) normalizeHMM() {
	if c.HMM.Tolerance <= 0 {
		c.HMM.Tolerance = hmm.DefaultTolerance
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
