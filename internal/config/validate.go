package config

import (
	"fmt"
	"strings"

	"disco/internal/services"
	"disco/internal/tiling"
)

// Validate ensures the configuration is usable. Every failure carries
// services.ErrInvalidConfiguration.
func (c *Config) Validate() error {
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateInference(); err != nil {
		return err
	}
	if err := c.validateModels(); err != nil {
		return err
	}
	if err := c.validateClasses(); err != nil {
		return err
	}
	if err := c.validateHMM(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSource() error {
	if c.Source.VerticalTrim < 0 {
		return invalid("source.vertical_trim must be >= 0")
	}
	if !strings.HasSuffix(c.Source.LabelsSuffix, ".npy") || strings.ContainsAny(c.Source.LabelsSuffix, `/\`) {
		return invalid(fmt.Sprintf("source.labels_suffix must be a file suffix ending in .npy, got %q", c.Source.LabelsSuffix))
	}
	return nil
}

func (c *Config) validateInference() error {
	if err := tiling.ValidateSize(c.Inference.TileSize); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"inference.num_threads": c.Inference.NumThreads,
		"inference.max_workers": c.Inference.MaxWorkers,
	}); err != nil {
		return err
	}
	switch c.Inference.Backend {
	case "auto", "cuda", "cpu":
	default:
		return invalid(fmt.Sprintf("inference.backend must be auto, cuda, or cpu, got %q", c.Inference.Backend))
	}
	if c.Inference.CUDADevice < 0 {
		return invalid("inference.cuda_device must be >= 0")
	}
	return nil
}

func (c *Config) validateModels() error {
	if c.Models.DownloadTimeout <= 0 {
		return invalid("models.download_timeout must be positive (seconds)")
	}
	if strings.ContainsAny(c.Models.Manifest, `/\`) {
		return invalid("models.manifest must be a file name, not a path")
	}
	if url := c.Models.DownloadURL; url != "" && !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		return invalid(fmt.Sprintf("models.download_url must be an http(s) URL, got %q", url))
	}
	return nil
}

func (c *Config) validateClasses() error {
	seen := make(map[string]struct{}, len(c.Classes.Names))
	for _, name := range c.Classes.Names {
		if _, exists := seen[name]; exists {
			return invalid(fmt.Sprintf("classes.names contains %q twice", name))
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (c *Config) validateHMM() error {
	params := c.HMMParams()
	if err := params.Validate(c.HMM.Tolerance); err != nil {
		return err
	}
	classes := len(c.Classes.Names)
	if params.States() != classes {
		return invalid(fmt.Sprintf("hmm has %d states but %d classes are configured", params.States(), classes))
	}
	if params.Observations() != classes {
		return invalid(fmt.Sprintf("hmm emits %d symbols but %d classes are configured", params.Observations(), classes))
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return invalid(fmt.Sprintf("%s must be positive", key))
		}
	}
	return nil
}

func invalid(message string) error {
	return services.Wrap(services.ErrInvalidConfiguration, "config", "validate", message, nil)
}
