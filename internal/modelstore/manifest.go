// Package modelstore locates the ensemble on disk: a saved-model directory,
// the local cache, or a zip archive downloaded into the cache. The ensemble
// is described by a YAML manifest listing one ONNX file per member.
package modelstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"disco/internal/ensemble/onnxmodel"
	"disco/internal/services"
)

// Manifest lists the members of an exported ensemble.
type Manifest struct {
	Classes []string `yaml:"classes,omitempty"`
	Members []Member `yaml:"members"`
}

// Member is one manifest entry. Path is relative to the manifest directory.
type Member struct {
	ID           string `yaml:"id"`
	Path         string `yaml:"path"`
	InputName    string `yaml:"input_name"`
	OutputName   string `yaml:"output_name"`
	InputRank    int    `yaml:"input_rank,omitempty"`
	OutputLayout string `yaml:"output_layout,omitempty"`
}

const (
	defaultInputName  = "spectrogram"
	defaultOutputName = "probabilities"
	defaultInputRank  = 3
)

// ParseManifest decodes and checks a manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Members) == 0 {
		return Manifest{}, errors.New("manifest lists no members")
	}
	seen := make(map[string]struct{}, len(m.Members))
	for i := range m.Members {
		member := &m.Members[i]
		member.ID = strings.TrimSpace(member.ID)
		member.Path = strings.TrimSpace(member.Path)
		if member.ID == "" {
			member.ID = strings.TrimSuffix(filepath.Base(member.Path), filepath.Ext(member.Path))
		}
		if member.Path == "" {
			return Manifest{}, fmt.Errorf("member %d has no path", i)
		}
		if filepath.IsAbs(member.Path) || strings.HasPrefix(filepath.Clean(member.Path), "..") {
			return Manifest{}, fmt.Errorf("member %s path %q must stay inside the ensemble directory", member.ID, member.Path)
		}
		if _, dup := seen[member.ID]; dup {
			return Manifest{}, fmt.Errorf("member id %q listed twice", member.ID)
		}
		seen[member.ID] = struct{}{}
		if member.InputName == "" {
			member.InputName = defaultInputName
		}
		if member.OutputName == "" {
			member.OutputName = defaultOutputName
		}
		if member.InputRank == 0 {
			member.InputRank = defaultInputRank
		}
		if member.InputRank != 3 && member.InputRank != 4 {
			return Manifest{}, fmt.Errorf("member %s input_rank must be 3 or 4, got %d", member.ID, member.InputRank)
		}
		if member.OutputLayout == "" {
			member.OutputLayout = onnxmodel.LayoutClassesFrames
		}
		if member.OutputLayout != onnxmodel.LayoutClassesFrames && member.OutputLayout != onnxmodel.LayoutFramesClasses {
			return Manifest{}, fmt.Errorf("member %s output_layout %q is not supported", member.ID, member.OutputLayout)
		}
	}
	return m, nil
}

// ReadManifest loads dir/name. A missing manifest yields services.ErrNotFound.
func ReadManifest(dir, name string) (Manifest, error) {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, services.Wrap(services.ErrNotFound, "models", "manifest", path, err)
		}
		return Manifest{}, services.Wrap(services.ErrModelLoad, "models", "manifest", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return Manifest{}, services.Wrap(services.ErrModelLoad, "models", "manifest", path, err)
	}
	return m, nil
}

// CheckClasses fails when the manifest names classes that differ from the
// configured ones.
func (m Manifest) CheckClasses(names []string) error {
	if len(m.Classes) == 0 || slices.Equal(m.Classes, names) {
		return nil
	}
	return services.Wrap(services.ErrInvalidConfiguration, "models", "manifest",
		fmt.Sprintf("ensemble was trained for classes %v, configuration names %v", m.Classes, names), nil)
}

// Specs resolves member paths against dir and checks every model file exists.
func (m Manifest) Specs(dir string) ([]onnxmodel.Spec, error) {
	specs := make([]onnxmodel.Spec, 0, len(m.Members))
	for _, member := range m.Members {
		path := filepath.Join(dir, member.Path)
		info, err := os.Stat(path)
		if err != nil {
			return nil, services.Wrap(services.ErrModelLoad, "models", "resolve", "member "+member.ID, err)
		}
		if info.IsDir() {
			return nil, services.Wrap(services.ErrModelLoad, "models", "resolve",
				fmt.Sprintf("member %s path %s is a directory", member.ID, path), nil)
		}
		specs = append(specs, onnxmodel.Spec{
			ID:           member.ID,
			Path:         path,
			InputName:    member.InputName,
			OutputName:   member.OutputName,
			InputRank:    member.InputRank,
			OutputLayout: member.OutputLayout,
		})
	}
	return specs, nil
}
