// Package onnxmodel adapts ONNX Runtime sessions to ensemble.Member.
package onnxmodel

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"disco/internal/backend"
	"disco/internal/services"
	"disco/internal/tensor"
)

// Output layouts accepted in Spec.OutputLayout.
const (
	LayoutClassesFrames = "classes_frames"
	LayoutFramesClasses = "frames_classes"
)

// Spec describes one exported ensemble member.
type Spec struct {
	ID           string
	Path         string
	InputName    string
	OutputName   string
	InputRank    int    // 3: (1, bins, frames); 4: (1, 1, bins, frames)
	OutputLayout string // classes_frames or frames_classes, batch dimension first
}

var (
	envMu    sync.Mutex
	envUsers int
)

// InitEnvironment initializes the shared ONNX Runtime environment. Every
// successful call must be paired with ReleaseEnvironment.
func InitEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envUsers == 0 && !ort.IsInitialized() {
		if libraryPath = strings.TrimSpace(libraryPath); libraryPath != "" {
			if _, err := os.Stat(libraryPath); err != nil {
				return services.Wrap(services.ErrModelLoad, "onnx", "init", "onnxruntime library", err)
			}
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return services.Wrap(services.ErrModelLoad, "onnx", "init", "initialize environment", err)
		}
	}
	envUsers++
	return nil
}

// ReleaseEnvironment drops one reference and destroys the environment when
// the last user is gone.
func ReleaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envUsers == 0 {
		return nil
	}
	envUsers--
	if envUsers == 0 && ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

// Model is an ensemble member backed by an ONNX Runtime session. Tensors are
// created per call so one session can serve concurrent tiles.
type Model struct {
	spec    Spec
	classes int
	session *ort.DynamicAdvancedSession
}

// Load opens the model on the selected backend. The environment must be
// initialized.
func Load(spec Spec, b backend.Backend, classes int) (*Model, error) {
	if spec.InputName == "" || spec.OutputName == "" {
		return nil, services.Wrap(services.ErrModelLoad, "onnx", "load",
			fmt.Sprintf("member %s: input and output names are required", spec.ID), nil)
	}
	options, err := sessionOptions(b)
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "onnx", "load", spec.ID, err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(spec.Path,
		[]string{spec.InputName}, []string{spec.OutputName}, options)
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "onnx", "load",
			fmt.Sprintf("member %s from %s", spec.ID, spec.Path), err)
	}
	return &Model{spec: spec, classes: classes, session: session}, nil
}

func sessionOptions(b backend.Backend) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	if err := options.SetIntraOpNumThreads(max(b.Threads, 1)); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("intra-op threads: %w", err)
	}
	if b.Kind == backend.CUDA {
		if err := appendCUDA(options, b.Device); err != nil {
			options.Destroy()
			return nil, err
		}
	}
	return options, nil
}

func appendCUDA(options *ort.SessionOptions, device int) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("cuda provider options: %w", err)
	}
	defer cuda.Destroy()
	if err := cuda.Update(map[string]string{"device_id": fmt.Sprint(device)}); err != nil {
		return fmt.Errorf("cuda device %d: %w", device, err)
	}
	if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
		return fmt.Errorf("append cuda provider: %w", err)
	}
	return nil
}

// CUDAProbe reports whether a CUDA execution provider can be attached on
// device. It initializes the environment for the duration of the probe.
func CUDAProbe(libraryPath string) backend.Probe {
	return backend.ProbeFunc(func(device int) error {
		if err := InitEnvironment(libraryPath); err != nil {
			return err
		}
		defer ReleaseEnvironment()
		options, err := ort.NewSessionOptions()
		if err != nil {
			return err
		}
		defer options.Destroy()
		return appendCUDA(options, device)
	})
}

func (m *Model) ID() string { return m.spec.ID }

// Predict runs the session on one bins x frames tile.
func (m *Model) Predict(ctx context.Context, tile tensor.Matrix) (tensor.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return tensor.Matrix{}, err
	}
	shape := ort.NewShape(1, int64(tile.Rows), int64(tile.Cols))
	if m.spec.InputRank == 4 {
		shape = ort.NewShape(1, 1, int64(tile.Rows), int64(tile.Cols))
	}
	input, err := ort.NewTensor(shape, append([]float32(nil), tile.Data...))
	if err != nil {
		return tensor.Matrix{}, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()

	outShape := ort.NewShape(1, int64(m.classes), int64(tile.Cols))
	if m.spec.OutputLayout == LayoutFramesClasses {
		outShape = ort.NewShape(1, int64(tile.Cols), int64(m.classes))
	}
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return tensor.Matrix{}, fmt.Errorf("output tensor: %w", err)
	}
	defer output.Destroy()

	if err := m.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return tensor.Matrix{}, fmt.Errorf("run session: %w", err)
	}
	return toClassesFrames(output.GetData(), m.classes, tile.Cols, m.spec.OutputLayout)
}

// Close destroys the session.
func (m *Model) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

func toClassesFrames(data []float32, classes, frames int, layout string) (tensor.Matrix, error) {
	if len(data) != classes*frames {
		return tensor.Matrix{}, fmt.Errorf("output has %d values, want %d", len(data), classes*frames)
	}
	out := tensor.New(classes, frames)
	if layout != LayoutFramesClasses {
		copy(out.Data, data)
		return out, nil
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < classes; c++ {
			out.Set(c, f, data[f*classes+c])
		}
	}
	return out, nil
}
