// Package backend chooses the compute backend for a run. Selection happens
// once and the result is injected into the model loader and the ensemble
// runner. A missing accelerator is never fatal; the run degrades to CPU.
package backend

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"

	"disco/internal/config"
	"disco/internal/logging"
	"disco/internal/services"
)

// Kind identifies a compute backend.
type Kind string

const (
	CPU  Kind = "cpu"
	CUDA Kind = "cuda"
)

// Backend is the resolved compute configuration for one run.
type Backend struct {
	Kind Kind
	// Device is the CUDA device ordinal; unused on CPU.
	Device int
	// Workers bounds concurrent member x tile inferences.
	Workers int
	// Threads is the intra-op thread count handed to each model session.
	Threads int
}

func (b Backend) String() string {
	if b.Kind == CUDA {
		return fmt.Sprintf("cuda:%d", b.Device)
	}
	return string(b.Kind)
}

// Accelerated reports whether the backend runs on a GPU.
func (b Backend) Accelerated() bool {
	return b.Kind == CUDA
}

// Probe checks whether the CUDA device can host inference sessions.
type Probe interface {
	CUDAAvailable(device int) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(device int) error

func (f ProbeFunc) CUDAAvailable(device int) error { return f(device) }

// Select resolves inference.backend. When CUDA is requested or auto-detected
// but unavailable, it logs a warning tagged ErrComputeBackendUnavailable and
// falls back to CPU with num_threads workers.
func Select(cfg config.Inference, probe Probe, logger *slog.Logger) Backend {
	logger = logging.NewComponentLogger(logger, "backend")
	cpuBackend := Backend{Kind: CPU, Workers: cfg.NumThreads, Threads: 1}

	mode := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if mode == string(CPU) {
		logSelected(logger, cpuBackend, "configured")
		return cpuBackend
	}

	var err error
	if probe == nil {
		err = fmt.Errorf("no accelerator probe available")
	} else {
		err = probe.CUDAAvailable(cfg.CUDADevice)
	}
	if err != nil {
		wrapped := services.Wrap(services.ErrComputeBackendUnavailable, "backend", "select",
			fmt.Sprintf("cuda device %d", cfg.CUDADevice), err)
		logging.WarnWithContext(logger, "accelerated backend unavailable; using cpu", "backend_fallback",
			logging.String("requested", mode),
			logging.Error(wrapped),
			logging.String(logging.FieldErrorHint, "install the CUDA execution provider or set inference.backend = \"cpu\""),
			logging.String(logging.FieldImpact, "inference runs on cpu and takes longer"),
		)
		logSelected(logger, cpuBackend, "fallback")
		return cpuBackend
	}

	selected := Backend{Kind: CUDA, Device: cfg.CUDADevice, Workers: cfg.MaxWorkers, Threads: cfg.NumThreads}
	logSelected(logger, selected, mode)
	return selected
}

func logSelected(logger *slog.Logger, b Backend, reason string) {
	logger.Info("compute backend selected",
		logging.String("backend", b.String()),
		logging.String("reason", reason),
		logging.Int("workers", b.Workers),
		logging.Int("threads", b.Threads),
		logging.String("cpu_features", strings.Join(CPUFeatures(), ",")),
		logging.String(logging.FieldEventType, "backend_selected"),
	)
}

// CPUFeatures lists the SIMD extensions the host CPU offers.
func CPUFeatures() []string {
	var features []string
	add := func(ok bool, name string) {
		if ok {
			features = append(features, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "asimd")
		add(cpu.ARM64.HasFPHP, "fphp")
		add(cpu.ARM64.HasSVE, "sve")
	}
	if len(features) == 0 {
		features = append(features, "baseline")
	}
	return features
}
