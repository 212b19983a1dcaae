package preflight

import (
	"context"

	"disco/internal/backend"
	"disco/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// probe may be nil, in which case the accelerator check is skipped.
func RunAll(ctx context.Context, cfg *config.Config, probe backend.Probe) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckDirectoryAccess("Run registry directory", parentDir(cfg.Paths.RunDB)))

	results = append(results, CheckONNXLibrary(cfg.Models.ONNXLibrary))
	results = append(results, CheckModels(ctx, cfg.Models))

	if cfg.Inference.Backend != "cpu" && probe != nil {
		results = append(results, CheckAccelerator(probe, cfg.Inference.CUDADevice))
	}

	return results
}

// FirstFailure returns the first failed result, if any.
func FirstFailure(results []Result) (Result, bool) {
	for _, r := range results {
		if !r.Passed {
			return r, true
		}
	}
	return Result{}, false
}
