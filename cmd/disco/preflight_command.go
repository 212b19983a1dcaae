package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"disco/internal/ensemble/onnxmodel"
	"disco/internal/preflight"
	"disco/internal/services"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, ONNX Runtime, and the ensemble before a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg, onnxmodel.CUDAProbe(cfg.Models.ONNXLibrary))

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			failed := 0
			for _, r := range results {
				fmt.Fprintln(out, renderStatusLine(r.Name, preflightKind(r), r.Detail, colorize))
				if !r.Passed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("preflight: %d of %d checks failed", failed, len(results))
			}
			return nil
		},
	}
}

func preflightKind(r preflight.Result) statusKind {
	switch {
	case !r.Passed:
		return statusError
	case strings.HasPrefix(r.Detail, "unavailable"):
		return statusWarn
	default:
		return statusOK
	}
}

// preflightError turns a failed check into an error carrying the exit code
// an evaluation would have failed with.
func preflightError(r preflight.Result) error {
	marker := services.ErrInvalidConfiguration
	switch r.Name {
	case "ONNX Runtime", "Ensemble", "Ensemble download":
		marker = services.ErrModelLoad
	}
	return services.Wrap(marker, "preflight", strings.ToLower(r.Name), r.Detail, nil)
}
