package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"disco/internal/config"
	"disco/internal/evaluation"
)

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	artifactsCmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Inspect stored artifact sets",
	}
	artifactsCmd.AddCommand(newArtifactsShowCommand(ctx))
	return artifactsCmd
}

func newArtifactsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show DIR",
		Short: "Summarize the arrays and predictions in an artifact set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir, err := config.ExpandPath(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve artifact directory: %w", err)
			}
			inspection, err := evaluation.Inspect(dir)
			if err != nil {
				return err
			}
			printInspection(cmd.OutOrStdout(), cfg, inspection)
			return nil
		},
	}
}

func printInspection(out io.Writer, cfg *config.Config, in evaluation.Inspection) {
	fmt.Fprintf(out, "Artifacts:  %s\n", in.Dir)
	fmt.Fprintf(out, "Complete:   %s\n", yesNo(len(in.Missing) == 0))
	if len(in.Missing) > 0 {
		fmt.Fprintf(out, "Missing:    %s\n", strings.Join(in.Missing, ", "))
	}
	fmt.Fprintf(out, "Frames:     %d (%d labeled)\n", in.Frames, in.LabeledFrames)
	fmt.Fprintf(out, "Agreement:  %s\n", formatAgreement(in.Agreement))
	fmt.Fprintf(out, "Mean IQR:   %.4f\n", in.MeanIQR)

	rows := make([][]string, 0, len(in.Arrays))
	for _, a := range in.Arrays {
		rows = append(rows, []string{a.Name, string(a.DType), formatShape(a.Shape)})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable([]string{"Array", "DType", "Shape"}, rows, []columnAlignment{alignLeft, alignCenter, alignRight}))

	if in.Classes > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderClassTable(cfg, [][]int{in.MedianFrames, in.HMMFrames}, []string{"Median frames", "HMM frames"}, in.Frames))
	}
}

func formatShape(shape []int) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	if len(dims) == 1 {
		return "(" + dims[0] + ",)"
	}
	return "(" + strings.Join(dims, ", ") + ")"
}
