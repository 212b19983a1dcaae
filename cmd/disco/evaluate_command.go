package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"disco/internal/config"
	"disco/internal/ensemble/onnxmodel"
	"disco/internal/evaluation"
	"disco/internal/logging"
	"disco/internal/observe"
	"disco/internal/preflight"
	"disco/internal/runstore"
)

type evaluateOptions struct {
	outDir        string
	tileSize      int
	threads       int
	modelsDir     string
	skipPreflight bool
	json          bool
}

func newEvaluateCommand(ctx *commandContext) *cobra.Command {
	var opts evaluateOptions

	cmd := &cobra.Command{
		Use:   "evaluate SOURCE...",
		Short: "Classify spectrogram sources with the model ensemble",
		Long: `Classify one or more spectrogram sources (.npy, bins x frames) with every
ensemble member, aggregate the members per frame, smooth the result with the
configured HMM, and write the artifact set.

Ground-truth labels are read from a sibling file named after the source with
the configured labels suffix (default <stem>.labels.npy).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyEvaluateOverrides(cmd, cfg, opts); err != nil {
				return err
			}
			return runEvaluate(cmd, ctx, cfg, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "Artifact directory (default <artifact_dir>/<run id>)")
	cmd.Flags().IntVar(&opts.tileSize, "tile-size", 0, "Frames per tile; must be even")
	cmd.Flags().IntVar(&opts.threads, "threads", 0, "Intra-op threads per member session")
	cmd.Flags().StringVar(&opts.modelsDir, "models", "", "Saved ensemble directory (overrides models.saved_model_directory)")
	cmd.Flags().BoolVar(&opts.skipPreflight, "skip-preflight", false, "Run without checking the environment first")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the run summary as JSON")
	return cmd
}

func applyEvaluateOverrides(cmd *cobra.Command, cfg *config.Config, opts evaluateOptions) error {
	flags := cmd.Flags()
	if flags.Changed("tile-size") {
		cfg.Inference.TileSize = opts.tileSize
	}
	if flags.Changed("threads") {
		cfg.Inference.NumThreads = opts.threads
	}
	if flags.Changed("models") {
		dir, err := config.ExpandPath(strings.TrimSpace(opts.modelsDir))
		if err != nil {
			return fmt.Errorf("resolve models directory: %w", err)
		}
		cfg.Models.SavedModelDirectory = dir
	}
	return cfg.Validate()
}

func runEvaluate(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, opts evaluateOptions, sources []string) error {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	probe := onnxmodel.CUDAProbe(cfg.Models.ONNXLibrary)

	// With no sources Evaluate reports empty input before touching the models.
	if len(sources) > 0 && !opts.skipPreflight && ctx.members == nil {
		if failed, ok := preflight.FirstFailure(preflight.RunAll(cmd.Context(), cfg, probe)); ok {
			return preflightError(failed)
		}
	}

	runs, err := runstore.Open(cfg.Paths.RunDB)
	if err != nil {
		return fmt.Errorf("open run registry: %w", err)
	}
	defer runs.Close()

	evalOpts := []evaluation.Option{
		evaluation.WithLogger(logger),
		evaluation.WithProbe(probe),
		evaluation.WithRunStore(runs),
	}
	if ctx.members != nil {
		evalOpts = append(evalOpts, evaluation.WithMembers(ctx.members))
	}
	if cfg.Metrics.Enabled {
		recorder, err := observe.NewRecorder()
		if err != nil {
			return err
		}
		defer func() {
			_ = recorder.Shutdown(context.WithoutCancel(cmd.Context()))
		}()
		evalOpts = append(evalOpts, evaluation.WithRecorder(recorder))
	}

	result, err := evaluation.New(cfg, evalOpts...).Evaluate(cmd.Context(), evaluation.Request{
		Sources:   sources,
		OutputDir: strings.TrimSpace(opts.outDir),
	})
	if err != nil {
		return err
	}

	if opts.json {
		return writeJSON(cmd, newEvaluationView(cfg, result))
	}
	printEvaluation(cmd.OutOrStdout(), cfg, result)
	return nil
}

func printEvaluation(out io.Writer, cfg *config.Config, result evaluation.Result) {
	fmt.Fprintf(out, "Run:        %s\n", result.RunID)
	fmt.Fprintf(out, "Artifacts:  %s\n", result.ArtifactDir)
	fmt.Fprintf(out, "Backend:    %s\n", result.Backend)
	fmt.Fprintf(out, "Members:    %d (%s)\n", len(result.Members), strings.Join(result.Members, ", "))
	fmt.Fprintf(out, "Frames:     %d (%d labeled)\n", result.Frames, result.LabeledFrames)
	fmt.Fprintf(out, "Agreement:  %s\n", formatAgreement(result.Agreement))
	fmt.Fprintf(out, "Mean IQR:   %.4f (max %.4f)\n", result.Summary.MeanIQR, result.Summary.MaxIQR)
	fmt.Fprintf(out, "Unanimous:  %s of frames\n", formatPercent(result.Summary.Unanimous))
	fmt.Fprintf(out, "Smoothed:   %d frames changed by the HMM\n", result.Summary.SmoothedShift)
	fmt.Fprintf(out, "Elapsed:    %s\n", result.Elapsed.Round(time.Millisecond))

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderClassTable(cfg, [][]int{result.Summary.ClassFrames}, []string{"Median frames"}, result.Frames))

	if len(result.Metrics.StageSeconds) > 0 {
		rows := make([][]string, 0, len(result.Metrics.StageSeconds))
		for _, stage := range []string{"load", "inference", "aggregate", "decode", "persist"} {
			if secs, ok := result.Metrics.StageSeconds[stage]; ok {
				rows = append(rows, []string{stage, fmt.Sprintf("%.3fs", secs)})
			}
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Stage", "Time"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
}

// renderClassTable prints one row per class with a count column per series
// and the share of frames the first series assigns to the class.
func renderClassTable(cfg *config.Config, series [][]int, titles []string, frames int) string {
	classes := 0
	for _, counts := range series {
		classes = max(classes, len(counts))
	}
	headers := append(append([]string{"Class"}, titles...), "Share")
	aligns := []columnAlignment{alignLeft}
	for range titles {
		aligns = append(aligns, alignRight)
	}
	aligns = append(aligns, alignRight)

	caser := cases.Title(language.Und)
	rows := make([][]string, 0, classes)
	for c := 0; c < classes; c++ {
		row := []string{caser.String(cfg.ClassName(c))}
		for _, counts := range series {
			row = append(row, strconv.Itoa(countAt(counts, c)))
		}
		share := 0.0
		if frames > 0 && len(series) > 0 {
			share = float64(countAt(series[0], c)) / float64(frames)
		}
		rows = append(rows, append(row, formatPercent(share)))
	}
	return renderTable(headers, rows, aligns)
}

func countAt(counts []int, i int) int {
	if i < len(counts) {
		return counts[i]
	}
	return 0
}

func formatAgreement(agreement *float64) string {
	if agreement == nil {
		return "n/a (no labeled frames)"
	}
	return formatPercent(*agreement)
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}

type evaluationView struct {
	RunID         string             `json:"run_id"`
	ArtifactDir   string             `json:"artifact_dir"`
	Artifacts     []string           `json:"artifacts"`
	Backend       string             `json:"backend"`
	Members       []string           `json:"members"`
	Frames        int                `json:"frames"`
	LabeledFrames int                `json:"labeled_frames"`
	Agreement     *float64           `json:"agreement"`
	MeanIQR       float64            `json:"mean_iqr"`
	MaxIQR        float64            `json:"max_iqr"`
	Unanimous     float64            `json:"unanimous"`
	ClassFrames   map[string]int     `json:"class_frames"`
	StageSeconds  map[string]float64 `json:"stage_seconds,omitempty"`
	ElapsedMS     int64              `json:"elapsed_ms"`
}

func newEvaluationView(cfg *config.Config, result evaluation.Result) evaluationView {
	classFrames := make(map[string]int, len(result.Summary.ClassFrames))
	for c, n := range result.Summary.ClassFrames {
		classFrames[cfg.ClassName(c)] = n
	}
	return evaluationView{
		RunID:         result.RunID,
		ArtifactDir:   result.ArtifactDir,
		Artifacts:     result.Artifacts,
		Backend:       result.Backend.String(),
		Members:       result.Members,
		Frames:        result.Frames,
		LabeledFrames: result.LabeledFrames,
		Agreement:     result.Agreement,
		MeanIQR:       result.Summary.MeanIQR,
		MaxIQR:        result.Summary.MaxIQR,
		Unanimous:     result.Summary.Unanimous,
		ClassFrames:   classFrames,
		StageSeconds:  result.Metrics.StageSeconds,
		ElapsedMS:     result.Elapsed.Milliseconds(),
	}
}
