package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"disco/internal/runstore"
	"disco/internal/services"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run registry",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded evaluations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			return ctx.withRunStore(func(store *runstore.Store) error {
				runs, err := store.List(cmd.Context(), limit, filter...)
				if err != nil {
					return err
				}
				if asJSON {
					views := make([]runView, 0, len(runs))
					for _, run := range runs {
						views = append(views, newRunView(run))
					}
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				fmt.Fprintln(out, renderRunsTable(runs))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to show (0 for all)")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only show runs with these statuses (running, completed, failed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one recorded evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withRunStore(func(store *runstore.Store) error {
				run, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if run == nil {
					return services.Wrap(services.ErrNotFound, "runs", "show", fmt.Sprintf("run %s", id), nil)
				}
				printRun(cmd.OutOrStdout(), run)
				return nil
			})
		},
	}
}

func (c *commandContext) withRunStore(fn func(*runstore.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := runstore.Open(cfg.Paths.RunDB)
	if err != nil {
		return fmt.Errorf("open run registry: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func parseStatuses(values []string) ([]runstore.Status, error) {
	var out []runstore.Status
	for _, v := range values {
		status := runstore.Status(strings.ToLower(strings.TrimSpace(v)))
		switch status {
		case runstore.StatusRunning, runstore.StatusCompleted, runstore.StatusFailed:
			out = append(out, status)
		case "":
		default:
			return nil, services.Wrap(services.ErrInvalidConfiguration, "runs", "filter", fmt.Sprintf("unknown status %q", v), nil)
		}
	}
	return out, nil
}

func renderRunsTable(runs []*runstore.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			string(run.Status),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			strconv.Itoa(len(run.Sources)),
			strconv.Itoa(run.Frames),
			formatRunAgreement(run.Agreement),
			run.Backend,
			formatDuration(run.Duration()),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Started", "Sources", "Frames", "Agreement", "Backend", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignRight},
	)
}

func printRun(out io.Writer, run *runstore.Run) {
	fmt.Fprintf(out, "Run:        %s\n", run.ID)
	fmt.Fprintf(out, "Status:     %s\n", run.Status)
	fmt.Fprintf(out, "Started:    %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "Duration:   %s\n", formatDuration(run.Duration()))
	}
	fmt.Fprintf(out, "Backend:    %s\n", run.Backend)
	fmt.Fprintf(out, "Tile size:  %d\n", run.TileSize)
	fmt.Fprintf(out, "Members:    %d\n", run.EnsembleSize)
	fmt.Fprintf(out, "Classes:    %s\n", strings.Join(run.Classes, ", "))
	fmt.Fprintf(out, "Frames:     %d (%d labeled)\n", run.Frames, run.LabeledFrames)
	fmt.Fprintf(out, "Agreement:  %s\n", formatRunAgreement(run.Agreement))
	fmt.Fprintf(out, "Artifacts:  %s\n", run.ArtifactDir)
	for i, src := range run.Sources {
		fmt.Fprintf(out, "Source %d:   %s\n", i+1, src)
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:      %s\n", run.ErrorMessage)
	}
}

func formatRunAgreement(agreement *float64) string {
	if agreement == nil {
		return "-"
	}
	return formatPercent(*agreement)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

type runView struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Sources       []string   `json:"sources"`
	Classes       []string   `json:"classes"`
	TileSize      int        `json:"tile_size"`
	EnsembleSize  int        `json:"ensemble_size"`
	Backend       string     `json:"backend"`
	ArtifactDir   string     `json:"artifact_dir"`
	Frames        int        `json:"frames"`
	LabeledFrames int        `json:"labeled_frames"`
	Agreement     *float64   `json:"agreement"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func newRunView(run *runstore.Run) runView {
	return runView{
		ID:            run.ID,
		Status:        string(run.Status),
		Sources:       run.Sources,
		Classes:       run.Classes,
		TileSize:      run.TileSize,
		EnsembleSize:  run.EnsembleSize,
		Backend:       run.Backend,
		ArtifactDir:   run.ArtifactDir,
		Frames:        run.Frames,
		LabeledFrames: run.LabeledFrames,
		Agreement:     run.Agreement,
		Error:         run.ErrorMessage,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
}
