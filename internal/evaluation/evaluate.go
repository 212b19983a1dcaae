package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"disco/internal/aggregate"
	"disco/internal/backend"
	"disco/internal/config"
	"disco/internal/ensemble"
	"disco/internal/hmm"
	"disco/internal/logging"
	"disco/internal/observe"
	"disco/internal/runstore"
	"disco/internal/services"
	"disco/internal/source"
	"disco/internal/tensor"
	"disco/internal/tiling"
)

// Request names the recordings to evaluate.
type Request struct {
	Sources []string
	// OutputDir overrides the artifact set location. Defaults to
	// paths.artifact_dir/<run id>.
	OutputDir string
}

// Result describes a committed run.
type Result struct {
	RunID         string
	ArtifactDir   string
	Artifacts     []string
	Backend       backend.Backend
	Members       []string
	Frames        int
	LabeledFrames int
	// Agreement is the fraction of labeled frames where the smoothed label
	// matches ground truth. Nil when nothing is labeled.
	Agreement *float64
	Summary   aggregate.Summary
	Metrics   observe.Snapshot
	Elapsed   time.Duration
}

// Evaluator runs evaluations for one configuration.
type Evaluator struct {
	cfg      *config.Config
	logger   *slog.Logger
	members  MemberSource
	probe    backend.Probe
	runs     *runstore.Store
	recorder *observe.Recorder
	metrics  *observe.Metrics
	newID    func() string
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithMembers replaces the ONNX-backed ensemble.
func WithMembers(src MemberSource) Option {
	return func(e *Evaluator) { e.members = src }
}

// WithProbe sets the accelerator probe used by backend selection.
func WithProbe(p backend.Probe) Option {
	return func(e *Evaluator) { e.probe = p }
}

// WithRunStore records runs in the registry.
func WithRunStore(s *runstore.Store) Option {
	return func(e *Evaluator) { e.runs = s }
}

// WithRecorder records metrics and attaches a snapshot to every Result.
func WithRecorder(r *observe.Recorder) Option {
	return func(e *Evaluator) {
		e.recorder = r
		if r != nil {
			e.metrics = r.Metrics
		}
	}
}

// WithRunID overrides run id generation.
func WithRunID(fn func() string) Option {
	return func(e *Evaluator) { e.newID = fn }
}

// New builds an Evaluator. Without WithMembers the ensemble is resolved from
// the models configuration and run on ONNX Runtime.
func New(cfg *config.Config, opts ...Option) *Evaluator {
	e := &Evaluator{cfg: cfg, newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "evaluation")
	if e.members == nil {
		e.members = ONNXMembers{Models: cfg.Models, Logger: e.logger}
	}
	if e.metrics == nil {
		e.metrics = observe.NewNopMetrics()
	}
	return e
}

// Evaluate runs the full pipeline over req.Sources.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	if len(req.Sources) == 0 {
		return Result{}, services.Wrap(services.ErrEmptyInput, "evaluation", "validate", "no test files", nil)
	}
	if err := tiling.ValidateSize(e.cfg.Inference.TileSize); err != nil {
		return Result{}, err
	}
	decoder, err := hmm.NewDecoder(e.cfg.HMMParams(), e.cfg.HMM.Tolerance)
	if err != nil {
		return Result{}, err
	}
	classes := e.cfg.Classes.Names
	if decoder.States() != len(classes) {
		return Result{}, services.Wrap(services.ErrInvalidConfiguration, "evaluation", "validate",
			fmt.Sprintf("hmm has %d states but %d classes are configured", decoder.States(), len(classes)), nil)
	}

	runID := e.newID()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, e.logger)

	outDir := strings.TrimSpace(req.OutputDir)
	if outDir == "" {
		outDir = filepath.Join(e.cfg.Paths.ArtifactDir, runID)
	}

	recordings, err := e.loadSources(ctx, req.Sources)
	if err != nil {
		return Result{}, err
	}
	spectrograms := make([]tensor.Matrix, len(recordings))
	for i, rec := range recordings {
		spectrograms[i] = rec.Spectrogram
	}
	tiles, parts, err := tiling.SplitSegments(spectrograms, e.cfg.Inference.TileSize)
	if err != nil {
		return Result{}, err
	}
	spect, labels, err := source.Concat(recordings)
	if err != nil {
		return Result{}, err
	}

	selected := backend.Select(e.cfg.Inference, e.probe, logger)
	members, release, err := e.members.Open(ctx, selected, classes)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := release(); err != nil {
			logger.Warn("release ensemble failed", logging.Error(err))
		}
	}()

	runner, err := ensemble.NewRunner(members, selected, len(classes),
		ensemble.WithMetrics(e.metrics), ensemble.WithLogger(e.logger))
	if err != nil {
		return Result{}, err
	}

	run := &runstore.Run{
		ID:           runID,
		Sources:      req.Sources,
		Classes:      classes,
		TileSize:     e.cfg.Inference.TileSize,
		EnsembleSize: runner.Size(),
		Backend:      selected.String(),
		ArtifactDir:  outDir,
	}
	if e.runs != nil {
		if err := e.runs.Begin(ctx, run); err != nil {
			logger.Warn("run registry unavailable", logging.Error(err))
		}
	}

	logger.Info("evaluation started",
		logging.Int("sources", len(recordings)),
		logging.Int("frames", spect.Cols),
		logging.Int("tiles", len(tiles)),
		logging.Int("members", runner.Size()),
		logging.String("backend", selected.String()),
		logging.String("artifact_dir", outDir),
	)

	result, err := e.run(ctx, runner, decoder, pipelineInput{
		tiles:       tiles,
		parts:       parts,
		spectrogram: spect,
		labels:      labels,
		outDir:      outDir,
	})
	if err != nil {
		e.recordFailure(ctx, runID, err)
		logging.ErrorWithContext(logger, "evaluation failed", "evaluation_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "no artifacts were written; fix the cause and rerun"),
		)
		return Result{}, err
	}

	for _, rec := range recordings {
		e.metrics.Frames.Add(ctx, int64(rec.Frames()), metric.WithAttributes(attribute.String("source", rec.Name())))
	}

	result.RunID = runID
	result.Backend = selected
	result.Elapsed = time.Since(started)
	if e.runs != nil {
		outcome := runstore.Outcome{Frames: result.Frames, LabeledFrames: result.LabeledFrames, Agreement: result.Agreement}
		if err := e.runs.Complete(ctx, runID, outcome); err != nil {
			logger.Warn("run registry update failed", logging.Error(err))
		}
	}
	if e.recorder != nil {
		snap, err := e.recorder.Snapshot(ctx)
		if err != nil {
			logger.Warn("metrics snapshot failed", logging.Error(err))
		}
		result.Metrics = snap
	}

	attrs := []logging.Attr{
		logging.Int("frames", result.Frames),
		logging.Float64("mean_iqr", result.Summary.MeanIQR),
		logging.Float64("unanimous", result.Summary.Unanimous),
		logging.Int("smoothed_shift", result.Summary.SmoothedShift),
		logging.Duration("elapsed", result.Elapsed),
	}
	if result.Agreement != nil {
		attrs = append(attrs, logging.Float64("agreement", *result.Agreement))
	}
	logger.Info("evaluation complete", logging.Args(attrs...)...)
	return result, nil
}

type pipelineInput struct {
	tiles       []tiling.Tile
	parts       []tensor.Matrix
	spectrogram tensor.Matrix
	labels      []int
	outDir      string
}

func (e *Evaluator) run(ctx context.Context, runner *ensemble.Runner, decoder *hmm.Decoder, in pipelineInput) (Result, error) {
	preds, err := runner.Run(ctx, in.tiles, in.parts)
	if err != nil {
		return Result{}, err
	}

	var stats aggregate.Statistics
	if err := e.stage(ctx, "aggregate", func() error {
		var err error
		stats, err = aggregate.Compute(preds.Ordered())
		return err
	}); err != nil {
		return Result{}, services.Wrap(services.ErrInference, "evaluation", "aggregate", "combine member outputs", err)
	}

	var smoothed []int
	if err := e.stage(ctx, "decode", func() error {
		var err error
		smoothed, err = decoder.Decode(stats.MedianArgmax())
		return err
	}); err != nil {
		return Result{}, err
	}

	var written []string
	if err := e.stage(ctx, "persist", func() error {
		var err error
		written, err = writeArtifacts(in.outDir, runArrays{
			labels:      in.labels,
			spectrogram: in.spectrogram,
			smoothed:    smoothed,
			stats:       stats,
		})
		return err
	}); err != nil {
		return Result{}, err
	}

	labeled, agreement := agreementRate(in.labels, smoothed)
	return Result{
		ArtifactDir:   in.outDir,
		Artifacts:     written,
		Members:       preds.IDs,
		Frames:        stats.Frames(),
		LabeledFrames: labeled,
		Agreement:     agreement,
		Summary:       aggregate.Summarize(stats, smoothed),
	}, nil
}

func (e *Evaluator) loadSources(ctx context.Context, paths []string) ([]source.Recording, error) {
	var recordings []source.Recording
	err := e.stage(ctx, "load", func() error {
		var err error
		recordings, err = source.LoadAll(paths, e.cfg.Source, len(e.cfg.Classes.Names), logging.WithContext(ctx, e.logger))
		return err
	})
	return recordings, err
}

func (e *Evaluator) stage(ctx context.Context, name string, fn func() error) error {
	started := time.Now()
	err := fn()
	e.metrics.StageDuration.Record(ctx, observe.Seconds(time.Since(started)),
		metric.WithAttributes(attribute.String("stage", name)))
	return err
}

func (e *Evaluator) recordFailure(ctx context.Context, runID string, cause error) {
	if e.runs == nil {
		return
	}
	// The run context may already be cancelled; the registry update must still land.
	if err := e.runs.Fail(context.WithoutCancel(ctx), runID, cause); err != nil {
		e.logger.Warn("run registry update failed", logging.String(logging.FieldRunID, runID), logging.Error(err))
	}
}

// agreementRate compares smoothed labels with ground truth over labeled frames.
func agreementRate(labels, smoothed []int) (int, *float64) {
	labeled, matched := 0, 0
	for i, label := range labels {
		if label == source.Unlabeled || i >= len(smoothed) {
			continue
		}
		labeled++
		if smoothed[i] == label {
			matched++
		}
	}
	if labeled == 0 {
		return 0, nil
	}
	rate := float64(matched) / float64(labeled)
	return labeled, &rate
}
