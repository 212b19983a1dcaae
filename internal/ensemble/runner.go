package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"disco/internal/backend"
	"disco/internal/logging"
	"disco/internal/observe"
	"disco/internal/services"
	"disco/internal/tensor"
	"disco/internal/tiling"
)

// Predictions holds one full-length classes x frames sequence per member.
type Predictions struct {
	IDs       []string
	Sequences map[string]tensor.Matrix
}

// Ordered returns the sequences in member order.
func (p Predictions) Ordered() []tensor.Matrix {
	out := make([]tensor.Matrix, 0, len(p.IDs))
	for _, id := range p.IDs {
		out = append(out, p.Sequences[id])
	}
	return out
}

// Runner executes an ensemble over tiled spectrograms.
type Runner struct {
	members []Member
	backend backend.Backend
	classes int
	metrics *observe.Metrics
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics records tile counts and latencies.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner validates the ensemble. classes is the row count every member
// output must have.
func NewRunner(members []Member, b backend.Backend, classes int, opts ...Option) (*Runner, error) {
	if len(members) == 0 {
		return nil, services.Wrap(services.ErrModelLoad, "ensemble", "new runner", "ensemble has no members", nil)
	}
	if classes <= 0 {
		return nil, services.Wrap(services.ErrInvalidConfiguration, "ensemble", "new runner", "class count must be positive", nil)
	}
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m.ID()]; dup {
			return nil, services.Wrap(services.ErrModelLoad, "ensemble", "new runner",
				fmt.Sprintf("duplicate member id %q", m.ID()), nil)
		}
		seen[m.ID()] = struct{}{}
	}
	r := &Runner{members: members, backend: b, classes: classes}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observe.NewNopMetrics()
	}
	r.logger = logging.NewComponentLogger(r.logger, "ensemble")
	return r, nil
}

// Size returns the ensemble size.
func (r *Runner) Size() int {
	return len(r.members)
}

// Run predicts every tile with every member. It returns only after all tasks
// finished; on any failure the remaining tasks are cancelled and the error is
// tagged ErrInference.
func (r *Runner) Run(ctx context.Context, tiles []tiling.Tile, parts []tensor.Matrix) (Predictions, error) {
	if len(tiles) != len(parts) {
		return Predictions{}, services.Wrap(services.ErrInference, "ensemble", "run",
			fmt.Sprintf("%d tiles but %d tile tensors", len(tiles), len(parts)), nil)
	}
	ctx = services.WithStage(ctx, "inference")
	logger := logging.WithContext(ctx, r.logger)

	outputs := make([][]tensor.Matrix, len(r.members))
	for m := range outputs {
		outputs[m] = make([]tensor.Matrix, len(tiles))
	}

	total := len(r.members) * len(tiles)
	var (
		mu      sync.Mutex
		done    int
		sampler = logging.NewProgressSampler(10)
	)

	workers := max(r.backend.Workers, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	started := time.Now()
	for m, member := range r.members {
		for i, tile := range tiles {
			g.Go(func() error {
				out, err := r.predict(gctx, member, tile, parts[i])
				if err != nil {
					return err
				}
				outputs[m][i] = out

				mu.Lock()
				done++
				if sampler.ShouldLog(done, total) {
					logger.Info("inference progress",
						logging.Int("done", done),
						logging.Int("total", total),
						logging.Float64("percent", logging.Percent(done, total)),
					)
				}
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Predictions{}, err
	}
	r.metrics.StageDuration.Record(ctx, observe.Seconds(time.Since(started)),
		metric.WithAttributes(attribute.String("stage", "inference")))

	preds := Predictions{IDs: make([]string, len(r.members)), Sequences: make(map[string]tensor.Matrix, len(r.members))}
	for m, member := range r.members {
		seq := tensor.New(r.classes, 0)
		if len(tiles) > 0 {
			var err error
			if seq, err = tiling.Reassemble(tiles, outputs[m]); err != nil {
				return Predictions{}, services.Wrap(services.ErrInference, "ensemble", "reassemble", member.ID(), err)
			}
		}
		preds.IDs[m] = member.ID()
		preds.Sequences[member.ID()] = seq
	}
	logger.Debug("ensemble run complete",
		logging.Int("members", len(r.members)),
		logging.Int("tiles", len(tiles)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return preds, nil
}

func (r *Runner) predict(ctx context.Context, member Member, tile tiling.Tile, part tensor.Matrix) (tensor.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return tensor.Matrix{}, err
	}
	id := member.ID()
	memberAttr := attribute.String("member", id)

	start := time.Now()
	out, err := member.Predict(services.WithMember(ctx, id), part)
	r.metrics.InferenceDuration.Record(ctx, observe.Seconds(time.Since(start)), metric.WithAttributes(memberAttr))

	if err == nil && (out.Rows != r.classes || out.Cols != tile.Frames()) {
		err = fmt.Errorf("output shape %dx%d, want %dx%d", out.Rows, out.Cols, r.classes, tile.Frames())
	}
	if err != nil {
		r.metrics.Tiles.Add(ctx, 1, metric.WithAttributes(memberAttr, attribute.String("status", "error")))
		return tensor.Matrix{}, services.Wrap(services.ErrInference, "ensemble", "predict",
			fmt.Sprintf("member %s tile %d", id, tile.Index), err)
	}
	r.metrics.Tiles.Add(ctx, 1, metric.WithAttributes(memberAttr, attribute.String("status", "ok")))
	return out, nil
}
