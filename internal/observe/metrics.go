// Package observe records per-run OpenTelemetry metrics for evaluation runs.
//
// Instruments are created from any metric.MeterProvider. A Recorder wraps an
// SDK provider with a ManualReader so the CLI can print a run summary
// without exporting anything; tests use the same reader to assert on values.
package observe

import (
	"time"

	"go.opentelemetry.io/otel/metric"
)

const meterName = "disco"

// Metric names.
const (
	NameTiles             = "disco.ensemble.tiles"
	NameInferenceDuration = "disco.ensemble.inference.duration"
	NameFrames            = "disco.frames"
	NameStageDuration     = "disco.stage.duration"
)

// Metrics holds the instruments used by the pipeline. All fields are safe
// for concurrent use.
type Metrics struct {
	// Tiles counts member x tile inferences. Attributes: member, status.
	Tiles metric.Int64Counter

	// InferenceDuration is the latency of one member on one tile. Attribute: member.
	InferenceDuration metric.Float64Histogram

	// Frames counts frames that went through the full pipeline. Attribute: source.
	Frames metric.Int64Counter

	// StageDuration times whole pipeline stages. Attribute: stage.
	StageDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Tiles, err = m.Int64Counter(NameTiles,
		metric.WithDescription("Member tile inferences by member and status."),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram(NameInferenceDuration,
		metric.WithDescription("Latency of one member on one tile."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter(NameFrames,
		metric.WithDescription("Spectrogram frames evaluated by source."),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram(NameStageDuration,
		metric.WithDescription("Wall time of pipeline stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Seconds converts a duration for histogram recording.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}
