package observe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Recorder owns an in-process meter provider for one run.
type Recorder struct {
	Metrics  *Metrics
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

// NewRecorder builds a Recorder backed by a ManualReader.
func NewRecorder() (*Recorder, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	met, err := NewMetrics(provider)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	return &Recorder{Metrics: met, reader: reader, provider: provider}, nil
}

// NewNopMetrics returns instruments that record nothing.
func NewNopMetrics() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic(fmt.Sprintf("observe: noop metrics: %v", err))
	}
	return met
}

// Snapshot is the run-level view of the recorded metrics.
type Snapshot struct {
	TilesOK          int64
	TilesFailed      int64
	Frames           int64
	InferenceSeconds float64
	MaxTileSeconds   float64
	StageSeconds     map[string]float64
	MemberTiles      map[string]int64
}

// Snapshot collects the current metric values.
func (r *Recorder) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{StageSeconds: map[string]float64{}, MemberTiles: map[string]int64{}}
	if r == nil {
		return snap, nil
	}
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(ctx, &rm); err != nil {
		return snap, fmt.Errorf("collect metrics: %w", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					switch m.Name {
					case NameTiles:
						if attrValue(dp.Attributes, "status") == "ok" {
							snap.TilesOK += dp.Value
						} else {
							snap.TilesFailed += dp.Value
						}
						snap.MemberTiles[attrValue(dp.Attributes, "member")] += dp.Value
					case NameFrames:
						snap.Frames += dp.Value
					}
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					switch m.Name {
					case NameInferenceDuration:
						snap.InferenceSeconds += dp.Sum
						if maxVal, ok := dp.Max.Value(); ok && maxVal > snap.MaxTileSeconds {
							snap.MaxTileSeconds = maxVal
						}
					case NameStageDuration:
						snap.StageSeconds[attrValue(dp.Attributes, "stage")] += dp.Sum
					}
				}
			}
		}
	}
	return snap, nil
}

// Shutdown releases the provider.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.provider.Shutdown(ctx)
}

func attrValue(set attribute.Set, key string) string {
	if v, ok := set.Value(attribute.Key(key)); ok {
		return v.Emit()
	}
	return ""
}
