package runstore

import "time"

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one evaluation recorded in the registry.
type Run struct {
	ID            string
	Status        Status
	Sources       []string
	Classes       []string
	TileSize      int
	EnsembleSize  int
	Backend       string
	ArtifactDir   string
	Frames        int
	LabeledFrames int
	// Agreement is the fraction of labeled frames where the smoothed
	// prediction matches ground truth. Nil when no frame is labeled.
	Agreement    *float64
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Duration returns the wall time of a finished run, or zero while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome carries the results recorded when a run completes.
type Outcome struct {
	Frames        int
	LabeledFrames int
	Agreement     *float64
}
