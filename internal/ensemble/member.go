// Package ensemble runs every ensemble member over every spectrogram tile and
// reassembles per-member probability sequences.
//
// Members are opaque: the runner never branches on which model it is
// driving. Work is scheduled as independent member x tile tasks on a bounded
// pool sized by the selected backend, and the first failure cancels the rest.
package ensemble

import (
	"context"

	"disco/internal/tensor"
)

// Member is one trained model in the ensemble. Predict receives a bins x
// frames tile and returns a classes x frames matrix of per-frame class
// probabilities. Implementations must be safe for concurrent calls.
type Member interface {
	ID() string
	Predict(ctx context.Context, tile tensor.Matrix) (tensor.Matrix, error)
}

// Closer is implemented by members that hold native resources.
type Closer interface {
	Close() error
}

// CloseAll releases every member that implements Closer and returns the
// first error.
func CloseAll(members []Member) error {
	var first error
	for _, m := range members {
		if c, ok := m.(Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
