package hmm

import (
	"fmt"
	"math"

	"disco/internal/services"
)

// DefaultTolerance bounds how far a probability row may drift from 1.
const DefaultTolerance = 1e-6

// Params holds the static hidden Markov model used for temporal smoothing.
// States and observations are both indexed from zero.
type Params struct {
	Start      []float64   `toml:"start"`
	Transition [][]float64 `toml:"transition"`
	Emission   [][]float64 `toml:"emission"`
}

// States returns the number of hidden states.
func (p Params) States() int {
	return len(p.Start)
}

// Observations returns the number of observable symbols.
func (p Params) Observations() int {
	if len(p.Emission) == 0 {
		return 0
	}
	return len(p.Emission[0])
}

// Validate checks shapes and that every distribution sums to one within tolerance.
func (p Params) Validate(tolerance float64) error {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	states := p.States()
	if states == 0 {
		return invalid("start probabilities are empty")
	}
	if err := checkDistribution("start", p.Start, tolerance); err != nil {
		return err
	}
	if len(p.Transition) != states {
		return invalid(fmt.Sprintf("transition has %d rows, want %d", len(p.Transition), states))
	}
	for i, row := range p.Transition {
		if len(row) != states {
			return invalid(fmt.Sprintf("transition row %d has %d columns, want %d", i, len(row), states))
		}
		if err := checkDistribution(fmt.Sprintf("transition row %d", i), row, tolerance); err != nil {
			return err
		}
	}
	if len(p.Emission) != states {
		return invalid(fmt.Sprintf("emission has %d rows, want %d", len(p.Emission), states))
	}
	observations := p.Observations()
	if observations == 0 {
		return invalid("emission rows are empty")
	}
	for i, row := range p.Emission {
		if len(row) != observations {
			return invalid(fmt.Sprintf("emission row %d has %d columns, want %d", i, len(row), observations))
		}
		if err := checkDistribution(fmt.Sprintf("emission row %d", i), row, tolerance); err != nil {
			return err
		}
	}
	return nil
}

func checkDistribution(name string, values []float64, tolerance float64) error {
	sum := 0.0
	for j, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return invalid(fmt.Sprintf("%s entry %d is not a probability (%v)", name, j, v))
		}
		sum += v
	}
	if math.Abs(sum-1) > tolerance {
		return invalid(fmt.Sprintf("%s sums to %.6f, want 1", name, sum))
	}
	return nil
}

func invalid(message string) error {
	return services.Wrap(services.ErrInvalidConfiguration, "hmm", "validate", message, nil)
}
