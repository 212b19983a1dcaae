package hmm

import (
	"fmt"
	"math"

	"disco/internal/services"
)

// Decoder runs Viterbi decoding against a fixed parameter set. Log
// probabilities are computed once so a decoder can be reused across runs.
type Decoder struct {
	states       int
	observations int
	logStart     []float64
	logTrans     [][]float64
	logEmit      [][]float64
}

// NewDecoder validates params and precomputes their log-space form.
func NewDecoder(p Params, tolerance float64) (*Decoder, error) {
	if err := p.Validate(tolerance); err != nil {
		return nil, err
	}
	d := &Decoder{
		states:       p.States(),
		observations: p.Observations(),
		logStart:     logVector(p.Start),
		logTrans:     make([][]float64, len(p.Transition)),
		logEmit:      make([][]float64, len(p.Emission)),
	}
	for i, row := range p.Transition {
		d.logTrans[i] = logVector(row)
	}
	for i, row := range p.Emission {
		d.logEmit[i] = logVector(row)
	}
	return d, nil
}

// Decode validates params and returns the most likely state sequence for observations.
func Decode(observations []int, p Params) ([]int, error) {
	d, err := NewDecoder(p, DefaultTolerance)
	if err != nil {
		return nil, err
	}
	return d.Decode(observations)
}

// Decode returns the most likely hidden state for every frame. The result
// always has the same length as observations. When several states score
// equally the lowest index wins, both for backpointers and the final state.
func (d *Decoder) Decode(observations []int) ([]int, error) {
	frames := len(observations)
	if frames == 0 {
		return []int{}, nil
	}
	for t, obs := range observations {
		if obs < 0 || obs >= d.observations {
			return nil, services.Wrap(services.ErrInvalidConfiguration, "hmm", "decode",
				fmt.Sprintf("observation %d at frame %d outside [0,%d)", obs, t, d.observations), nil)
		}
	}

	prev := make([]float64, d.states)
	curr := make([]float64, d.states)
	back := make([][]int32, frames)

	for s := 0; s < d.states; s++ {
		prev[s] = d.logStart[s] + d.logEmit[s][observations[0]]
	}

	for t := 1; t < frames; t++ {
		row := make([]int32, d.states)
		obs := observations[t]
		for s := 0; s < d.states; s++ {
			best := prev[0] + d.logTrans[0][s]
			bestIdx := 0
			for from := 1; from < d.states; from++ {
				if v := prev[from] + d.logTrans[from][s]; v > best {
					best = v
					bestIdx = from
				}
			}
			curr[s] = best + d.logEmit[s][obs]
			row[s] = int32(bestIdx)
		}
		back[t] = row
		prev, curr = curr, prev
	}

	last := 0
	for s := 1; s < d.states; s++ {
		if prev[s] > prev[last] {
			last = s
		}
	}

	path := make([]int, frames)
	path[frames-1] = last
	for t := frames - 1; t > 0; t-- {
		path[t-1] = int(back[t][path[t]])
	}
	return path, nil
}

// States returns the number of hidden states the decoder was built with.
func (d *Decoder) States() int {
	return d.states
}

func logVector(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		// math.Log(0) is -Inf, which keeps impossible paths impossible.
		out[i] = math.Log(v)
	}
	return out
}
