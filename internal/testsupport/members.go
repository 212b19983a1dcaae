package testsupport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"disco/internal/ensemble"
	"disco/internal/tensor"
)

// FakeMember is a deterministic ensemble member. For every frame it puts
// Peak probability on class (frame column sum + Offset) mod Classes and
// spreads the rest evenly. Calls is incremented once per Predict.
type FakeMember struct {
	Name    string
	Classes int
	Offset  int
	Peak    float32
	// FailOnTile makes Predict fail when the tile's first value equals it.
	FailOnTile *float32
	// ShortBy trims that many frames off every output.
	ShortBy int

	Calls atomic.Int64
}

// ErrFakeFailure is returned by FakeMember when FailOnTile matches.
var ErrFakeFailure = errors.New("fake member failure")

// NewFakeMembers builds n members with distinct offsets.
func NewFakeMembers(n, classes int) []*FakeMember {
	members := make([]*FakeMember, n)
	for i := range members {
		members[i] = &FakeMember{Name: fmt.Sprintf("fake-%d", i), Classes: classes, Offset: i, Peak: 0.7}
	}
	return members
}

func (m *FakeMember) ID() string { return m.Name }

func (m *FakeMember) Predict(ctx context.Context, tile tensor.Matrix) (tensor.Matrix, error) {
	m.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return tensor.Matrix{}, err
	}
	if m.FailOnTile != nil && len(tile.Data) > 0 && tile.Data[0] == *m.FailOnTile {
		return tensor.Matrix{}, ErrFakeFailure
	}
	peak := m.Peak
	if peak <= 0 || peak > 1 {
		peak = 0.7
	}
	rest := float32(0)
	if m.Classes > 1 {
		rest = (1 - peak) / float32(m.Classes-1)
	}
	frames := max(tile.Cols-m.ShortBy, 0)
	out := tensor.New(m.Classes, frames)
	column := make([]float32, tile.Rows)
	for c := 0; c < frames; c++ {
		column = tile.Column(c, column)
		sum := float32(0)
		for _, v := range column {
			sum += v
		}
		winner := (int(sum) + m.Offset) % m.Classes
		if winner < 0 {
			winner += m.Classes
		}
		for r := 0; r < m.Classes; r++ {
			if r == winner {
				out.Set(r, c, peak)
			} else {
				out.Set(r, c, rest)
			}
		}
	}
	return out, nil
}

// Members converts fakes to the ensemble interface.
func Members(fakes []*FakeMember) []ensemble.Member {
	out := make([]ensemble.Member, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

// TotalCalls sums Predict calls across fakes.
func TotalCalls(fakes []*FakeMember) int64 {
	var total int64
	for _, f := range fakes {
		total += f.Calls.Load()
	}
	return total
}
