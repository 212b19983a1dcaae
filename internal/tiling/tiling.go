// Package tiling splits long spectrograms into fixed-width tiles so inference
// memory stays bounded regardless of recording length.
//
// Boundary policy: tiles are laid end to end from frame zero and the final
// tile keeps whatever frames remain. Nothing is padded or dropped, so
// reassembling per-tile outputs yields exactly the original frame count.
package tiling

import (
	"fmt"

	"disco/internal/services"
	"disco/internal/tensor"
)

// Tile is the half-open frame range [Start, End) of one inference unit.
type Tile struct {
	Index int
	Start int
	End   int
}

// Frames returns the tile width.
func (t Tile) Frames() int {
	return t.End - t.Start
}

// ValidateSize rejects tile sizes that are odd or not positive.
func ValidateSize(tileSize int) error {
	if tileSize <= 0 {
		return services.Wrap(services.ErrInvalidConfiguration, "tiling", "validate",
			fmt.Sprintf("tile_size must be positive, got %d", tileSize), nil)
	}
	if tileSize%2 != 0 {
		return services.Wrap(services.ErrInvalidConfiguration, "tiling", "validate",
			fmt.Sprintf("tile_size must be even, got %d", tileSize), nil)
	}
	return nil
}

// Plan returns the ordered tiles covering [0, frames).
func Plan(frames, tileSize int) ([]Tile, error) {
	if err := ValidateSize(tileSize); err != nil {
		return nil, err
	}
	if frames < 0 {
		return nil, fmt.Errorf("tiling: negative frame count %d", frames)
	}
	tiles := make([]Tile, 0, (frames+tileSize-1)/tileSize)
	for start := 0; start < frames; start += tileSize {
		tiles = append(tiles, Tile{
			Index: len(tiles),
			Start: start,
			End:   min(start+tileSize, frames),
		})
	}
	return tiles, nil
}

// PlanSegments tiles several recordings laid end to end along time. Each
// recording is tiled from its own first frame, so no tile straddles two
// recordings. Tile indices and frame ranges are global.
func PlanSegments(lengths []int, tileSize int) ([]Tile, error) {
	var tiles []Tile
	offset := 0
	for _, frames := range lengths {
		local, err := Plan(frames, tileSize)
		if err != nil {
			return nil, err
		}
		for _, tile := range local {
			tiles = append(tiles, Tile{
				Index: len(tiles),
				Start: offset + tile.Start,
				End:   offset + tile.End,
			})
		}
		offset += frames
	}
	return tiles, nil
}

// SplitSegments is Split over several recordings sharing a bin count.
func SplitSegments(spectrograms []tensor.Matrix, tileSize int) ([]Tile, []tensor.Matrix, error) {
	var (
		tiles []Tile
		parts []tensor.Matrix
	)
	offset := 0
	for _, spect := range spectrograms {
		local, localParts, err := Split(spect, tileSize)
		if err != nil {
			return nil, nil, err
		}
		for i, tile := range local {
			tiles = append(tiles, Tile{
				Index: len(tiles),
				Start: offset + tile.Start,
				End:   offset + tile.End,
			})
			parts = append(parts, localParts[i])
		}
		offset += spect.Cols
	}
	return tiles, parts, nil
}

// Split copies each planned tile out of the spectrogram.
func Split(spectrogram tensor.Matrix, tileSize int) ([]Tile, []tensor.Matrix, error) {
	tiles, err := Plan(spectrogram.Cols, tileSize)
	if err != nil {
		return nil, nil, err
	}
	parts := make([]tensor.Matrix, len(tiles))
	for i, tile := range tiles {
		part, err := spectrogram.SliceCols(tile.Start, tile.End)
		if err != nil {
			return nil, nil, fmt.Errorf("tiling: slice tile %d: %w", tile.Index, err)
		}
		parts[i] = part
	}
	return tiles, parts, nil
}

// Reassemble concatenates per-tile outputs in tile order and checks that the
// result spans exactly the frames the plan covered.
func Reassemble(tiles []Tile, outputs []tensor.Matrix) (tensor.Matrix, error) {
	if len(tiles) != len(outputs) {
		return tensor.Matrix{}, fmt.Errorf("tiling: %d outputs for %d tiles", len(outputs), len(tiles))
	}
	if len(tiles) == 0 {
		return tensor.Matrix{}, nil
	}
	expected := 0
	for i, tile := range tiles {
		if tile.Index != i || (i > 0 && tile.Start != tiles[i-1].End) {
			return tensor.Matrix{}, fmt.Errorf("tiling: tile %d out of order", tile.Index)
		}
		if outputs[i].Cols != tile.Frames() {
			return tensor.Matrix{}, fmt.Errorf("tiling: tile %d output has %d frames, want %d",
				tile.Index, outputs[i].Cols, tile.Frames())
		}
		expected += tile.Frames()
	}
	out, err := tensor.ConcatCols(outputs...)
	if err != nil {
		return tensor.Matrix{}, fmt.Errorf("tiling: reassemble: %w", err)
	}
	if out.Cols != expected {
		return tensor.Matrix{}, fmt.Errorf("tiling: reassembled %d frames, want %d", out.Cols, expected)
	}
	return out, nil
}
