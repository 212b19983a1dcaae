package tensor

import (
	"errors"
	"fmt"
)

// Matrix is a dense row-major float32 matrix. Spectrograms use rows for
// frequency bins and columns for time frames; probability sequences use rows
// for classes and columns for frames.
type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

// New allocates a zeroed rows x cols matrix.
func New(rows, cols int) Matrix {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("tensor: negative shape %dx%d", rows, cols))
	}
	return Matrix{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// FromRows builds a matrix from equally sized rows.
func FromRows(rows [][]float32) (Matrix, error) {
	if len(rows) == 0 {
		return Matrix{}, nil
	}
	cols := len(rows[0])
	m := New(len(rows), cols)
	for r, row := range rows {
		if len(row) != cols {
			return Matrix{}, fmt.Errorf("row %d has %d columns, want %d", r, len(row), cols)
		}
		copy(m.Data[r*cols:(r+1)*cols], row)
	}
	return m, nil
}

// Wrap validates data against the shape and returns a matrix that shares it.
func Wrap(rows, cols int, data []float32) (Matrix, error) {
	if rows < 0 || cols < 0 {
		return Matrix{}, fmt.Errorf("negative shape %dx%d", rows, cols)
	}
	if len(data) != rows*cols {
		return Matrix{}, fmt.Errorf("data length %d does not match shape %dx%d", len(data), rows, cols)
	}
	return Matrix{Rows: rows, Cols: cols, Data: data}, nil
}

// At returns the element at (r, c).
func (m Matrix) At(r, c int) float32 {
	return m.Data[r*m.Cols+c]
}

// Set stores v at (r, c).
func (m Matrix) Set(r, c int, v float32) {
	m.Data[r*m.Cols+c] = v
}

// Row returns a view of row r.
func (m Matrix) Row(r int) []float32 {
	return m.Data[r*m.Cols : (r+1)*m.Cols]
}

// Empty reports whether the matrix holds no elements.
func (m Matrix) Empty() bool {
	return m.Rows == 0 || m.Cols == 0
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	out := Matrix{Rows: m.Rows, Cols: m.Cols, Data: make([]float32, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// SliceCols copies columns [start, end) into a new matrix.
func (m Matrix) SliceCols(start, end int) (Matrix, error) {
	if start < 0 || end > m.Cols || start > end {
		return Matrix{}, fmt.Errorf("column range [%d,%d) outside [0,%d)", start, end, m.Cols)
	}
	width := end - start
	out := New(m.Rows, width)
	for r := 0; r < m.Rows; r++ {
		copy(out.Data[r*width:(r+1)*width], m.Data[r*m.Cols+start:r*m.Cols+end])
	}
	return out, nil
}

// ConcatCols joins matrices along the column axis. Every part must have the
// same number of rows.
func ConcatCols(parts ...Matrix) (Matrix, error) {
	if len(parts) == 0 {
		return Matrix{}, errors.New("no matrices to concatenate")
	}
	rows := parts[0].Rows
	total := 0
	for i, p := range parts {
		if p.Rows != rows {
			return Matrix{}, fmt.Errorf("part %d has %d rows, want %d", i, p.Rows, rows)
		}
		total += p.Cols
	}
	out := New(rows, total)
	offset := 0
	for _, p := range parts {
		for r := 0; r < rows; r++ {
			copy(out.Data[r*total+offset:r*total+offset+p.Cols], p.Data[r*p.Cols:(r+1)*p.Cols])
		}
		offset += p.Cols
	}
	return out, nil
}

// ArgmaxCols returns, for every column, the row holding the largest value.
// Ties resolve to the lowest row index.
func (m Matrix) ArgmaxCols() []int {
	out := make([]int, m.Cols)
	if m.Rows == 0 {
		return out
	}
	for c := 0; c < m.Cols; c++ {
		best := m.Data[c]
		idx := 0
		for r := 1; r < m.Rows; r++ {
			if v := m.Data[r*m.Cols+c]; v > best {
				best = v
				idx = r
			}
		}
		out[c] = idx
	}
	return out
}

// Column copies column c into dst, allocating when dst is too small.
func (m Matrix) Column(c int, dst []float32) []float32 {
	if cap(dst) < m.Rows {
		dst = make([]float32, m.Rows)
	}
	dst = dst[:m.Rows]
	for r := 0; r < m.Rows; r++ {
		dst[r] = m.Data[r*m.Cols+c]
	}
	return dst
}
