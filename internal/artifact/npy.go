package artifact

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var npyMagic = []byte("\x93NUMPY")

const npyAlign = 64

// maxNpyElements bounds the element count Decode will allocate for.
const maxNpyElements = 1 << 30

// maxExactInt is the largest int64 magnitude float64 holds exactly.
const maxExactInt = 1 << 53

// Encode writes a in NumPy .npy format version 1.0.
func Encode(w io.Writer, a Array) error {
	if err := a.Validate(); err != nil {
		return err
	}
	header := npyHeader(a)
	preamble := len(npyMagic) + 2 + 2
	total := preamble + len(header) + 1
	if pad := (npyAlign - total%npyAlign) % npyAlign; pad > 0 {
		header += strings.Repeat(" ", pad)
	}
	header += "\n"
	if len(header) > math.MaxUint16 {
		return fmt.Errorf("npy header too long (%d bytes)", len(header))
	}

	bw := bufio.NewWriter(w)
	bw.Write(npyMagic)
	bw.Write([]byte{1, 0})
	binary.Write(bw, binary.LittleEndian, uint16(len(header)))
	bw.WriteString(header)

	buf := make([]byte, a.DType.size())
	for _, v := range a.Values {
		switch a.DType {
		case Float32:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		case Float64:
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		case Int32:
			binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
		case Int64:
			binary.LittleEndian.PutUint64(buf, uint64(int64(v)))
		}
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func npyHeader(a Array) string {
	dims := make([]string, len(a.Shape))
	for i, d := range a.Shape {
		dims[i] = strconv.Itoa(d)
	}
	shape := strings.Join(dims, ", ")
	if len(a.Shape) == 1 {
		shape += ","
	}
	return fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", a.DType, shape)
}

// Decode reads a .npy stream written by Encode or by NumPy for the supported
// dtypes. Fortran-ordered arrays are rejected.
func Decode(r io.Reader) (Array, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(br, magic); err != nil {
		return Array{}, fmt.Errorf("read npy magic: %w", err)
	}
	if !bytes.Equal(magic[:len(npyMagic)], npyMagic) {
		return Array{}, errors.New("not an npy file")
	}
	var headerLen int
	switch major := magic[len(npyMagic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return Array{}, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return Array{}, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen = int(n)
	default:
		return Array{}, fmt.Errorf("unsupported npy version %d", major)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return Array{}, fmt.Errorf("read npy header: %w", err)
	}
	a, err := parseHeader(string(header))
	if err != nil {
		return Array{}, err
	}

	n := a.Len()
	a.Values = make([]float64, n)
	buf := make([]byte, a.DType.size())
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return Array{}, fmt.Errorf("read npy data at element %d: %w", i, err)
		}
		switch a.DType {
		case Float32:
			a.Values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
		case Float64:
			a.Values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf))
		case Int32:
			a.Values[i] = float64(int32(binary.LittleEndian.Uint32(buf)))
		case Int64:
			v := int64(binary.LittleEndian.Uint64(buf))
			if v > maxExactInt || v < -maxExactInt {
				return Array{}, fmt.Errorf("npy int64 element %d (%d) exceeds 2^53", i, v)
			}
			a.Values[i] = float64(v)
		}
	}
	return a, nil
}

func parseHeader(header string) (Array, error) {
	descr, err := headerValue(header, "descr")
	if err != nil {
		return Array{}, err
	}
	descr = strings.Trim(descr, `'"`)
	dtype := DType(descr)
	if dtype.size() == 0 {
		return Array{}, fmt.Errorf("unsupported npy dtype %q", descr)
	}

	order, err := headerValue(header, "fortran_order")
	if err != nil {
		return Array{}, err
	}
	if order != "False" {
		return Array{}, errors.New("fortran-ordered npy arrays are not supported")
	}

	start := strings.Index(header, "(")
	end := strings.Index(header, ")")
	if start < 0 || end < start {
		return Array{}, errors.New("npy header has no shape tuple")
	}
	var shape []int
	count := 1
	for _, part := range strings.Split(header[start+1:end], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return Array{}, fmt.Errorf("npy shape %q: %w", header[start:end+1], err)
		}
		if d < 0 {
			return Array{}, fmt.Errorf("npy shape %q has negative dimension %d", header[start:end+1], d)
		}
		if d > 0 && count > maxNpyElements/d {
			return Array{}, fmt.Errorf("npy shape %q exceeds %d elements", header[start:end+1], maxNpyElements)
		}
		count *= d
		shape = append(shape, d)
	}
	if shape == nil {
		shape = []int{}
	}
	return Array{DType: dtype, Shape: shape}, nil
}

// headerValue extracts the raw value following 'key': up to the next comma
// at the top level of the dict.
func headerValue(header, key string) (string, error) {
	marker := "'" + key + "':"
	idx := strings.Index(header, marker)
	if idx < 0 {
		return "", fmt.Errorf("npy header missing %q", key)
	}
	rest := strings.TrimSpace(header[idx+len(marker):])
	if end := strings.IndexAny(rest, ",}"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), nil
}
