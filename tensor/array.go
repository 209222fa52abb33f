// Package tensor holds decoded n-dimensional numeric values and their JSON form.
package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnsupportedDType is returned for element types that have no numeric form.
	ErrUnsupportedDType = errors.New("unsupported dtype")
	// ErrShapeMismatch is returned when a payload does not match its declared shape.
	ErrShapeMismatch = errors.New("payload does not match shape")
	// ErrMalformed is returned for undecodable serialized tensors.
	ErrMalformed = errors.New("malformed tensor")
)

// Array is a dense row-major n-dimensional value. Exactly one of the value
// slices is populated, chosen by DType: floats in Float, signed and narrow
// unsigned integers in Int, uint64 in Uint, booleans in Bool.
type Array struct {
	DType DType
	Shape []int
	Float []float64
	Int   []int64
	Uint  []uint64
	Bool  []bool
}

// MaxElements bounds the element count of any array this package builds.
const MaxElements = 1 << 26

// NumElements is the product of the shape; 1 for a scalar. Negative
// dimensions and products above MaxElements are rejected with
// ErrShapeMismatch.
func NumElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension %d", ErrShapeMismatch, d)
		}
		if d != 0 && n > MaxElements/d {
			return 0, fmt.Errorf("%w: shape %v exceeds %d elements", ErrShapeMismatch, shape, MaxElements)
		}
		n *= d
	}
	return n, nil
}

// Len returns the number of stored elements.
func (a *Array) Len() int {
	switch {
	case a.DType.IsFloat():
		return len(a.Float)
	case a.DType == Bool:
		return len(a.Bool)
	case a.DType == Uint64:
		return len(a.Uint)
	default:
		return len(a.Int)
	}
}

// Validate checks that the stored element count matches the shape.
func (a *Array) Validate() error {
	want, err := NumElements(a.Shape)
	if err != nil {
		return err
	}
	if got := a.Len(); want != got {
		return fmt.Errorf("%w: shape %v wants %d elements, have %d", ErrShapeMismatch, a.Shape, want, got)
	}
	return nil
}

// Scalar builds a rank-0 float32 array.
func Scalar(v float32) *Array {
	return &Array{DType: Float32, Shape: []int{}, Float: []float64{float64(v)}}
}

func newArray(dtype DType, shape []int, n int) *Array {
	a := &Array{DType: dtype, Shape: append([]int{}, shape...)}
	switch {
	case dtype.IsFloat():
		a.Float = make([]float64, n)
	case dtype == Bool:
		a.Bool = make([]bool, n)
	case dtype == Uint64:
		a.Uint = make([]uint64, n)
	default:
		a.Int = make([]int64, n)
	}
	return a
}

// FromRaw decodes little-endian packed elements of dtype laid out in shape.
func FromRaw(dtype DType, shape []int, raw []byte) (*Array, error) {
	size := dtype.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDType, dtype)
	}
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if len(raw) != n*size {
		return nil, fmt.Errorf("%w: %v %v needs %d bytes, have %d", ErrShapeMismatch, dtype, shape, n*size, len(raw))
	}

	a := newArray(dtype, shape, n)
	le := binary.LittleEndian
	for i := 0; i < n; i++ {
		b := raw[i*size : (i+1)*size]
		switch dtype {
		case Float16:
			a.Float[i] = float64(Float16ToFloat32(le.Uint16(b)))
		case BFloat16:
			a.Float[i] = float64(BFloat16ToFloat32(le.Uint16(b)))
		case Float32:
			a.Float[i] = float64(math.Float32frombits(le.Uint32(b)))
		case Float64:
			a.Float[i] = math.Float64frombits(le.Uint64(b))
		case Int8:
			a.Int[i] = int64(int8(b[0]))
		case Int16:
			a.Int[i] = int64(int16(le.Uint16(b)))
		case Int32:
			a.Int[i] = int64(int32(le.Uint32(b)))
		case Int64:
			a.Int[i] = int64(le.Uint64(b))
		case Uint8:
			a.Int[i] = int64(b[0])
		case Uint16:
			a.Int[i] = int64(le.Uint16(b))
		case Uint32:
			a.Int[i] = int64(le.Uint32(b))
		case Uint64:
			a.Uint[i] = le.Uint64(b)
		case Bool:
			a.Bool[i] = b[0] != 0
		}
	}
	return a, nil
}

// Raw encodes the array back to little-endian packed bytes.
func (a *Array) Raw() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	size := a.DType.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDType, a.DType)
	}
	n := a.Len()
	out := make([]byte, n*size)
	le := binary.LittleEndian
	for i := 0; i < n; i++ {
		b := out[i*size : (i+1)*size]
		switch a.DType {
		case Float16:
			le.PutUint16(b, Float32ToFloat16(float32(a.Float[i])))
		case BFloat16:
			le.PutUint16(b, uint16(math.Float32bits(float32(a.Float[i]))>>16))
		case Float32:
			le.PutUint32(b, math.Float32bits(float32(a.Float[i])))
		case Float64:
			le.PutUint64(b, math.Float64bits(a.Float[i]))
		case Int8, Uint8:
			b[0] = byte(a.Int[i])
		case Int16, Uint16:
			le.PutUint16(b, uint16(a.Int[i]))
		case Int32, Uint32:
			le.PutUint32(b, uint32(a.Int[i]))
		case Int64:
			le.PutUint64(b, uint64(a.Int[i]))
		case Uint64:
			le.PutUint64(b, a.Uint[i])
		case Bool:
			if a.Bool[i] {
				b[0] = 1
			}
		}
	}
	return out, nil
}

// Nested returns the value as nested []any following the shape, with leaves
// of type float64, int64, uint64 or bool. A rank-0 array yields the bare leaf.
func (a *Array) Nested() (any, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if len(a.Shape) == 0 {
		return a.leaf(0), nil
	}
	v, _ := a.nest(0, 0)
	return v, nil
}

func (a *Array) leaf(i int) any {
	switch {
	case a.DType.IsFloat():
		return a.Float[i]
	case a.DType == Bool:
		return a.Bool[i]
	case a.DType == Uint64:
		return a.Uint[i]
	default:
		return a.Int[i]
	}
}

func (a *Array) nest(dim, offset int) (any, int) {
	out := make([]any, a.Shape[dim])
	for i := range out {
		if dim == len(a.Shape)-1 {
			out[i] = a.leaf(offset)
			offset++
			continue
		}
		out[i], offset = a.nest(dim+1, offset)
	}
	return out, offset
}
