package tensor

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// TensorProto field numbers.
const (
	fieldDType         = 1
	fieldShape         = 2
	fieldTensorContent = 4
	fieldFloatVal      = 5
	fieldDoubleVal     = 6
	fieldIntVal        = 7
	fieldStringVal     = 8
	fieldInt64Val      = 10
	fieldBoolVal       = 11
	fieldHalfVal       = 13
	fieldUint32Val     = 16
	fieldUint64Val     = 17

	shapeFieldDim         = 2
	shapeFieldUnknownRank = 3
	dimFieldSize          = 1
)

// protoTensor is the subset of TensorProto needed to rebuild values.
type protoTensor struct {
	dtype   int32
	shape   []int
	content []byte
	floats  []float64
	ints    []int64
	uints   []uint64
	bools   []bool
	halves  []uint16
	strings int
}

// DecodeProto parses a serialized TensorProto and materialises its values.
// Raw tensor_content wins when present; otherwise the typed value list is used
// and padded by repeating its last element up to the shape's element count.
func DecodeProto(b []byte) (*Array, error) {
	pt, err := parseProto(b)
	if err != nil {
		return nil, err
	}
	dtype, err := fromProtoDType(pt.dtype)
	if err != nil {
		return nil, err
	}
	if pt.strings > 0 {
		return nil, fmt.Errorf("%w: string values", ErrUnsupportedDType)
	}

	if len(pt.content) > 0 {
		return FromRaw(dtype, pt.shape, pt.content)
	}

	// half_val carries raw 16-bit patterns for both HALF and BFLOAT16.
	for _, bits := range pt.halves {
		if dtype == BFloat16 {
			pt.floats = append(pt.floats, float64(BFloat16ToFloat32(bits)))
		} else {
			pt.floats = append(pt.floats, float64(Float16ToFloat32(bits)))
		}
	}

	n, err := NumElements(pt.shape)
	if err != nil {
		return nil, err
	}
	a := newArray(dtype, pt.shape, n)
	switch {
	case dtype.IsFloat():
		err = fill(a.Float, pt.floats, "float")
	case dtype == Bool:
		err = fill(a.Bool, pt.bools, "bool")
	case dtype == Uint64:
		err = fill(a.Uint, pt.uints, "uint64")
	default:
		err = fill(a.Int, pt.ints, "int")
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// fill copies vals into dst, repeating the final value if vals is short.
func fill[T any](dst, vals []T, kind string) error {
	if len(vals) > len(dst) {
		return fmt.Errorf("%w: %d %s values for %d elements", ErrShapeMismatch, len(vals), kind, len(dst))
	}
	if len(vals) == 0 {
		return nil
	}
	copy(dst, vals)
	last := vals[len(vals)-1]
	for i := len(vals); i < len(dst); i++ {
		dst[i] = last
	}
	return nil
}

func parseProto(b []byte) (*protoTensor, error) {
	pt := &protoTensor{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		var err error
		switch num {
		case fieldDType:
			var v uint64
			v, n = consumeVarint(b, typ)
			pt.dtype = int32(v)
		case fieldShape:
			var msg []byte
			msg, n = consumeBytes(b, typ)
			if n >= 0 {
				pt.shape, err = parseShape(msg)
			}
		case fieldTensorContent:
			var v []byte
			v, n = consumeBytes(b, typ)
			pt.content = v
		case fieldFloatVal:
			n = consumeRepeated(b, typ, protowire.Fixed32Type, func(v uint64) {
				pt.floats = append(pt.floats, float64(math.Float32frombits(uint32(v))))
			})
		case fieldDoubleVal:
			n = consumeRepeated(b, typ, protowire.Fixed64Type, func(v uint64) {
				pt.floats = append(pt.floats, math.Float64frombits(v))
			})
		case fieldHalfVal:
			n = consumeRepeated(b, typ, protowire.VarintType, func(v uint64) {
				pt.halves = append(pt.halves, uint16(v))
			})
		case fieldIntVal:
			n = consumeRepeated(b, typ, protowire.VarintType, func(v uint64) {
				pt.ints = append(pt.ints, int64(int32(v)))
			})
		case fieldInt64Val:
			n = consumeRepeated(b, typ, protowire.VarintType, func(v uint64) {
				pt.ints = append(pt.ints, int64(v))
			})
		case fieldUint32Val:
			n = consumeRepeated(b, typ, protowire.VarintType, func(v uint64) {
				pt.ints = append(pt.ints, int64(uint32(v)))
			})
		case fieldUint64Val:
			n = consumeRepeated(b, typ, protowire.VarintType, func(v uint64) {
				pt.uints = append(pt.uints, v)
			})
		case fieldBoolVal:
			n = consumeRepeated(b, typ, protowire.VarintType, func(v uint64) {
				pt.bools = append(pt.bools, v != 0)
			})
		case fieldStringVal:
			_, n = consumeBytes(b, typ)
			pt.strings++
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return pt, nil
}

func parseShape(b []byte) ([]int, error) {
	shape := []int{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: shape: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == shapeFieldDim && typ == protowire.BytesType:
			var dim []byte
			dim, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				size, err := parseDim(dim)
				if err != nil {
					return nil, err
				}
				shape = append(shape, size)
			}
		case num == shapeFieldUnknownRank:
			var v uint64
			v, n = consumeVarint(b, typ)
			if n >= 0 && v != 0 {
				return nil, fmt.Errorf("%w: unknown rank", ErrShapeMismatch)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: shape: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return shape, nil
}

func parseDim(b []byte) (int, error) {
	size := int64(0)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, fmt.Errorf("%w: dim: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		if num == dimFieldSize {
			var v uint64
			v, n = consumeVarint(b, typ)
			size = int64(v)
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return 0, fmt.Errorf("%w: dim: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
	}
	if size < 0 {
		return 0, fmt.Errorf("%w: dimension %d", ErrShapeMismatch, size)
	}
	return int(size), nil
}

func consumeVarint(b []byte, typ protowire.Type) (uint64, int) {
	if typ != protowire.VarintType {
		return 0, -1
	}
	return protowire.ConsumeVarint(b)
}

func consumeBytes(b []byte, typ protowire.Type) ([]byte, int) {
	if typ != protowire.BytesType {
		return nil, -1
	}
	return protowire.ConsumeBytes(b)
}

// consumeRepeated reads one occurrence of a repeated scalar field, accepting
// both the packed and the unpacked encoding.
func consumeRepeated(b []byte, typ, elem protowire.Type, emit func(uint64)) int {
	if typ == protowire.BytesType {
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			v, m := consumeScalar(packed, elem)
			if m < 0 {
				return m
			}
			emit(v)
			packed = packed[m:]
		}
		return n
	}
	if typ != elem {
		return -1
	}
	v, n := consumeScalar(b, elem)
	if n >= 0 {
		emit(v)
	}
	return n
}

func consumeScalar(b []byte, typ protowire.Type) (uint64, int) {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		return uint64(v), n
	case protowire.Fixed64Type:
		return protowire.ConsumeFixed64(b)
	default:
		return protowire.ConsumeVarint(b)
	}
}

// MarshalProto serializes the array as a TensorProto with packed tensor_content.
func (a *Array) MarshalProto() ([]byte, error) {
	raw, err := a.Raw()
	if err != nil {
		return nil, err
	}
	dt := a.DType.ProtoDType()
	if dt == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDType, a.DType)
	}

	var shape []byte
	for _, d := range a.Shape {
		var dim []byte
		dim = protowire.AppendTag(dim, dimFieldSize, protowire.VarintType)
		dim = protowire.AppendVarint(dim, uint64(d))
		shape = protowire.AppendTag(shape, shapeFieldDim, protowire.BytesType)
		shape = protowire.AppendBytes(shape, dim)
	}

	var out []byte
	out = protowire.AppendTag(out, fieldDType, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(dt))
	out = protowire.AppendTag(out, fieldShape, protowire.BytesType)
	out = protowire.AppendBytes(out, shape)
	if len(raw) > 0 {
		out = protowire.AppendTag(out, fieldTensorContent, protowire.BytesType)
		out = protowire.AppendBytes(out, raw)
	}
	return out, nil
}

// ScalarProto serializes a rank-0 DT_FLOAT tensor holding v in float_val,
// the form TensorBoard migrates legacy simple_value summaries into.
func ScalarProto(v float32) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldDType, protowire.VarintType)
	out = protowire.AppendVarint(out, dtFloat)
	out = protowire.AppendTag(out, fieldShape, protowire.BytesType)
	out = protowire.AppendBytes(out, nil)
	out = protowire.AppendTag(out, fieldFloatVal, protowire.Fixed32Type)
	out = protowire.AppendFixed32(out, math.Float32bits(v))
	return out
}
