package tensor

import (
	"bytes"
	"math"
	"sort"
	"strconv"
)

// Non-finite floats have no JSON literal; they are written as these strings,
// matching what TensorBoard frontends already accept.
const (
	jsonNaN    = `"NaN"`
	jsonPosInf = `"Infinity"`
	jsonNegInf = `"-Infinity"`
)

// MarshalJSON writes the array as nested lists following its shape, or as a
// bare value for rank 0.
func (a *Array) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(a.Len() * 8)
	if len(a.Shape) == 0 {
		a.appendLeaf(&buf, 0)
		return buf.Bytes(), nil
	}
	a.appendDim(&buf, 0, 0)
	return buf.Bytes(), nil
}

func (a *Array) appendDim(buf *bytes.Buffer, dim, offset int) int {
	buf.WriteByte('[')
	for i := 0; i < a.Shape[dim]; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if dim == len(a.Shape)-1 {
			a.appendLeaf(buf, offset)
			offset++
			continue
		}
		offset = a.appendDim(buf, dim+1, offset)
	}
	buf.WriteByte(']')
	return offset
}

func (a *Array) appendLeaf(buf *bytes.Buffer, i int) {
	var scratch [32]byte
	switch {
	case a.DType.IsFloat():
		buf.Write(AppendFloat(scratch[:0], a.Float[i]))
	case a.DType == Bool:
		buf.WriteString(strconv.FormatBool(a.Bool[i]))
	case a.DType == Uint64:
		buf.Write(strconv.AppendUint(scratch[:0], a.Uint[i], 10))
	default:
		buf.Write(strconv.AppendInt(scratch[:0], a.Int[i], 10))
	}
}

// AppendFloat appends the JSON form of f, using the same layout as
// encoding/json for finite values and quoted names for NaN and infinities.
func AppendFloat(dst []byte, f float64) []byte {
	switch {
	case math.IsNaN(f):
		return append(dst, jsonNaN...)
	case math.IsInf(f, 1):
		return append(dst, jsonPosInf...)
	case math.IsInf(f, -1):
		return append(dst, jsonNegInf...)
	}
	format := byte('f')
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	dst = strconv.AppendFloat(dst, f, format, -1, 64)
	if format == 'e' {
		// clean up e-09 to e-9
		n := len(dst)
		if n >= 4 && dst[n-4] == 'e' && dst[n-3] == '-' && dst[n-2] == '0' {
			dst[n-2] = dst[n-1]
			dst = dst[:n-1]
		}
	}
	return dst
}

// Steps maps a training step to the value recorded at it. Its JSON form is an
// object keyed by the decimal step, in increasing step order.
type Steps map[int64]*Array

// Sorted returns the steps in increasing order.
func (s Steps) Sorted() []int64 {
	keys := make([]int64, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// MarshalJSON implements json.Marshaler.
func (s Steps) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, step := range s.Sorted() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strconv.FormatInt(step, 10))
		buf.WriteString(`":`)
		b, err := s[step].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
