package tensor

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func f32le(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func TestFromRaw(t *testing.T) {
	tests := []struct {
		name   string
		dtype  DType
		shape  []int
		raw    []byte
		expect string
	}{
		{"f32 matrix", Float32, []int{2, 2}, f32le(1, 2, 3, 4), `[[1,2],[3,4]]`},
		{"f32 vector", Float32, []int{3}, f32le(0.5, -1.5, 0), `[0.5,-1.5,0]`},
		{"i8 signed", Int8, []int{2}, []byte{0xff, 0x02}, `[-1,2]`},
		{"u8", Uint8, []int{2}, []byte{0xff, 0x02}, `[255,2]`},
		{"bool", Bool, []int{3}, []byte{1, 0, 1}, `[true,false,true]`},
		{"f16 one", Float16, []int{1}, []byte{0x00, 0x3c}, `[1]`},
		{"bf16 one", BFloat16, []int{1}, []byte{0x80, 0x3f}, `[1]`},
		{"scalar", Float32, []int{}, f32le(2.5), `2.5`},
		{"empty dim", Float32, []int{2, 0}, nil, `[[],[]]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := FromRaw(tt.dtype, tt.shape, tt.raw)
			require.NoError(t, err)
			b, err := json.Marshal(a)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expect, string(b))
		})
	}
}

func TestFromRaw_SizeMismatch(t *testing.T) {
	_, err := FromRaw(Float32, []int{3}, f32le(1, 2))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRawRoundTrip(t *testing.T) {
	a := &Array{DType: Int16, Shape: []int{3}, Int: []int64{-2, 0, 300}}
	raw, err := a.Raw()
	require.NoError(t, err)

	back, err := FromRaw(Int16, []int{3}, raw)
	require.NoError(t, err)
	assert.Equal(t, a.Int, back.Int)
}

func TestHalfConversions(t *testing.T) {
	assert.Equal(t, float32(1), Float16ToFloat32(0x3c00))
	assert.Equal(t, float32(-2), Float16ToFloat32(0xc000))
	assert.Equal(t, float32(65504), Float16ToFloat32(0x7bff))
	assert.InDelta(t, 5.960464477539063e-08, float64(Float16ToFloat32(0x0001)), 1e-15)
	assert.True(t, math.IsInf(float64(Float16ToFloat32(0x7c00)), 1))
	assert.True(t, math.IsNaN(float64(Float16ToFloat32(0x7e00))))

	for _, v := range []float32{0, 1, -2, 0.5, 65504, 0.333251953125} {
		assert.Equal(t, v, Float16ToFloat32(Float32ToFloat16(v)), "value %v", v)
	}
	assert.Equal(t, float32(1.5), BFloat16ToFloat32(0x3fc0))
}

func TestMarshalJSON_NonFinite(t *testing.T) {
	a := &Array{DType: Float64, Shape: []int{4}, Float: []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e-7}}
	b, err := a.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `["NaN","Infinity","-Infinity",1e-7]`, string(b))
}

func TestSteps_MarshalJSONOrdered(t *testing.T) {
	s := Steps{
		10: Scalar(3),
		2:  Scalar(1),
		-1: Scalar(0),
	}
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"-1":0,"2":1,"10":3}`, string(b))

	b, err = json.Marshal(Steps{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(b))
}

func TestNested(t *testing.T) {
	a := &Array{DType: Int32, Shape: []int{2, 3}, Int: []int64{1, 2, 3, 4, 5, 6}}
	v, err := a.Nested()
	require.NoError(t, err)
	assert.Equal(t, []any{
		[]any{int64(1), int64(2), int64(3)},
		[]any{int64(4), int64(5), int64(6)},
	}, v)

	_, err = (&Array{DType: Int32, Shape: []int{2}, Int: []int64{1}}).Nested()
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestDecodeProto_TensorContent(t *testing.T) {
	a := &Array{DType: Float32, Shape: []int{2, 2}, Float: []float64{1, 2, 3, 4}}
	b, err := a.MarshalProto()
	require.NoError(t, err)

	got, err := DecodeProto(b)
	require.NoError(t, err)
	assert.Equal(t, Float32, got.DType)
	assert.Equal(t, []int{2, 2}, got.Shape)
	assert.Equal(t, []float64{1, 2, 3, 4}, got.Float)
}

func TestDecodeProto_ScalarFloatVal(t *testing.T) {
	got, err := DecodeProto(ScalarProto(0.25))
	require.NoError(t, err)
	assert.Empty(t, got.Shape)
	assert.Equal(t, []float64{0.25}, got.Float)

	js, err := got.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `0.25`, string(js))
}

// shapeMsg builds a TensorShapeProto for dims.
func shapeMsg(dims ...int) []byte {
	var shape []byte
	for _, d := range dims {
		var dim []byte
		dim = protowire.AppendTag(dim, dimFieldSize, protowire.VarintType)
		dim = protowire.AppendVarint(dim, uint64(d))
		shape = protowire.AppendTag(shape, shapeFieldDim, protowire.BytesType)
		shape = protowire.AppendBytes(shape, dim)
	}
	return shape
}

func TestDecodeProto_PadsWithLastValue(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldDType, protowire.VarintType)
	b = protowire.AppendVarint(b, dtInt32)
	b = protowire.AppendTag(b, fieldShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shapeMsg(4))
	// packed int_val: 7, 9
	var packed []byte
	packed = protowire.AppendVarint(packed, 7)
	packed = protowire.AppendVarint(packed, 9)
	b = protowire.AppendTag(b, fieldIntVal, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)

	got, err := DecodeProto(b)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 9, 9, 9}, got.Int)
}

func TestDecodeProto_UnpackedDoubleAndZeroFill(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldDType, protowire.VarintType)
	b = protowire.AppendVarint(b, dtDouble)
	b = protowire.AppendTag(b, fieldShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shapeMsg(2))
	b = protowire.AppendTag(b, fieldDoubleVal, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(1.25))
	b = protowire.AppendTag(b, fieldDoubleVal, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(2.5))

	got, err := DecodeProto(b)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.25, 2.5}, got.Float)

	var z []byte
	z = protowire.AppendTag(z, fieldDType, protowire.VarintType)
	z = protowire.AppendVarint(z, dtFloat)
	z = protowire.AppendTag(z, fieldShape, protowire.BytesType)
	z = protowire.AppendBytes(z, shapeMsg(3))
	got, err = DecodeProto(z)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, got.Float)
}

func TestDecodeProto_HalfVal(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldDType, protowire.VarintType)
	b = protowire.AppendVarint(b, dtHalf)
	b = protowire.AppendTag(b, fieldShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shapeMsg(1))
	b = protowire.AppendTag(b, fieldHalfVal, protowire.VarintType)
	b = protowire.AppendVarint(b, 0x3c00)

	got, err := DecodeProto(b)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, got.Float)
}

func TestDecodeProto_Errors(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		_, err := DecodeProto([]byte{0x08})
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("string tensor", func(t *testing.T) {
		var b []byte
		b = protowire.AppendTag(b, fieldDType, protowire.VarintType)
		b = protowire.AppendVarint(b, dtString)
		_, err := DecodeProto(b)
		assert.ErrorIs(t, err, ErrUnsupportedDType)
	})

	t.Run("too many values", func(t *testing.T) {
		var b []byte
		b = protowire.AppendTag(b, fieldDType, protowire.VarintType)
		b = protowire.AppendVarint(b, dtInt64)
		b = protowire.AppendTag(b, fieldShape, protowire.BytesType)
		b = protowire.AppendBytes(b, shapeMsg(1))
		var packed []byte
		packed = protowire.AppendVarint(packed, 1)
		packed = protowire.AppendVarint(packed, 2)
		b = protowire.AppendTag(b, fieldInt64Val, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
		_, err := DecodeProto(b)
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("content size mismatch", func(t *testing.T) {
		var b []byte
		b = protowire.AppendTag(b, fieldDType, protowire.VarintType)
		b = protowire.AppendVarint(b, dtFloat)
		b = protowire.AppendTag(b, fieldShape, protowire.BytesType)
		b = protowire.AppendBytes(b, shapeMsg(2))
		b = protowire.AppendTag(b, fieldTensorContent, protowire.BytesType)
		b = protowire.AppendBytes(b, f32le(1))
		_, err := DecodeProto(b)
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})
}

func TestParseDType(t *testing.T) {
	d, err := ParseDType("bf16")
	require.NoError(t, err)
	assert.Equal(t, BFloat16, d)
	assert.Equal(t, "BF16", d.Tag())

	_, err = ParseDType("C64")
	assert.ErrorIs(t, err, ErrUnsupportedDType)
}

func TestNumElements(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int
		want    int
		wantErr bool
	}{
		{"scalar", []int{}, 1, false},
		{"matrix", []int{2, 3}, 6, false},
		{"empty dim", []int{0, 5}, 0, false},
		{"at cap", []int{MaxElements}, MaxElements, false},
		{"above cap", []int{MaxElements + 1}, 0, true},
		{"wraps to zero", []int{1 << 62, 4}, 0, true},
		{"huge", []int{1 << 34}, 0, true},
		{"negative", []int{-1, 2}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NumElements(tt.shape)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrShapeMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromRaw_BadShape(t *testing.T) {
	for _, shape := range [][]int{{1 << 62, 4}, {1 << 34}, {-1, 2}, {2, -1}} {
		_, err := FromRaw(Float32, shape, nil)
		assert.ErrorIs(t, err, ErrShapeMismatch, "shape %v", shape)
	}
}

func TestDecodeProto_BadShape(t *testing.T) {
	shapes := map[string][]int{
		"wraps to zero": {1 << 62, 4},
		"huge":          {1 << 34},
		"negative":      {-1, 2},
	}

	for name, shape := range shapes {
		t.Run(name+"/typed values", func(t *testing.T) {
			var b []byte
			b = protowire.AppendTag(b, fieldDType, protowire.VarintType)
			b = protowire.AppendVarint(b, dtFloat)
			b = protowire.AppendTag(b, fieldShape, protowire.BytesType)
			b = protowire.AppendBytes(b, shapeMsg(shape...))

			_, err := DecodeProto(b)
			assert.ErrorIs(t, err, ErrShapeMismatch)
		})

		t.Run(name+"/tensor content", func(t *testing.T) {
			var b []byte
			b = protowire.AppendTag(b, fieldDType, protowire.VarintType)
			b = protowire.AppendVarint(b, dtFloat)
			b = protowire.AppendTag(b, fieldShape, protowire.BytesType)
			b = protowire.AppendBytes(b, shapeMsg(shape...))
			b = protowire.AppendTag(b, fieldTensorContent, protowire.BytesType)
			b = protowire.AppendBytes(b, f32le(1))

			_, err := DecodeProto(b)
			assert.ErrorIs(t, err, ErrShapeMismatch)
		})
	}
}

func TestMarshalJSON_OverflowShape(t *testing.T) {
	a := &Array{DType: Float32, Shape: []int{1 << 62, 4}}

	assert.NotPanics(t, func() {
		_, err := json.Marshal(a)
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})
	_, err := a.Nested()
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
