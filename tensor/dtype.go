package tensor

import (
	"fmt"
	"strings"
)

// DType is the element type of an Array.
type DType int

// Supported element types.
const (
	Invalid DType = iota
	Float16
	BFloat16
	Float32
	Float64
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Bool
)

var dtypeNames = map[DType]string{
	Float16:  "float16",
	BFloat16: "bfloat16",
	Float32:  "float32",
	Float64:  "float64",
	Int8:     "int8",
	Int16:    "int16",
	Int32:    "int32",
	Int64:    "int64",
	Uint8:    "uint8",
	Uint16:   "uint16",
	Uint32:   "uint32",
	Uint64:   "uint64",
	Bool:     "bool",
}

// String returns the numpy-style name of the type.
func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return "invalid"
}

// Size is the width of one element in bytes.
func (d DType) Size() int {
	switch d {
	case Int8, Uint8, Bool:
		return 1
	case Float16, BFloat16, Int16, Uint16:
		return 2
	case Float32, Int32, Uint32:
		return 4
	case Float64, Int64, Uint64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether values are held in Array.Float.
func (d DType) IsFloat() bool {
	return d == Float16 || d == BFloat16 || d == Float32 || d == Float64
}

// safetensors dtype tags.
var safetensorsDTypes = map[string]DType{
	"F16":  Float16,
	"BF16": BFloat16,
	"F32":  Float32,
	"F64":  Float64,
	"I8":   Int8,
	"I16":  Int16,
	"I32":  Int32,
	"I64":  Int64,
	"U8":   Uint8,
	"U16":  Uint16,
	"U32":  Uint32,
	"U64":  Uint64,
	"BOOL": Bool,
}

// ParseDType maps a container dtype tag (e.g. "F32", "BF16") to a DType.
func ParseDType(tag string) (DType, error) {
	if d, ok := safetensorsDTypes[strings.ToUpper(tag)]; ok {
		return d, nil
	}
	return Invalid, fmt.Errorf("%w: %q", ErrUnsupportedDType, tag)
}

// Tag returns the container dtype tag for d.
func (d DType) Tag() string {
	for tag, dt := range safetensorsDTypes {
		if dt == d {
			return tag
		}
	}
	return ""
}

// TensorFlow DataType enum values found in serialized TensorProto messages.
const (
	dtFloat    = 1
	dtDouble   = 2
	dtInt32    = 3
	dtUint8    = 4
	dtInt16    = 5
	dtInt8     = 6
	dtString   = 7
	dtInt64    = 9
	dtBool     = 10
	dtBfloat16 = 14
	dtUint16   = 17
	dtHalf     = 19
	dtUint32   = 22
	dtUint64   = 23
)

func fromProtoDType(v int32) (DType, error) {
	switch v {
	case dtFloat:
		return Float32, nil
	case dtDouble:
		return Float64, nil
	case dtInt32:
		return Int32, nil
	case dtUint8:
		return Uint8, nil
	case dtInt16:
		return Int16, nil
	case dtInt8:
		return Int8, nil
	case dtInt64:
		return Int64, nil
	case dtBool:
		return Bool, nil
	case dtBfloat16:
		return BFloat16, nil
	case dtUint16:
		return Uint16, nil
	case dtHalf:
		return Float16, nil
	case dtUint32:
		return Uint32, nil
	case dtUint64:
		return Uint64, nil
	case dtString:
		return Invalid, fmt.Errorf("%w: string tensors", ErrUnsupportedDType)
	default:
		return Invalid, fmt.Errorf("%w: DataType %d", ErrUnsupportedDType, v)
	}
}

// ProtoDType returns the TensorFlow DataType enum value for d.
func (d DType) ProtoDType() int32 {
	switch d {
	case Float32:
		return dtFloat
	case Float64:
		return dtDouble
	case Int32:
		return dtInt32
	case Uint8:
		return dtUint8
	case Int16:
		return dtInt16
	case Int8:
		return dtInt8
	case Int64:
		return dtInt64
	case Bool:
		return dtBool
	case BFloat16:
		return dtBfloat16
	case Uint16:
		return dtUint16
	case Float16:
		return dtHalf
	case Uint32:
		return dtUint32
	case Uint64:
		return dtUint64
	default:
		return 0
	}
}
