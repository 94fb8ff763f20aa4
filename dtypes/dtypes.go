// Package dtypes defines the scalar data types that can be bound as kernel arguments, and their mapping to the
// OpenCL C type names used in kernel signatures.
package dtypes

//go:generate go tool enumer -type=DType

import (
	"encoding/binary"
	"math"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is the data type of a scalar kernel argument.
type DType int

const (
	// Invalid represents an invalid (or not set) dtype.
	Invalid DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	Float32
	Float64
)

// Supported lists the Go types that map to a DType.
type Supported interface {
	bool | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float16.Float16 | float32 | float64
}

// Size returns the number of bytes of the dtype, 0 for Invalid.
func (dtype DType) Size() int {
	switch dtype {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16, Float16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// IsFloat returns whether dtype is a floating point type.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// CLTypeName returns the OpenCL C name of the scalar type.
func (dtype DType) CLTypeName() string {
	return clTypeNames[dtype]
}

var clTypeNames = map[DType]string{
	Bool:    "bool",
	Int8:    "char",
	Int16:   "short",
	Int32:   "int",
	Int64:   "long",
	Uint8:   "uchar",
	Uint16:  "ushort",
	Uint32:  "uint",
	Uint64:  "ulong",
	Float16: "half",
	Float32: "float",
	Float64: "double",
}

// MapOfNames maps the dtype names, lower-case names and OpenCL C names to the DType.
var MapOfNames = make(map[string]DType)

// clNames maps only OpenCL C names: in OpenCL C "float16" is a vector of 16 floats, not a half.
var clNames = map[string]DType{
	"unsigned char":  Uint8,
	"unsigned short": Uint16,
	"unsigned int":   Uint32,
	"unsigned long":  Uint64,
	"size_t":         Uint64,
}

func init() {
	for _, dtype := range DTypeValues() {
		if dtype == Invalid {
			continue
		}
		MapOfNames[dtype.String()] = dtype
		MapOfNames[strings.ToLower(dtype.String())] = dtype
		clNames[dtype.CLTypeName()] = dtype
	}
	for name, dtype := range clNames {
		MapOfNames[name] = dtype
	}
}

// FromCLTypeName returns the DType for an OpenCL C scalar type name, or Invalid.
func FromCLTypeName(name string) DType {
	return clNames[strings.Join(strings.Fields(name), " ")]
}

var goTypes = map[reflect.Kind]DType{
	reflect.Bool:    Bool,
	reflect.Int8:    Int8,
	reflect.Int16:   Int16,
	reflect.Int32:   Int32,
	reflect.Int64:   Int64,
	reflect.Uint8:   Uint8,
	reflect.Uint32:  Uint32,
	reflect.Uint64:  Uint64,
	reflect.Float32: Float32,
	reflect.Float64: Float64,
}

var float16Type = reflect.TypeOf(float16.Float16(0))

// FromGoType returns the DType for the given Go type, or Invalid.
// Plain int and uint are not supported: their size is platform dependent.
func FromGoType(t reflect.Type) DType {
	if t == float16Type {
		return Float16
	}
	if t.Kind() == reflect.Uint16 {
		return Uint16
	}
	return goTypes[t.Kind()]
}

// FromAny returns the DType of the value, or Invalid if not a supported scalar.
func FromAny(value any) DType {
	if value == nil {
		return Invalid
	}
	return FromGoType(reflect.TypeOf(value))
}

// FromGenericsType returns the DType for the generic type T.
func FromGenericsType[T Supported]() DType {
	var t T
	return FromAny(t)
}

// Encode returns the little-endian bytes of a scalar value.
func Encode(value any) ([]byte, DType, error) {
	dtype := FromAny(value)
	if dtype == Invalid {
		return nil, Invalid, errors.Errorf("value of type %T is not a supported scalar", value)
	}
	buf := make([]byte, dtype.Size())
	v := reflect.ValueOf(value)
	switch dtype {
	case Bool:
		if v.Bool() {
			buf[0] = 1
		}
	case Int8, Int16, Int32, Int64:
		putUint(buf, uint64(v.Int()))
	case Uint8, Uint16, Uint32, Uint64:
		putUint(buf, v.Uint())
	case Float16:
		binary.LittleEndian.PutUint16(buf, value.(float16.Float16).Bits())
	case Float32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v.Float())))
	case Float64:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.Float()))
	}
	return buf, dtype, nil
}

func putUint(buf []byte, u uint64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(u)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(u))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(u))
	case 8:
		binary.LittleEndian.PutUint64(buf, u)
	}
}

// Decode converts little-endian bytes back to a Go scalar of the given dtype.
func Decode(dtype DType, data []byte) (any, error) {
	if len(data) != dtype.Size() || dtype == Invalid {
		return nil, errors.Errorf("cannot decode %d bytes as %s", len(data), dtype)
	}
	switch dtype {
	case Bool:
		return data[0] != 0, nil
	case Int8:
		return int8(data[0]), nil
	case Uint8:
		return data[0], nil
	case Int16:
		return int16(binary.LittleEndian.Uint16(data)), nil
	case Uint16:
		return binary.LittleEndian.Uint16(data), nil
	case Float16:
		return float16.Frombits(binary.LittleEndian.Uint16(data)), nil
	case Int32:
		return int32(binary.LittleEndian.Uint32(data)), nil
	case Uint32:
		return binary.LittleEndian.Uint32(data), nil
	case Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
	case Int64:
		return int64(binary.LittleEndian.Uint64(data)), nil
	case Uint64:
		return binary.LittleEndian.Uint64(data), nil
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	}
}
