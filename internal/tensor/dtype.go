// Package tensor provides the data types and shapes shared by the reduction engine.
package tensor

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// DataType represents runtime type information for device buffers.
//
// Values are part of serialized kernel keys: never reorder, only append.
type DataType int32

// Supported data types.
const (
	Float32 DataType = iota
	Float64
	Int32
	Int64
	Uint8
	Bool
	Float16
	BFloat16
	Int8
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Float16, BFloat16:
		return 2
	case Uint8, Bool, Int8:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Int8:
		return "int8"
	default:
		return "unknown"
	}
}

// IsFloat reports whether dt is a floating point type.
func (dt DataType) IsFloat() bool {
	switch dt {
	case Float32, Float64, Float16, BFloat16:
		return true
	}
	return false
}

// IsInteger reports whether dt is an integer type.
func (dt DataType) IsInteger() bool {
	switch dt {
	case Int32, Int64, Uint8, Int8:
		return true
	}
	return false
}

// IsValid reports whether dt is one of the declared constants.
func (dt DataType) IsValid() bool {
	return dt >= Float32 && dt <= Int8
}

// MantissaBits returns the number of significand bits (including the implicit one) for float
// types and the number of value bits for integer types. Integers in [-2^n, 2^n] are exact.
func (dt DataType) MantissaBits() int {
	switch dt {
	case Float32:
		return 24
	case Float64:
		return 53
	case Float16:
		return 11
	case BFloat16:
		return 8
	case Int32:
		return 31
	case Int64:
		return 63
	case Int8:
		return 7
	case Uint8:
		return 8
	default:
		return 0
	}
}

// ParseDataType converts names such as "f32", "float16" or "s8" into a DataType.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "float32":
		return Float32, nil
	case "f64", "float64":
		return Float64, nil
	case "s32", "i32", "int32":
		return Int32, nil
	case "s64", "i64", "int64":
		return Int64, nil
	case "u8", "uint8":
		return Uint8, nil
	case "bool":
		return Bool, nil
	case "f16", "float16":
		return Float16, nil
	case "bf16", "bfloat16":
		return BFloat16, nil
	case "s8", "i8", "int8":
		return Int8, nil
	}
	return 0, errors.Errorf("unknown data type %q", s)
}

// Decode reads element i of a little-endian buffer holding values of type dt.
func Decode(dt DataType, buf []byte, i int) float64 {
	switch dt {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	case Float16:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32())
	case BFloat16:
		bits := uint32(binary.LittleEndian.Uint16(buf[2*i:])) << 16
		return float64(math.Float32frombits(bits))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(buf[4*i:])))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(buf[8*i:])))
	case Int8:
		return float64(int8(buf[i]))
	case Uint8:
		return float64(buf[i])
	case Bool:
		if buf[i] != 0 {
			return 1
		}
		return 0
	}
	panic("decode: unknown data type")
}

// Encode writes v as element i of a little-endian buffer of type dt.
// Integer types round to nearest and saturate.
func Encode(dt DataType, buf []byte, i int, v float64) {
	switch dt {
	case Float32:
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	case Float16:
		binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(float32(v)).Bits())
	case BFloat16:
		binary.LittleEndian.PutUint16(buf[2*i:], toBFloat16Bits(float32(v)))
	case Int32:
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(saturate[int32](v)))
	case Int64:
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(saturate[int64](v)))
	case Int8:
		buf[i] = byte(saturate[int8](v))
	case Uint8:
		buf[i] = saturate[uint8](v)
	case Bool:
		if v != 0 {
			buf[i] = 1
		} else {
			buf[i] = 0
		}
	default:
		panic("encode: unknown data type")
	}
}

// EncodeSlice returns a buffer holding values converted to dt.
func EncodeSlice[T constraints.Integer | constraints.Float](dt DataType, values []T) []byte {
	buf := make([]byte, len(values)*dt.Size())
	for i, v := range values {
		Encode(dt, buf, i, float64(v))
	}
	return buf
}

// DecodeSlice converts a buffer of n values of type dt to float64.
func DecodeSlice(dt DataType, buf []byte, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = Decode(dt, buf, i)
	}
	return out
}

// toBFloat16Bits rounds to nearest even.
func toBFloat16Bits(f float32) uint16 {
	bits := math.Float32bits(f)
	if math.IsNaN(float64(f)) {
		return uint16(bits>>16) | 0x40
	}
	rounding := uint32(0x7fff) + (bits>>16)&1
	return uint16((bits + rounding) >> 16)
}

func saturate[T constraints.Integer](v float64) T {
	v = math.RoundToEven(v)
	lo, hi := integerRange[T]()
	if v <= lo {
		return T(lo)
	}
	if v >= hi {
		return T(hi)
	}
	return T(v)
}

func integerRange[T constraints.Integer]() (float64, float64) {
	var zero T
	switch any(zero).(type) {
	case int8:
		return math.MinInt8, math.MaxInt8
	case uint8:
		return 0, math.MaxUint8
	case int32:
		return math.MinInt32, math.MaxInt32
	default:
		// float64 cannot hold MaxInt64 exactly; stay one ulp inside.
		return math.MinInt64, math.Nextafter(math.MaxInt64, 0)
	}
}
