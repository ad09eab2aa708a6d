// types.go - element types for tensor storage
// Defines DType and the element-level load/store conversions.
package ml

import (
	"encoding/binary"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
)

// Size returns the width of one element in bytes.
func (dt DType) Size() int {
	switch dt {
	case DTypeF32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	default:
		return 0
	}
}

func (dt DType) String() string {
	switch dt {
	case DTypeF32:
		return "F32"
	case DTypeF16:
		return "F16"
	case DTypeBF16:
		return "BF16"
	default:
		return "Other"
	}
}

// Float32 decodes the element at the start of b.
func (dt DType) Float32(b []byte) float32 {
	switch dt {
	case DTypeF32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case DTypeF16:
		return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
	case DTypeBF16:
		return bfloat16.ToFloat32(bfloat16.BF16(binary.LittleEndian.Uint16(b)))
	default:
		panic("ml: unsupported dtype")
	}
}

// PutFloat32 encodes v into the element at the start of b.
func (dt DType) PutFloat32(b []byte, v float32) {
	switch dt {
	case DTypeF32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	case DTypeF16:
		binary.LittleEndian.PutUint16(b, float16.Fromfloat32(v).Bits())
	case DTypeBF16:
		binary.LittleEndian.PutUint16(b, uint16(bfloat16.FromFloat32(v)))
	default:
		panic("ml: unsupported dtype")
	}
}
