// convert.go - Konvertierung zwischen Gleitkomma-Formaten
// Enthaelt: DecodeFloats, EncodeFloats fuer F32, F16 und BF16
package ml

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DecodeFloats dekodiert little-endian Rohdaten des Typs dtype zu float32
func DecodeFloats(dtype DType, b []byte) []float32 {
	switch dtype {
	case DTypeF32:
		f32s := make([]float32, len(b)/4)
		for i := range f32s {
			f32s[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
		}
		return f32s
	case DTypeF16:
		f32s := make([]float32, len(b)/2)
		for i := range f32s {
			f32s[i] = float16.Frombits(binary.LittleEndian.Uint16(b[2*i:])).Float32()
		}
		return f32s
	case DTypeBF16:
		return bfloat16.DecodeFloat32(b)
	default:
		panic(fmt.Sprintf("ml: cannot decode %s as floats", dtype))
	}
}

// EncodeFloats kodiert float32-Werte als little-endian Rohdaten des Typs dtype
func EncodeFloats(dtype DType, s []float32) []byte {
	switch dtype {
	case DTypeF32:
		b := make([]byte, 4*len(s))
		for i, f := range s {
			binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
		}
		return b
	case DTypeF16:
		b := make([]byte, 2*len(s))
		for i, f := range s {
			binary.LittleEndian.PutUint16(b[2*i:], float16.Fromfloat32(f).Bits())
		}
		return b
	case DTypeBF16:
		return bfloat16.EncodeFloat32(s)
	default:
		panic(fmt.Sprintf("ml: cannot encode floats as %s", dtype))
	}
}
