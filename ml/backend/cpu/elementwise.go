// elementwise.go - Elementweise Kernel
// Enthaelt: binary mit Broadcasting, map1 fuer unaere Operationen, cont,
// cast, repeat und repeatBack
package cpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/ollama/train/ml"
)

// binary berechnet dst = fn(src0, src1), src1 wird modulo seiner Form wiederholt
func (b *Backend) binary(dst *ml.Tensor, fn func(x, y float32) float32) {
	src0, src1 := dst.Src[0], dst.Src[1]
	d, s0, s1 := f32s(dst), f32s(src0), f32s(src1)
	ne0 := dst.Ne[0]

	b.parallelRows(dst.NRows(), ne0, func(lo, hi int64) {
		for r := lo; r < hi; r++ {
			i1, i2, i3 := rowIndex(dst, r)
			od := offset(dst, 0, i1, i2, i3)
			o0 := offset(src0, 0, i1, i2, i3)
			o1 := offset(src1, 0, i1%src1.Ne[1], i2%src1.Ne[2], i3%src1.Ne[3])

			for i0 := range ne0 {
				x := s0[(o0+int(i0)*src0.Nb[0])/4]
				y := s1[(o1+int(i0%src1.Ne[0])*src1.Nb[0])/4]
				d[(od+int(i0)*dst.Nb[0])/4] = fn(x, y)
			}
		}
	})
}

// unaryFunc gibt die Elementfunktion eines einstelligen Knotens zurueck
func unaryFunc(t *ml.Tensor) (func(float32) float32, error) {
	switch t.Op {
	case ml.OpSqr:
		return func(x float32) float32 { return x * x }, nil
	case ml.OpSqrt:
		return func(x float32) float32 { return float32(math.Sqrt(float64(x))) }, nil
	case ml.OpLog:
		return func(x float32) float32 { return float32(math.Log(float64(x))) }, nil
	case ml.OpScale:
		s := t.OpParamF32(0)
		return func(x float32) float32 { return x * s }, nil
	}

	switch t.Unary() {
	case ml.UnaryNeg:
		return func(x float32) float32 { return -x }, nil
	case ml.UnaryAbs:
		return func(x float32) float32 { return float32(math.Abs(float64(x))) }, nil
	case ml.UnarySgn:
		return func(x float32) float32 {
			switch {
			case x > 0:
				return 1
			case x < 0:
				return -1
			default:
				return 0
			}
		}, nil
	case ml.UnaryStep:
		return func(x float32) float32 {
			if x > 0 {
				return 1
			}
			return 0
		}, nil
	case ml.UnaryRELU:
		return func(x float32) float32 { return max(x, 0) }, nil
	case ml.UnaryExp:
		return func(x float32) float32 { return float32(math.Exp(float64(x))) }, nil
	default:
		return nil, fmt.Errorf("unary %s: %w", t.Unary(), ml.ErrUnsupportedOp)
	}
}

// map1 berechnet dst = fn(src0) elementweise
func (b *Backend) map1(dst *ml.Tensor, fn func(float32) float32) {
	src := dst.Src[0]
	d, s := f32s(dst), f32s(src)
	ne0 := dst.Ne[0]

	b.parallelRows(dst.NRows(), ne0, func(lo, hi int64) {
		for r := lo; r < hi; r++ {
			i1, i2, i3 := rowIndex(dst, r)
			od := offset(dst, 0, i1, i2, i3)
			os := offset(src, 0, i1, i2, i3)

			for i0 := range ne0 {
				d[(od+int(i0)*dst.Nb[0])/4] = fn(s[(os+int(i0)*src.Nb[0])/4])
			}
		}
	})
}

// cont kopiert src0 elementweise in den zusammenhaengenden dst
func (b *Backend) cont(dst *ml.Tensor) {
	src := dst.Src[0]
	es := dst.Type.Size()
	ne0 := dst.Ne[0]

	b.parallelRows(dst.NRows(), ne0, func(lo, hi int64) {
		for r := lo; r < hi; r++ {
			i1, i2, i3 := rowIndex(dst, r)
			od := offset(dst, 0, i1, i2, i3)
			os := offset(src, 0, i1, i2, i3)

			if src.Nb[0] == es && dst.Nb[0] == es {
				n := int(ne0) * es
				copy(dst.Data[od:od+n], src.Data[os:os+n])
				continue
			}

			for i0 := range int(ne0) {
				copy(dst.Data[od+i0*dst.Nb[0]:od+i0*dst.Nb[0]+es], src.Data[os+i0*src.Nb[0]:])
			}
		}
	})
}

// cast konvertiert zwischen Gleitkommatypen
func (b *Backend) cast(dst *ml.Tensor) {
	src := dst.Src[0]
	ne0 := dst.Ne[0]

	b.parallelRows(dst.NRows(), ne0, func(lo, hi int64) {
		for r := lo; r < hi; r++ {
			i1, i2, i3 := rowIndex(dst, r)
			od := offset(dst, 0, i1, i2, i3)
			os := offset(src, 0, i1, i2, i3)

			for i0 := range int(ne0) {
				f := loadFloat(src.Type, src.Data[os+i0*src.Nb[0]:])
				storeFloat(dst.Type, dst.Data[od+i0*dst.Nb[0]:], f)
			}
		}
	})
}

func loadFloat(dtype ml.DType, b []byte) float32 {
	switch dtype {
	case ml.DTypeF32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case ml.DTypeF16:
		return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
	case ml.DTypeBF16:
		return bfloat16.DecodeFloat32(b[:2])[0]
	default:
		panic(fmt.Sprintf("cpu: cannot load %s as float", dtype))
	}
}

func storeFloat(dtype ml.DType, b []byte, f float32) {
	switch dtype {
	case ml.DTypeF32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(f))
	case ml.DTypeF16:
		binary.LittleEndian.PutUint16(b, float16.Fromfloat32(f).Bits())
	case ml.DTypeBF16:
		copy(b[:2], bfloat16.EncodeFloat32([]float32{f}))
	default:
		panic(fmt.Sprintf("cpu: cannot store float as %s", dtype))
	}
}

// repeat wiederholt src0 periodisch bis zur Form von dst
func (b *Backend) repeat(dst *ml.Tensor) {
	src := dst.Src[0]
	d, s := f32s(dst), f32s(src)
	ne0 := dst.Ne[0]

	b.parallelRows(dst.NRows(), ne0, func(lo, hi int64) {
		for r := lo; r < hi; r++ {
			i1, i2, i3 := rowIndex(dst, r)
			od := offset(dst, 0, i1, i2, i3)
			os := offset(src, 0, i1%src.Ne[1], i2%src.Ne[2], i3%src.Ne[3])

			for i0 := range ne0 {
				d[(od+int(i0)*dst.Nb[0])/4] = s[(os+int(i0%src.Ne[0])*src.Nb[0])/4]
			}
		}
	})
}

// repeatBack summiert alle Wiederholungen von src0 in die Form von dst
func (b *Backend) repeatBack(dst *ml.Tensor) {
	src := dst.Src[0]
	d, s := f32s(dst), f32s(src)
	ne0 := dst.Ne[0]

	b.parallelRows(dst.NRows(), src.NElements()/dst.NRows(), func(lo, hi int64) {
		for r := lo; r < hi; r++ {
			j1, j2, j3 := rowIndex(dst, r)
			od := offset(dst, 0, j1, j2, j3)
			for j0 := range ne0 {
				d[(od+int(j0)*dst.Nb[0])/4] = 0
			}

			for i3 := j3; i3 < src.Ne[3]; i3 += dst.Ne[3] {
				for i2 := j2; i2 < src.Ne[2]; i2 += dst.Ne[2] {
					for i1 := j1; i1 < src.Ne[1]; i1 += dst.Ne[1] {
						os := offset(src, 0, i1, i2, i3)
						for i0 := range src.Ne[0] {
							j := (od + int(i0%ne0)*dst.Nb[0]) / 4
							d[j] += s[(os+int(i0)*src.Nb[0])/4]
						}
					}
				}
			}
		}
	})
}
