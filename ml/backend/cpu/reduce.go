// reduce.go - Reduktions-Kernel
// Enthaelt: sum, sumRows (auch Mittelwert), argmax, countEqual
package cpu

import "github.com/ollama/train/ml"

// sum summiert alle Elemente in float64 zu einem Skalar
func sum(dst *ml.Tensor) {
	src := dst.Src[0]
	s := f32s(src)

	var acc float64
	for r := range src.NRows() {
		i1, i2, i3 := rowIndex(src, r)
		os := offset(src, 0, i1, i2, i3)
		for i0 := range src.Ne[0] {
			acc += float64(s[(os+int(i0)*src.Nb[0])/4])
		}
	}

	f32s(dst)[0] = float32(acc)
}

// sumRows summiert jede Zeile, mit mean wird durch die Zeilenlaenge geteilt
func (b *Backend) sumRows(dst *ml.Tensor, mean bool) {
	src := dst.Src[0]
	d, s := f32s(dst), f32s(src)
	ne0 := src.Ne[0]

	b.parallelRows(src.NRows(), ne0, func(lo, hi int64) {
		for r := lo; r < hi; r++ {
			i1, i2, i3 := rowIndex(src, r)
			os := offset(src, 0, i1, i2, i3)

			var acc float64
			for i0 := range ne0 {
				acc += float64(s[(os+int(i0)*src.Nb[0])/4])
			}
			if mean {
				acc /= float64(ne0)
			}

			d[offset(dst, 0, i1, i2, i3)/4] = float32(acc)
		}
	})
}

// argmax schreibt je Spalte den Index des ersten Maximums
func (b *Backend) argmax(dst *ml.Tensor) {
	src := dst.Src[0]
	d, s := i32s(dst), f32s(src)
	ne0 := src.Ne[0]

	b.parallelRows(src.Ne[1], ne0, func(lo, hi int64) {
		for i1 := lo; i1 < hi; i1++ {
			os := offset(src, 0, i1, 0, 0)

			best := 0
			maxv := s[os/4]
			for i0 := 1; i0 < int(ne0); i0++ {
				if v := s[(os+i0*src.Nb[0])/4]; v > maxv {
					best, maxv = i0, v
				}
			}

			d[offset(dst, i1, 0, 0, 0)/4] = int32(best)
		}
	})
}

// countEqual zaehlt gleiche Elemente zweier I32-Tensoren
func countEqual(dst *ml.Tensor) {
	src0, src1 := dst.Src[0], dst.Src[1]
	s0, s1 := i32s(src0), i32s(src1)

	var n int64
	for r := range src0.NRows() {
		i1, i2, i3 := rowIndex(src0, r)
		o0 := offset(src0, 0, i1, i2, i3)
		o1 := offset(src1, 0, i1, i2, i3)
		for i0 := range int(src0.Ne[0]) {
			if s0[(o0+i0*src0.Nb[0])/4] == s1[(o1+i0*src1.Nb[0])/4] {
				n++
			}
		}
	}

	i64s(dst)[0] = n
}
