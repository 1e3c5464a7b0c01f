// matmul.go - Matrixprodukte auf gonum blas32
// Enthaelt: mulmat, outProd und die Abbildung von Tensoren auf blas32.General
package cpu

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/ollama/train/ml"
)

// Ein Tensor t mit Form [ne0, ne1] wird als zeilenweise Matrix M(t) mit ne1
// Zeilen und ne0 Spalten gelesen, M(t)[i1][i0] = t[i0, i1].

func rowMajor(t *ml.Tensor) bool {
	return t.Nb[0] == 4 && t.Nb[1]%4 == 0 && (t.Ne[1] == 1 || t.Nb[1] >= 4*int(t.Ne[0]))
}

func colMajor(t *ml.Tensor) bool {
	return t.Nb[1] == 4 && t.Nb[0]%4 == 0 && (t.Ne[0] == 1 || t.Nb[0] >= 4*int(t.Ne[1]))
}

// isMatrixOperand meldet, ob jede Teilmatrix von t ohne Kopie an blas32 geht
func isMatrixOperand(t *ml.Tensor) bool {
	return (rowMajor(t) || colMajor(t)) && t.Nb[2]%4 == 0 && t.Nb[3]%4 == 0
}

// matrix gibt M(t) fuer den Batch (i2, i3) als General samt Transpositionsflag zurueck
func matrix(t *ml.Tensor, i2, i3 int64) (blas32.General, blas.Transpose) {
	data := f32s(t)[offset(t, 0, 0, i2, i3)/4:]
	ne0, ne1 := int(t.Ne[0]), int(t.Ne[1])

	if rowMajor(t) {
		return blas32.General{Rows: ne1, Cols: ne0, Stride: max(t.Nb[1]/4, ne0), Data: data}, blas.NoTrans
	}
	return blas32.General{Rows: ne0, Cols: ne1, Stride: max(t.Nb[0]/4, ne1), Data: data}, blas.Trans
}

func flip(tr blas.Transpose) blas.Transpose {
	if tr == blas.NoTrans {
		return blas.Trans
	}
	return blas.NoTrans
}

// rowsOf gibt die Zeilen [lo, hi) von op(g) als Teilmatrix zurueck
func rowsOf(g blas32.General, tr blas.Transpose, lo, hi int) blas32.General {
	if tr == blas.NoTrans {
		return blas32.General{Rows: hi - lo, Cols: g.Cols, Stride: g.Stride, Data: g.Data[lo*g.Stride:]}
	}
	return blas32.General{Rows: g.Rows, Cols: hi - lo, Stride: g.Stride, Data: g.Data[lo:]}
}

// gemm berechnet M(dst) = op(a) * op(b) batchweise, parallel ueber Zeilen von M(dst)
func (b *Backend) gemm(dst *ml.Tensor, x, y *ml.Tensor, opX, opY func(blas.Transpose) blas.Transpose, k int64) {
	if dst.NElements() == 0 {
		return
	}

	for i3 := range dst.Ne[3] {
		for i2 := range dst.Ne[2] {
			gx, tx := matrix(x, i2, i3)
			gy, ty := matrix(y, i2, i3)
			tx, ty = opX(tx), opY(ty)

			c := blas32.General{
				Rows:   int(dst.Ne[1]),
				Cols:   int(dst.Ne[0]),
				Stride: dst.Nb[1] / 4,
				Data:   f32s(dst)[offset(dst, 0, 0, i2, i3)/4:],
			}

			if k == 0 {
				for r := range c.Rows {
					clear(c.Data[r*c.Stride : r*c.Stride+c.Cols])
				}
				continue
			}

			b.parallelRows(int64(c.Rows), dst.Ne[0]*k, func(lo, hi int64) {
				part := blas32.General{Rows: int(hi - lo), Cols: c.Cols, Stride: c.Stride, Data: c.Data[int(lo)*c.Stride:]}
				blas32.Gemm(tx, ty, 1, rowsOf(gx, tx, int(lo), int(hi)), gy, 0, part)
			})
		}
	}
}

func same(tr blas.Transpose) blas.Transpose { return tr }

// mulmat: dst [m, n] = src0 [k, m] x src1 [k, n], also M(dst) = M(src1) M(src0)^T
func (b *Backend) mulmat(dst *ml.Tensor) {
	src0, src1 := dst.Src[0], dst.Src[1]
	b.gemm(dst, src1, src0, same, flip, src0.Ne[0])
}

// outProd: dst [n, m] aus src0 [n, p] und src1 [m, p], also M(dst) = M(src1)^T M(src0)
func (b *Backend) outProd(dst *ml.Tensor) {
	src0, src1 := dst.Src[0], dst.Src[1]
	b.gemm(dst, src1, src0, flip, same, src0.Ne[1])
}
