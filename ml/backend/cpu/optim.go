// optim.go - Optimierer-Schritte
// Enthaelt: optStepAdamW und optStepSGD, beide aktualisieren den Parameter in place
package cpu

import (
	"fmt"
	"math"

	"github.com/ollama/train/ml"
)

func requireContiguous(ts ...*ml.Tensor) error {
	for _, t := range ts {
		if !t.IsContiguous() {
			return fmt.Errorf("%q is not contiguous: %w", t.Name, ml.ErrUnsupportedOp)
		}
	}
	return nil
}

// gradRow gibt die Gradienten-Elemente der Parameterzeile r zurueck. Der
// Gradient darf eine Sicht mit beliebigen Strides sein.
func gradRow(g *ml.Tensor, gs []float32, r int64, row []float32) {
	i1, i2, i3 := rowIndex(g, r)
	og := offset(g, 0, i1, i2, i3)
	for i0 := range row {
		row[i0] = gs[(og+i0*g.Nb[0])/4]
	}
}

// optStepAdamW liest [alpha, beta1, beta2, eps, wd, beta1h, beta2h] aus src4
func (b *Backend) optStepAdamW(dst *ml.Tensor) error {
	w, g, m, v, params := dst.Src[0], dst.Src[1], dst.Src[2], dst.Src[3], dst.Src[4]
	if err := requireContiguous(w, m, v, params); err != nil {
		return err
	}

	p := f32s(params)
	alpha, beta1, beta2, eps, wd, beta1h, beta2h := p[0], p[1], p[2], p[3], p[4], p[5], p[6]
	keep := 1 - alpha*wd

	ws, gs, ms, vs := f32s(w), f32s(g), f32s(m), f32s(v)
	ne0 := w.Ne[0]

	b.parallelRows(w.NRows(), ne0, func(lo, hi int64) {
		row := make([]float32, ne0)
		for r := lo; r < hi; r++ {
			gradRow(g, gs, r, row)

			base := r * ne0
			for i0, gi := range row {
				i := base + int64(i0)
				ms[i] = ms[i]*beta1 + gi*(1-beta1)
				vs[i] = vs[i]*beta2 + gi*gi*(1-beta2)

				mh := ms[i] * beta1h
				vh := float32(math.Sqrt(float64(vs[i]*beta2h))) + eps

				ws[i] = ws[i]*keep - alpha*mh/vh
			}
		}
	})

	return nil
}

// optStepSGD liest [alpha, wd] aus src2
func (b *Backend) optStepSGD(dst *ml.Tensor) error {
	w, g, params := dst.Src[0], dst.Src[1], dst.Src[2]
	if err := requireContiguous(w, params); err != nil {
		return err
	}

	p := f32s(params)
	alpha, wd := p[0], p[1]
	keep := 1 - alpha*wd

	ws, gs := f32s(w), f32s(g)
	ne0 := w.Ne[0]

	b.parallelRows(w.NRows(), ne0, func(lo, hi int64) {
		row := make([]float32, ne0)
		for r := lo; r < hi; r++ {
			gradRow(g, gs, r, row)

			base := r * ne0
			for i0, gi := range row {
				ws[base+int64(i0)] = ws[base+int64(i0)]*keep - alpha*gi
			}
		}
	})

	return nil
}
