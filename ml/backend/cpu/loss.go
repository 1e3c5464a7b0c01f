// loss.go - Kreuzentropie-Kernel
// Enthaelt: crossEntropyLoss und crossEntropyLossBack
package cpu

import (
	"math"

	"github.com/ollama/train/ml"
)

// crossEntropyLoss berechnet -1/nr * sum_r sum_i labels[i,r] * log_softmax(logits)[i,r].
// Die Zeilensummen werden getrennt berechnet und sequentiell addiert, damit
// das Ergebnis nicht von der Thread-Anzahl abhaengt.
func (b *Backend) crossEntropyLoss(dst *ml.Tensor) {
	logits, labels := dst.Src[0], dst.Src[1]
	x, l := f32s(logits), f32s(labels)
	nc, nr := logits.Ne[0], logits.NRows()

	rows := make([]float64, nr)
	b.parallelRows(nr, nc, func(lo, hi int64) {
		for r := lo; r < hi; r++ {
			i1, i2, i3 := rowIndex(logits, r)
			ox := offset(logits, 0, i1, i2, i3)
			ol := offset(labels, 0, i1, i2, i3)

			maxv := math.Inf(-1)
			for i := range nc {
				maxv = max(maxv, float64(x[(ox+int(i)*logits.Nb[0])/4]))
			}

			var sumExp float64
			for i := range nc {
				sumExp += math.Exp(float64(x[(ox+int(i)*logits.Nb[0])/4]) - maxv)
			}
			logSum := math.Log(sumExp)

			var acc float64
			for i := range nc {
				xi := float64(x[(ox+int(i)*logits.Nb[0])/4])
				acc += float64(l[(ol+int(i)*labels.Nb[0])/4]) * (xi - maxv - logSum)
			}
			rows[r] = acc
		}
	})

	var total float64
	for _, v := range rows {
		total += v
	}

	f32s(dst)[0] = float32(-total / float64(nr))
}

// crossEntropyLossBack berechnet (softmax(logits) - labels) * grad / nr
func (b *Backend) crossEntropyLossBack(dst *ml.Tensor) {
	grad, logits, labels := dst.Src[0], dst.Src[1], dst.Src[2]
	d, x, l := f32s(dst), f32s(logits), f32s(labels)
	nc, nr := logits.Ne[0], logits.NRows()
	scale := float64(f32s(grad)[0]) / float64(nr)

	b.parallelRows(nr, nc, func(lo, hi int64) {
		for r := lo; r < hi; r++ {
			i1, i2, i3 := rowIndex(logits, r)
			ox := offset(logits, 0, i1, i2, i3)
			ol := offset(labels, 0, i1, i2, i3)
			od := offset(dst, 0, i1, i2, i3)

			maxv := math.Inf(-1)
			for i := range nc {
				maxv = max(maxv, float64(x[(ox+int(i)*logits.Nb[0])/4]))
			}

			var sumExp float64
			for i := range nc {
				sumExp += math.Exp(float64(x[(ox+int(i)*logits.Nb[0])/4]) - maxv)
			}

			for i := range nc {
				p := math.Exp(float64(x[(ox+int(i)*logits.Nb[0])/4])-maxv) / sumExp
				y := float64(l[(ol+int(i)*labels.Nb[0])/4])
				d[(od+int(i)*dst.Nb[0])/4] = float32((p - y) * scale)
			}
		}
	})
}
