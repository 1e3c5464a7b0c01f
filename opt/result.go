// result.go - Sammlung von Verlust, Vorhersagen und Genauigkeit
// Enthaelt: Result mit Loss, Accuracy, Pred und Reset
package opt

import (
	"fmt"
	"math"
	"slices"
)

// Result sammelt die Ergebnisse mehrerer Eval-Aufrufe gleicher Batch-Groesse
type Result struct {
	ndata    int64
	loss     []float32
	pred     []int32
	ncorrect int64

	optPeriod        int
	lossPerDatapoint bool
}

// NewResult erstellt ein leeres Result
func NewResult() *Result {
	return &Result{}
}

// Reset verwirft alle gesammelten Werte
func (r *Result) Reset() {
	r.ndata = 0
	r.loss = r.loss[:0]
	r.pred = r.pred[:0]
	r.ncorrect = 0
}

// NData gibt die Anzahl der ausgewerteten Datenpunkte zurueck
func (r *Result) NData() int64 {
	return r.ndata
}

// NBatches gibt die Anzahl der gesammelten physischen Batches zurueck
func (r *Result) NBatches() int {
	return len(r.loss)
}

// Losses gibt die Verluste je Batch zurueck
func (r *Result) Losses() []float32 {
	return slices.Clone(r.loss)
}

// Pred gibt eine Kopie der Vorhersagen je Datenpunkt zurueck
func (r *Result) Pred() []int32 {
	return slices.Clone(r.pred)
}

// add liest die Ergebnis-Tensoren von c nach einem Eval
func (r *Result) add(c *Context) {
	if r.ndata == 0 {
		r.lossPerDatapoint = c.lossPerDatapoint
		r.optPeriod = c.optPeriod
	} else {
		if r.lossPerDatapoint != c.lossPerDatapoint {
			panic("opt: result mixes per-datapoint and aggregate losses")
		}
		if r.optPeriod != c.optPeriod {
			panic(fmt.Sprintf("opt: result mixes optimizer periods %d and %d", r.optPeriod, c.optPeriod))
		}
	}

	ndataBatch := c.outputs.Ne[1]
	if r.ndata != ndataBatch*int64(len(r.loss)) {
		panic("opt: varying batch size not supported")
	}
	r.ndata += ndataBatch

	if !c.loss.IsScalar() {
		panic(fmt.Sprintf("opt: loss %q is not a scalar", c.loss.Name))
	}
	r.loss = append(r.loss, c.loss.Floats()[0])

	if c.pred != nil {
		r.pred = append(r.pred, c.pred.Int32s()...)
	}

	if c.ncorrect == nil || r.ncorrect < 0 {
		r.ncorrect = -1
		return
	}
	r.ncorrect += c.ncorrect.Int64s()[0]
}

// Loss gibt den Verlust und seine Standardabweichung zurueck. Bei Verlusten
// je Datenpunkt ist es das Mittel ueber alle Batches, sonst die Summe. Die
// Unsicherheit ist NaN bei weniger als zwei Batches.
func (r *Result) Loss() (loss, unc float64) {
	nbatches := len(r.loss)
	if nbatches == 0 {
		return 0, math.NaN()
	}

	var sum, sumSquared float64
	for _, l := range r.loss {
		// Verluste je Datenpunkt sind durch optPeriod geteilt
		v := float64(l)
		if r.lossPerDatapoint {
			v *= float64(r.optPeriod)
		}
		sum += v
		sumSquared += v * v
	}

	n := float64(nbatches)
	mean := sum / n
	if r.lossPerDatapoint {
		loss = mean
	} else {
		loss = sum
	}

	if nbatches < 2 {
		return loss, math.NaN()
	}

	variance := sumSquared/n - mean*mean
	if r.lossPerDatapoint {
		unc = math.Sqrt(variance / (n - 1))
	} else {
		unc = math.Sqrt(variance * n / (n - 1))
	}
	return loss, unc
}

// Accuracy gibt den Anteil korrekter Vorhersagen und dessen
// Standardabweichung zurueck, NaN fuer Verluste ohne Trefferzaehlung
func (r *Result) Accuracy() (accuracy, unc float64) {
	if r.ncorrect < 0 || r.ndata == 0 {
		return math.NaN(), math.NaN()
	}

	accuracy = float64(r.ncorrect) / float64(r.ndata)
	if r.ndata < 2 {
		return accuracy, math.NaN()
	}

	return accuracy, math.Sqrt(accuracy * (1 - accuracy) / float64(r.ndata-1))
}
