// cmd_model.go - Modell und synthetische Datensaetze fuer train fit
// Hauptfunktionen: newMLP, syntheticDataset
package cmd

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/ollama/train/ml"
	"github.com/ollama/train/opt"
)

// Aufgaben fuer synthetische Datensaetze
const (
	taskClassify = "classify"
	taskRegress  = "regress"
)

// layer ist eine vollverbundene Schicht outputs = w*inputs + b
type layer struct {
	w *ml.Tensor
	b *ml.Tensor
}

// mlp ist ein mehrschichtiges Perzeptron mit RELU zwischen den Schichten.
// Eingaben und Gewichte liegen in einem statisch allozierten Context,
// der Vorwaertsgraph in compute.
type mlp struct {
	weights *ml.Context
	buf     ml.Buffer
	compute *ml.Context

	inputs  *ml.Tensor
	outputs *ml.Tensor
	layers  []layer
}

// newMLP baut das Netz nIn -> hidden... -> nOut fuer Batches der Groesse
// nbatch und initialisiert die Gewichte Glorot-gleichverteilt
func newMLP(nIn int64, hidden []int, nOut, nbatch int64, rng *rand.Rand) (*mlp, error) {
	sizes := []int64{nIn}
	for _, h := range hidden {
		if h <= 0 {
			return nil, fmt.Errorf("invalid hidden layer size %d", h)
		}
		sizes = append(sizes, int64(h))
	}
	sizes = append(sizes, nOut)

	m := &mlp{weights: ml.NewContext(1 + 2*(len(sizes)-1))}
	m.inputs = m.weights.Empty(ml.DTypeF32, nIn, nbatch).SetName("inputs")
	for i := range len(sizes) - 1 {
		m.layers = append(m.layers, layer{
			w: m.weights.Empty(ml.DTypeF32, sizes[i], sizes[i+1]).SetName("blk.%d.weight", i),
			b: m.weights.Empty(ml.DTypeF32, sizes[i+1], 1).SetName("blk.%d.bias", i),
		})
	}

	buf, err := ml.AllocContextTensors(m.weights, ml.HostBufferType())
	if err != nil {
		return nil, fmt.Errorf("allocating weights: %w", err)
	}
	m.buf = buf

	m.inputs.SetFloats(make([]float32, m.inputs.NElements()))
	for i, l := range m.layers {
		limit := math.Sqrt(6 / float64(sizes[i]+sizes[i+1]))
		w := make([]float32, l.w.NElements())
		for j := range w {
			w[j] = float32((2*rng.Float64() - 1) * limit)
		}
		l.w.SetFloats(w)
		l.b.SetFloats(make([]float32, l.b.NElements()))
		l.w.SetParam()
		l.b.SetParam()
	}

	m.compute = ml.NewContext(ml.DefaultGraphSize)
	x := m.inputs
	for i, l := range m.layers {
		x = l.w.Mulmat(m.compute, x).Add(m.compute, l.b)
		if i < len(m.layers)-1 {
			x = x.RELU(m.compute)
		}
	}
	m.outputs = x.SetName("outputs")

	return m, nil
}

// NumParams gibt die Anzahl trainierbarer Gewichte zurueck
func (m *mlp) NumParams() int64 {
	var n int64
	for _, l := range m.layers {
		n += l.w.NElements() + l.b.NElements()
	}
	return n
}

// Free gibt Compute-Context, Gewichte und deren Buffer frei
func (m *mlp) Free() {
	m.compute.Free()
	m.weights.Free()
	if m.buf != nil {
		m.buf.Free()
	}
}

// syntheticDataset erzeugt ndata Datenpunkte fuer die Aufgabe.
//
// classify: nClasses Punktwolken um Zentren auf einem Kreis in den ersten
// beiden Merkmalen, Labels als One-Hot-Verteilung.
// regress: gleichverteilte Merkmale in [-1, 1], Ziel ist der Mittelwert von
// sin(pi*x) ueber alle Merkmale.
func syntheticDataset(task string, nIn, nClasses, ndata int64, rng *rand.Rand) (*opt.Dataset, error) {
	switch task {
	case taskClassify:
		if nClasses < 2 {
			return nil, fmt.Errorf("classify needs at least 2 classes, got %d", nClasses)
		}

		ds := opt.NewDataset(ml.DTypeF32, ml.DTypeF32, nIn, nClasses, ndata, 1)
		x := make([]float32, nIn*ndata)
		y := make([]float32, nClasses*ndata)
		for i := range ndata {
			class := rng.Int64N(nClasses)
			angle := 2 * math.Pi * float64(class) / float64(nClasses)
			for j := range nIn {
				v := 0.4 * rng.NormFloat64()
				switch j {
				case 0:
					v += 2 * math.Cos(angle)
				case 1:
					v += 2 * math.Sin(angle)
				}
				x[i*nIn+j] = float32(v)
			}
			y[i*nClasses+class] = 1
		}
		ds.Data().SetFloats(x)
		ds.Labels().SetFloats(y)
		return ds, nil

	case taskRegress:
		ds := opt.NewDataset(ml.DTypeF32, ml.DTypeF32, nIn, 1, ndata, 1)
		x := make([]float32, nIn*ndata)
		y := make([]float32, ndata)
		for i := range ndata {
			var sum float64
			for j := range nIn {
				v := 2*rng.Float64() - 1
				x[i*nIn+j] = float32(v)
				sum += math.Sin(math.Pi * v)
			}
			y[i] = float32(sum / float64(nIn))
		}
		ds.Data().SetFloats(x)
		ds.Labels().SetFloats(y)
		return ds, nil

	default:
		return nil, fmt.Errorf("unknown task %q", task)
	}
}
