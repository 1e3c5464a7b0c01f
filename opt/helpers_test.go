package opt

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ollama/train/ml"
	"github.com/ollama/train/ml/backend/cpu"
)

// linear ist ein Modell outputs = w*inputs + b mit statisch allozierten
// Eingaben und Parametern
type linear struct {
	sched   *cpu.Scheduler
	compute *ml.Context
	inputs  *ml.Tensor
	outputs *ml.Tensor
	w       *ml.Tensor
	b       *ml.Tensor
}

func newLinear(t *testing.T, nIn, nOut, nbatch int64) *linear {
	t.Helper()

	weights := ml.NewContext(3)
	m := &linear{
		inputs: weights.Empty(ml.DTypeF32, nIn, nbatch).SetName("inputs"),
		w:      weights.Empty(ml.DTypeF32, nIn, nOut).SetName("w"),
		b:      weights.Empty(ml.DTypeF32, nOut, 1).SetName("b"),
	}
	_, err := ml.AllocContextTensors(weights, ml.HostBufferType())
	require.NoError(t, err)

	w := make([]float32, m.w.NElements())
	for i := range w {
		w[i] = 0.1 * float32(i%5-2)
	}
	m.w.SetFloats(w)
	m.b.SetFloats(make([]float32, nOut))
	m.inputs.SetFloats(make([]float32, m.inputs.NElements()))

	m.w.SetParam()
	m.b.SetParam()

	m.compute = ml.NewContext(ml.DefaultGraphSize)
	m.outputs = m.w.Mulmat(m.compute, m.inputs).Add(m.compute, m.b).SetName("outputs")

	m.sched = cpu.NewScheduler(cpu.New(cpu.Options{NumThreads: 2}))
	t.Cleanup(m.sched.Close)
	return m
}

// params gibt statische Context-Parameter fuer das Modell zurueck
func (m *linear) params(loss LossType) Params {
	p := DefaultParams(m.sched, loss)
	p.Compute = m.compute
	p.Inputs = m.inputs
	p.Outputs = m.outputs
	return p
}

// regression legt einen Datensatz y = 1.5*x0 - 0.5*x1 + 0.25 an
func regression(ndata int64, seed uint64) *Dataset {
	r := rand.New(rand.NewPCG(seed, 1))
	ds := NewDataset(ml.DTypeF32, ml.DTypeF32, 2, 1, ndata, 1)

	x := make([]float32, 2*ndata)
	y := make([]float32, ndata)
	for i := range ndata {
		x0, x1 := r.Float32()*2-1, r.Float32()*2-1
		x[2*i], x[2*i+1] = x0, x1
		y[i] = 1.5*x0 - 0.5*x1 + 0.25
	}
	ds.Data().SetFloats(x)
	ds.Labels().SetFloats(y)
	return ds
}

// classification legt einen Datensatz mit zwei Klassen an, die Klasse ist
// das Vorzeichen von x0
func classification(ndata int64, seed uint64) *Dataset {
	r := rand.New(rand.NewPCG(seed, 2))
	ds := NewDataset(ml.DTypeF32, ml.DTypeF32, 3, 2, ndata, 1)

	x := make([]float32, 3*ndata)
	y := make([]float32, 2*ndata)
	for i := range ndata {
		for j := range int64(3) {
			x[3*i+j] = r.Float32()*2 - 1
		}
		if x[3*i] >= 0 {
			y[2*i] = 1
		} else {
			y[2*i+1] = 1
		}
	}
	ds.Data().SetFloats(x)
	ds.Labels().SetFloats(y)
	return ds
}

func hasNode(g *ml.Graph, name string) bool {
	for _, node := range g.Nodes() {
		if node.Name == name {
			return true
		}
	}
	return false
}
