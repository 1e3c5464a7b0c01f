package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/train/ml"
)

func TestStaticContextLayout(t *testing.T) {
	cases := []struct {
		name       string
		loss       LossType
		build      BuildType
		period     int
		optimizer  OptimizerType
		capacity   int
		accumulate bool
		step       string
		lossName   string
	}{
		{"adamw", LossCrossEntropy, BuildOpt, 1, OptimizerAdamW, 1 + 2*2 + 9, false, "AdamW step for w", "loss_cross_entropy"},
		{"adamw mit Periode", LossCrossEntropy, BuildOpt, 2, OptimizerAdamW, 1 + 3*2 + 9, true, "AdamW step for w", "loss_cross_entropy_scaled"},
		{"sgd", LossCrossEntropy, BuildOpt, 1, OptimizerSGD, 1 + 9, false, "SGD step for b", "loss_cross_entropy"},
		{"nur Gradienten", LossMeanSquaredError, BuildGrad, 1, OptimizerAdamW, 1 + 1*2 + 9, true, "", "loss_mean_squared_error"},
		{"nur vorwaerts", LossSum, BuildForward, 1, OptimizerAdamW, 1 + 9, false, "", "loss_sum"},
		{"mittel", LossMean, BuildOpt, 1, OptimizerAdamW, 1 + 2*2 + 9, false, "AdamW step for b", "loss_mean"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			m := newLinear(t, 3, 2, 4)
			p := m.params(tt.loss)
			p.BuildType = tt.build
			p.OptPeriod = tt.period
			p.Optimizer = tt.optimizer

			c, err := New(p)
			require.NoError(t, err)
			defer c.Free()

			assert.True(t, c.StaticGraphs())
			assert.Equal(t, tt.capacity, c.static.Capacity(), "falsche Groesse des statischen Contexts")
			assert.Equal(t, tt.accumulate, c.accumulate)
			assert.Equal(t, tt.lossName, c.Loss().Name)
			assert.NotNil(t, c.Loss().Data, "Verlust liegt im statischen Speicher")

			if tt.loss.NeedsLabels() {
				require.NotNil(t, c.Labels())
				assert.NotNil(t, c.Labels().Data)
			} else {
				assert.Nil(t, c.Labels())
			}

			if tt.loss == LossCrossEntropy {
				require.NotNil(t, c.Pred())
				assert.Equal(t, "pred", c.Pred().Name)
				assert.Equal(t, "ncorrect", c.NCorrect().Name)
			} else {
				assert.Nil(t, c.Pred())
				assert.Nil(t, c.NCorrect())
			}

			if tt.build == BuildForward {
				assert.Nil(t, c.gbGrad)
				assert.Nil(t, c.GradAcc(m.w))
				return
			}

			assert.NotNil(t, c.GradAcc(c.Loss()), "Verlust braucht immer einen Akkumulator")
			if tt.accumulate {
				assert.NotNil(t, c.GradAcc(m.w))
			} else {
				assert.Nil(t, c.GradAcc(m.w))
			}

			if tt.step == "" {
				assert.Nil(t, c.gbOpt)
				return
			}
			require.NotNil(t, c.gbOpt)
			assert.True(t, hasNode(c.gbOpt, tt.step), "Knoten %q fehlt", tt.step)
			assert.Equal(t, tt.optimizer.numParams(), c.optParams.NElements())
		})
	}
}

func TestNewPanics(t *testing.T) {
	m := newLinear(t, 3, 2, 4)

	p := m.params(LossSum)
	p.OptPeriod = 0
	assert.Panics(t, func() { New(p) })

	p = DefaultParams(m.sched, LossSum)
	p.Inputs = m.inputs
	assert.Panics(t, func() { New(p) }, "Eingaben ohne Compute-Context")

	p = m.params(LossSum)
	p.Inputs = ml.NewContext(1).Empty(ml.DTypeF32, 3, 4)
	assert.Panics(t, func() { New(p) }, "statische Eingaben muessen alloziert sein")
}

func TestAllocEvalOrder(t *testing.T) {
	m := newLinear(t, 3, 2, 4)
	c, err := New(m.params(LossCrossEntropy))
	require.NoError(t, err)
	defer c.Free()

	assert.PanicsWithValue(t, "opt: Eval called without a successful Alloc", func() { c.Eval(nil) })

	require.NoError(t, c.Alloc(false))
	assert.PanicsWithValue(t, "opt: Alloc called twice without Eval", func() { c.Alloc(false) })
	require.NoError(t, c.Eval(nil))

	assert.Panics(t, func() { c.PrepareAlloc(m.compute, nil, m.inputs, m.outputs) }, "nur fuer dynamische Graphen")
}

func TestOptPeriodSchedule(t *testing.T) {
	m := newLinear(t, 3, 2, 4)
	p := m.params(LossCrossEntropy)
	p.OptPeriod = 2

	c, err := New(p)
	require.NoError(t, err)
	defer c.Free()

	ds := classification(8, 1)

	var kinds []BuildType
	for i := range int64(4) {
		require.NoError(t, c.Alloc(true))
		kinds = append(kinds, c.BuildType())
		ds.GetBatch(c.Inputs(), c.Labels(), i%2)
		require.NoError(t, c.Eval(nil))
	}

	assert.Equal(t, []BuildType{BuildGrad, BuildOpt, BuildGrad, BuildOpt}, kinds)
	assert.Equal(t, int64(3), c.Iter(), "zwei Optimierer-Schritte")

	require.NoError(t, c.Alloc(false))
	assert.Equal(t, BuildForward, c.BuildType())
	require.NoError(t, c.Eval(nil))
	assert.Equal(t, int64(3), c.Iter(), "Vorwaertsdurchlauf zaehlt nicht")
}

func TestGradientsResetAfterStep(t *testing.T) {
	m := newLinear(t, 3, 2, 4)
	ds := classification(8, 4)

	p := m.params(LossCrossEntropy)
	p.OptPeriod = 2
	c, err := New(p)
	require.NoError(t, err)
	defer c.Free()

	for _, ibatch := range []int64{0, 1, 0} {
		require.NoError(t, c.Alloc(true))
		ds.GetBatch(c.Inputs(), c.Labels(), ibatch)
		require.NoError(t, c.Eval(nil))
	}
	accumulated := c.GradAcc(m.w).Floats()

	// Referenz: Gradient der Batch 0 bei den aktuellen Gewichten
	p = m.params(LossCrossEntropy)
	p.BuildType = BuildGrad
	ref, err := New(p)
	require.NoError(t, err)
	defer ref.Free()

	require.NoError(t, ref.Alloc(true))
	assert.Equal(t, BuildGrad, ref.BuildType(), "ohne Optimierer-Graph bleibt es bei Gradienten")
	ds.GetBatch(ref.Inputs(), ref.Labels(), 0)
	require.NoError(t, ref.Eval(nil))

	want := ref.GradAcc(m.w).Floats()
	for i := range want {
		want[i] *= 0.5
	}
	assert.InDeltaSlice(t, want, accumulated, 1e-6, "Akkumulatoren muessen nach dem Schritt geloescht sein")
}

func TestIterAndReset(t *testing.T) {
	m := newLinear(t, 3, 2, 4)
	ds := classification(4, 2)

	c, err := New(m.params(LossCrossEntropy))
	require.NoError(t, err)
	defer c.Free()

	for range 3 {
		require.NoError(t, c.Alloc(true))
		assert.Equal(t, BuildOpt, c.BuildType())
		ds.GetBatch(c.Inputs(), c.Labels(), 0)
		require.NoError(t, c.Eval(nil))
	}
	assert.Equal(t, int64(4), c.Iter())

	nonzero := false
	for _, mom := range c.gradM {
		if mom == nil {
			continue
		}
		for _, v := range mom.Floats() {
			nonzero = nonzero || v != 0
		}
	}
	assert.True(t, nonzero, "Momente nach drei Schritten nicht null")

	c.Reset(true)
	assert.Equal(t, int64(1), c.Iter())
	for _, mom := range c.gradM {
		if mom != nil {
			assert.Equal(t, make([]float32, mom.NElements()), mom.Floats())
		}
	}
}

func TestEvalResult(t *testing.T) {
	m := newLinear(t, 3, 2, 4)
	ds := classification(8, 3)

	c, err := New(m.params(LossCrossEntropy))
	require.NoError(t, err)
	defer c.Free()

	r := NewResult()
	for i := range int64(2) {
		require.NoError(t, c.Alloc(false))
		ds.GetBatch(c.Inputs(), c.Labels(), i)
		require.NoError(t, c.Eval(r))
	}

	assert.Equal(t, int64(8), r.NData())
	assert.Equal(t, 2, r.NBatches())
	assert.Len(t, r.Pred(), 8)

	acc, _ := r.Accuracy()
	assert.GreaterOrEqual(t, acc, 0.0)
	assert.LessOrEqual(t, acc, 1.0)

	loss, _ := r.Loss()
	assert.Greater(t, loss, 0.0)

	bad := &Result{ndata: 3, loss: []float32{1}, lossPerDatapoint: true, optPeriod: 1}
	require.NoError(t, c.Alloc(false))
	assert.PanicsWithValue(t, "opt: varying batch size not supported", func() { c.Eval(bad) })
}

func TestDynamicMatchesStatic(t *testing.T) {
	ds := regression(8, 3)
	sgd := ConstantOptimizerParams(OptimizerParams{SGD: SGDParams{Alpha: 0.1}})

	ms := newLinear(t, 2, 1, 4)
	p := ms.params(LossMeanSquaredError)
	p.Optimizer = OptimizerSGD
	p.GetOptimizerParams = sgd
	cs, err := New(p)
	require.NoError(t, err)
	defer cs.Free()

	for step := range int64(4) {
		require.NoError(t, cs.Alloc(true))
		ds.GetBatch(cs.Inputs(), cs.Labels(), step%2)
		require.NoError(t, cs.Eval(nil))
	}

	md := newLinear(t, 2, 1, 4)
	pd := DefaultParams(md.sched, LossMeanSquaredError)
	pd.Optimizer = OptimizerSGD
	pd.GetOptimizerParams = sgd
	cd, err := New(pd)
	require.NoError(t, err)
	defer cd.Free()
	assert.False(t, cd.StaticGraphs())

	for step := range int64(4) {
		compute := ml.NewContext(ml.DefaultGraphSize)
		outputs := md.w.Mulmat(compute, md.inputs).Add(compute, md.b)
		gf := ml.NewGraph(ml.DefaultGraphSize, true)
		gf.BuildForwardExpand(outputs)

		cd.PrepareAlloc(compute, gf, md.inputs, outputs)
		require.NoError(t, cd.Alloc(true))
		ds.GetBatch(md.inputs, cd.Labels(), step%2)
		require.NoError(t, cd.Eval(nil))
	}

	assert.Equal(t, int64(5), cd.Iter())
	assert.InDeltaSlice(t, ms.w.Floats(), md.w.Floats(), 1e-6)
	assert.InDeltaSlice(t, ms.b.Floats(), md.b.Floats(), 1e-6)
}
