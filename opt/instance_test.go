package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/train/ml"
)

func TestInstanceCopiesGraph(t *testing.T) {
	m := newLinear(t, 2, 1, 4)
	c, err := New(m.params(LossMeanSquaredError))
	require.NoError(t, err)
	defer c.Free()

	in := newInstance(c.gbOpt)
	require.Len(t, in.graph.Nodes(), len(c.gbOpt.Nodes()))
	require.Len(t, in.graph.Leafs(), len(c.gbOpt.Leafs()))

	for i, node := range c.gbOpt.Nodes() {
		cp := in.graph.Node(i)
		assert.NotSame(t, node, cp)
		assert.Equal(t, node.Name, cp.Name)
		assert.Equal(t, node.Op, cp.Op)
		assert.Equal(t, node.Ne, cp.Ne)
		assert.Equal(t, node.Flags, cp.Flags)
	}
	require.NotEmpty(t, c.gbOpt.Leafs())
	assert.Same(t, c.gbOpt.Leafs()[0], in.tensors.Oldest().Key, "Blaetter werden zuerst kopiert")

	for _, node := range c.gbOpt.Nodes() {
		cp := in.lookup(node)
		assert.Same(t, in.lookup(c.gbOpt.Grad(node)), in.graph.Grad(cp), "Gradient von %q", node.Name)
		assert.Same(t, in.lookup(c.gbOpt.GradAcc(node)), in.graph.GradAcc(cp), "Akkumulator von %q", node.Name)
	}

	require.NoError(t, m.sched.AllocGraph(in.graph))

	for _, node := range c.gbOpt.Nodes() {
		if node.Op == ml.OpMulmat || node.Op == ml.OpOutProd {
			assert.Nil(t, node.Data, "Vorlage %q darf nicht alloziert werden", node.Name)
		}
	}

	w := in.lookup(m.w)
	require.NotSame(t, m.w, w)
	assert.Same(t, &m.w.Data[0], &w.Data[0], "Parameter teilen ihren Speicher")

	acc := c.GradAcc(c.Loss())
	accCopy := in.lookup(acc)
	require.NotSame(t, acc, accCopy)
	assert.Same(t, &acc.Data[0], &accCopy.Data[0], "Akkumulatoren liegen im statischen Speicher")
}
