// build.go - Konstruktion der Trainingsgraphen
// Enthaelt: build mit Verlust-Teilgraph, Gradienten-Akkumulatoren,
// Rueckwaertsgraph und Optimierer-Schritten
package opt

import (
	"fmt"
	"log/slog"

	"github.com/ollama/train/ml"
)

// build erweitert gf um den Verlust und baut bis zur Stufe buildType die
// Graphen gbGrad und gbOpt. Der statische Buffer wird beim ersten Aufruf
// fuer die hoechste Stufe buildTypeAlloc alloziert.
func (c *Context) build() error {
	if c.compute == nil {
		panic("opt: no compute context set, either use static graphs or call PrepareAlloc")
	}
	if c.staticGraphs && c.inputs.Data == nil {
		panic("opt: static graphs require statically allocated inputs")
	}
	if c.buildType > c.buildTypeAlloc {
		panic(fmt.Sprintf("opt: build type %s exceeds allocated build type %s", c.buildType, c.buildTypeAlloc))
	}

	c.accumulate = c.buildTypeAlloc >= BuildGrad &&
		!(c.staticGraphs && c.buildTypeAlloc == BuildOpt && c.optPeriod == 1)

	c.inputs.SetInput()
	c.outputs.SetOutput()

	nparam := 0
	for _, node := range c.gf.Nodes() {
		if node.IsParam() {
			nparam++
		}
		if node.IsLoss() {
			panic(fmt.Sprintf("opt: extra loss terms are not supported, found %q", node.Name))
		}
	}

	if c.static == nil {
		perParam := 0
		if c.accumulate {
			perParam++
		}
		if c.buildTypeAlloc == BuildOpt {
			perParam += c.optimizer.momenta()
		}

		n := 1 + perParam*nparam
		if c.staticGraphs {
			n += staticResults
		}
		c.static = ml.NewContext(n)
	}

	if c.bufCPU != nil {
		c.bufCPU.Free()
		c.bufCPU = nil
	}
	c.cpu = ml.NewContext(1)

	results := c.compute
	if c.staticGraphs {
		results = c.static
	}

	lg := c.lossType.build(results, c.outputs, c.optPeriod)
	c.labels, c.loss, c.pred, c.ncorrect = lg.labels, lg.loss, lg.pred, lg.ncorrect
	c.lossPerDatapoint = lg.perDatapoint

	if c.labels != nil {
		c.labels.SetInput()
	}

	c.loss.SetOutput()
	c.loss.SetLoss()
	c.gf.BuildForwardExpand(c.loss)

	if c.pred != nil {
		c.pred.SetOutput()
		c.gf.BuildForwardExpand(c.pred)
	}
	if c.ncorrect != nil {
		c.ncorrect.SetOutput()
		c.gf.BuildForwardExpand(c.ncorrect)
	}

	if c.bufStatic != nil {
		if c.buildType == BuildForward {
			return nil
		}
	} else if c.buildTypeAlloc == BuildForward {
		return c.allocStatic()
	}

	nodes := c.gf.Nodes()
	if c.gradAccs == nil {
		c.gradAccs = make([]*ml.Tensor, len(nodes))
		for i, node := range nodes {
			if (c.accumulate && node.IsParam()) || node.IsLoss() {
				c.gradAccs[i] = c.static.Empty(ml.DTypeF32, node.Ne[:]...).SetName("grad acc for %s", node.Name)
			}
		}

		if c.buildTypeAlloc == BuildOpt && c.optimizer == OptimizerAdamW {
			c.gradM = make([]*ml.Tensor, len(nodes))
			c.gradV = make([]*ml.Tensor, len(nodes))
			for i, node := range nodes {
				if node.IsParam() {
					c.gradM[i] = c.static.Empty(ml.DTypeF32, node.Ne[:]...).SetName("AdamW m for %s", node.Name)
					c.gradV[i] = c.static.Empty(ml.DTypeF32, node.Ne[:]...).SetName("AdamW v for %s", node.Name)
				}
			}
		}
	} else if len(c.gradAccs) != len(nodes) {
		panic(fmt.Sprintf("opt: forward graph changed from %d to %d nodes", len(c.gradAccs), len(nodes)))
	}

	accs := make(map[*ml.Tensor]*ml.Tensor)
	for i, acc := range c.gradAccs {
		if acc != nil {
			accs[nodes[i]] = acc
		}
	}

	c.gbGrad = c.gf.Dup(true)
	c.gbGrad.BuildBackwardExpand(c.compute, accs)

	if c.bufStatic != nil {
		if c.buildType == BuildGrad {
			return nil
		}
	} else if c.buildTypeAlloc == BuildGrad {
		if err := c.allocStatic(); err != nil {
			return err
		}
		c.gbGrad.Reset()
		return nil
	}

	c.gbOpt = c.gbGrad.Dup(true)

	c.optParams = c.cpu.Empty(ml.DTypeF32, c.optimizer.numParams()).SetName("%s_params", c.optimizer)
	c.optParams.SetInput()

	for i := len(nodes) - 1; i >= 0; i-- {
		node := c.gbOpt.Node(i)
		grad := c.gbOpt.Grad(node)
		if grad == nil || !node.IsParam() {
			continue
		}

		var step *ml.Tensor
		switch c.optimizer {
		case OptimizerAdamW:
			step = node.OptStepAdamW(c.compute, grad, c.gradM[i], c.gradV[i], c.optParams).
				SetName("AdamW step for %s", node.Name)
		case OptimizerSGD:
			step = node.OptStepSGD(c.compute, grad, c.optParams).
				SetName("SGD step for %s", node.Name)
		default:
			panic(fmt.Sprintf("opt: unknown optimizer %d", int(c.optimizer)))
		}
		c.gbOpt.BuildForwardExpand(step)
	}

	if c.bufStatic == nil {
		if err := c.allocStatic(); err != nil {
			return err
		}
		c.gbOpt.Reset()
	}

	buf, err := ml.AllocContextTensors(c.cpu, ml.HostBufferType())
	if err != nil {
		return fmt.Errorf("opt: allocating optimizer parameters: %w", err)
	}
	c.bufCPU = buf

	return nil
}

// allocStatic alloziert den statischen Context auf dem ersten Backend
func (c *Context) allocStatic() error {
	bt := c.sched.Backend(0).BufferType()
	buf, err := ml.AllocContextTensors(c.static, bt)
	if err != nil {
		return fmt.Errorf("opt: allocating static tensors on %s: %w", bt.Name(), err)
	}
	c.bufStatic = buf

	slog.Debug("static training tensors allocated",
		"buffer", bt.Name(),
		"tensors", c.static.NumTensors(),
		"capacity", c.static.Capacity(),
		"accumulate", c.accumulate,
		"nodes", len(c.gf.Nodes()))

	return nil
}
