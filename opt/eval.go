// eval.go - Allozieren, Ausfuehren und Zuruecksetzen
// Enthaelt: Alloc, Eval und Reset des Optimierungs-Contexts
package opt

import (
	"fmt"
	"log/slog"

	"github.com/ollama/train/logutil"
	"github.com/ollama/train/ml"
)

// graph gibt die Vorlage der Stufe b zurueck
func (c *Context) graph(b BuildType) *ml.Graph {
	switch b {
	case BuildForward:
		return c.gf
	case BuildGrad:
		return c.gbGrad
	default:
		return c.gbOpt
	}
}

// Alloc waehlt den Graphen fuer den naechsten Eval und alloziert ihn. Mit
// backward wird die Gradienten-Stufe gewaehlt, am Ende einer logischen Batch
// die Optimierer-Stufe. Nach einem Fehler ist der Context nicht alloziert.
func (c *Context) Alloc(backward bool) error {
	if c.evalReady {
		panic("opt: Alloc called twice without Eval")
	}

	c.buildType = BuildForward
	if backward {
		c.buildType = BuildGrad
		if (c.optI+1)%c.optPeriod == 0 {
			c.buildType = BuildOpt
		}
		if c.buildType > c.buildTypeAlloc {
			c.buildType = c.buildTypeAlloc
		}
	}

	if !c.staticGraphs {
		if err := c.build(); err != nil {
			return err
		}
	}

	if backward && c.resetGrads {
		c.gbGrad.Reset()
		c.resetGrads = false
	}

	graph := c.graph(c.buildType)
	if graph == nil {
		panic(fmt.Sprintf("opt: no %s graph built", c.buildType))
	}

	if graph == c.allocated {
		c.evalReady = true
		return nil
	}

	c.sched.Reset()
	c.allocated, c.executed = nil, nil

	executed := graph
	if c.staticGraphs {
		executed = newInstance(graph).graph
	}

	if err := c.sched.AllocGraph(executed); err != nil {
		return fmt.Errorf("opt: allocating %s graph: %w", c.buildType, err)
	}

	c.allocated, c.executed = graph, executed
	c.evalReady = true

	logutil.Trace("graph allocated", "build", c.buildType, "nodes", len(executed.Nodes()), "opt_i", c.optI)
	return nil
}

// Eval fuehrt den allozierten Graphen aus und traegt Verlust, Vorhersagen
// und Treffer in result ein. result darf nil sein.
func (c *Context) Eval(result *Result) error {
	if !c.evalReady {
		panic("opt: Eval called without a successful Alloc")
	}

	optStep := c.allocated == c.gbOpt
	if optStep {
		c.setOptimizerParams()
	}

	if err := c.sched.GraphCompute(c.executed); err != nil {
		c.evalReady = false
		c.allocated, c.executed = nil, nil
		return fmt.Errorf("opt: computing %s graph: %w", c.buildType, err)
	}

	if optStep {
		c.iter++
		if c.accumulate {
			c.resetGrads = true
		}
	}
	if c.buildType != BuildForward {
		c.optI = (c.optI + 1) % c.optPeriod
	}

	if !c.staticGraphs {
		c.gf, c.gbGrad, c.gbOpt = nil, nil, nil
		c.allocated, c.executed = nil, nil
	}
	c.evalReady = false

	if result != nil {
		result.add(c)
	}
	return nil
}

// setOptimizerParams schreibt die Hyperparameter des naechsten Schritts
func (c *Context) setOptimizerParams() {
	p := c.getOptimizerParams()

	var values []float32
	switch c.optimizer {
	case OptimizerAdamW:
		values = p.AdamW.values(c.iter)
	case OptimizerSGD:
		values = p.SGD.values()
	}

	c.optParams.SetFloats(values)

	slog.Debug("optimizer step", "optimizer", c.optimizer, "iter", c.iter, "alpha", values[0])
}

// Reset setzt mit optimizer die Momente und den Iterationszaehler zurueck,
// sonst nur die Gradienten-Akkumulatoren
func (c *Context) Reset(optimizer bool) {
	if optimizer {
		c.gbOpt.Reset()
		c.iter = 1
	} else {
		c.gbGrad.Reset()
	}
	c.resetGrads = false
}
