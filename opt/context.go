// context.go - Optimierungs-Context
// Enthaelt: BuildType, Params, DefaultParams, Context, New, PrepareAlloc,
// Zugriffsfunktionen und Free
package opt

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/ollama/train/ml"
)

// BuildType ist die Stufe eines Trainingsgraphen. Jede Stufe enthaelt die
// vorherige.
type BuildType int

const (
	// BuildForward berechnet nur Ausgaben und Verlust
	BuildForward BuildType = iota

	// BuildGrad berechnet zusaetzlich die Gradienten
	BuildGrad

	// BuildOpt fuehrt zusaetzlich einen Optimierer-Schritt aus
	BuildOpt
)

func (b BuildType) String() string {
	switch b {
	case BuildForward:
		return "forward"
	case BuildGrad:
		return "grad"
	case BuildOpt:
		return "opt"
	default:
		return fmt.Sprintf("BuildType(%d)", int(b))
	}
}

// staticResults ist die Anzahl der Tensor-Plaetze fuer Labels, Verlust,
// Vorhersage und Trefferzaehlung im statischen Context
const staticResults = 9

// Params konfiguriert einen Context. Mit Compute, Inputs und Outputs
// arbeitet der Context mit statischen Graphen, die einmal gebaut werden.
// Ohne diese muss vor jedem Alloc PrepareAlloc aufgerufen werden.
type Params struct {
	Sched ml.Scheduler

	Compute *ml.Context
	Inputs  *ml.Tensor
	Outputs *ml.Tensor

	LossType  LossType
	BuildType BuildType

	// OptPeriod ist die Anzahl physischer Batches je Optimierer-Schritt
	OptPeriod int

	GetOptimizerParams OptimizerParamsFunc
	Optimizer          OptimizerType

	// Seed initialisiert den Zufallsgenerator fuer das Mischen der Daten
	Seed uint64
}

// DefaultParams gibt Parameter fuer einen dynamischen Context mit AdamW zurueck
func DefaultParams(sched ml.Scheduler, lossType LossType) Params {
	return Params{
		Sched:              sched,
		LossType:           lossType,
		BuildType:          BuildOpt,
		OptPeriod:          1,
		GetOptimizerParams: ConstantOptimizerParams(DefaultOptimizerParams()),
		Optimizer:          OptimizerAdamW,
	}
}

// Context haelt den Zustand eines Trainings: Graphen aller Stufen,
// Gradienten-Akkumulatoren, Optimierer-Momente und Zaehler.
type Context struct {
	sched ml.Scheduler

	// static haelt Akkumulatoren, Momente und bei statischen Graphen die
	// Ergebnis-Tensoren, cpu die Optimierer-Hyperparameter
	static    *ml.Context
	cpu       *ml.Context
	compute   *ml.Context
	bufStatic ml.Buffer
	bufCPU    ml.Buffer

	rng *rand.Rand

	lossType       LossType
	buildType      BuildType
	buildTypeAlloc BuildType

	inputs   *ml.Tensor
	outputs  *ml.Tensor
	labels   *ml.Tensor
	loss     *ml.Tensor
	pred     *ml.Tensor
	ncorrect *ml.Tensor

	gf     *ml.Graph
	gbGrad *ml.Graph
	gbOpt  *ml.Graph

	staticGraphs bool
	evalReady    bool
	accumulate   bool

	// allocated ist die Vorlage des allozierten Graphen, executed der
	// tatsaechlich ausgefuehrte Graph (bei statischen Graphen eine Kopie)
	allocated *ml.Graph
	executed  *ml.Graph

	gradAccs []*ml.Tensor
	gradM    []*ml.Tensor
	gradV    []*ml.Tensor

	iter      int64
	optPeriod int
	optI      int

	// resetGrads wird nach einem Optimierer-Schritt gesetzt, die
	// Akkumulatoren werden vor dem naechsten Rueckwaertsdurchlauf geloescht
	resetGrads bool

	lossPerDatapoint bool

	getOptimizerParams OptimizerParamsFunc
	optimizer          OptimizerType
	optParams          *ml.Tensor
}

// New erstellt einen Context. Bei statischen Graphen werden alle Graphen
// sofort gebaut und Akkumulatoren und Momente alloziert.
func New(p Params) (*Context, error) {
	if p.Sched == nil {
		panic("opt: no scheduler given")
	}
	if p.OptPeriod < 1 {
		panic(fmt.Sprintf("opt: invalid optimizer period %d", p.OptPeriod))
	}
	if p.BuildType < BuildForward || p.BuildType > BuildOpt {
		panic(fmt.Sprintf("opt: invalid build type %d", int(p.BuildType)))
	}
	if p.GetOptimizerParams == nil {
		p.GetOptimizerParams = ConstantOptimizerParams(DefaultOptimizerParams())
	}

	c := &Context{
		sched:              p.Sched,
		compute:            p.Compute,
		rng:                rand.New(rand.NewPCG(p.Seed, p.Seed)),
		lossType:           p.LossType,
		buildType:          p.BuildType,
		buildTypeAlloc:     p.BuildType,
		inputs:             p.Inputs,
		outputs:            p.Outputs,
		iter:               1,
		optPeriod:          p.OptPeriod,
		getOptimizerParams: p.GetOptimizerParams,
		optimizer:          p.Optimizer,
		staticGraphs:       p.Compute != nil,
	}

	if !c.staticGraphs {
		if p.Inputs != nil || p.Outputs != nil {
			panic("opt: inputs and outputs require a compute context")
		}
		return c, nil
	}

	if p.Inputs == nil || p.Outputs == nil {
		panic("opt: static graphs require inputs and outputs")
	}

	c.gf = ml.NewGraph(ml.DefaultGraphSize, true)
	c.gf.BuildForwardExpand(c.outputs)

	if err := c.build(); err != nil {
		c.Free()
		return nil, err
	}

	return c, nil
}

// PrepareAlloc setzt den Graphen fuer das naechste Alloc dynamischer Contexts
func (c *Context) PrepareAlloc(compute *ml.Context, gf *ml.Graph, inputs, outputs *ml.Tensor) {
	if c.staticGraphs {
		panic("opt: PrepareAlloc is only valid without static graphs")
	}
	if c.evalReady {
		panic("opt: PrepareAlloc between Alloc and Eval")
	}

	c.compute = compute
	c.gf = gf
	c.inputs = inputs
	c.outputs = outputs
}

// StaticGraphs meldet, ob die Graphen einmalig gebaut wurden
func (c *Context) StaticGraphs() bool { return c.staticGraphs }

func (c *Context) Inputs() *ml.Tensor  { return c.inputs }
func (c *Context) Outputs() *ml.Tensor { return c.outputs }

// Labels gibt den Label-Tensor zurueck, nil fuer Verluste ohne Labels
func (c *Context) Labels() *ml.Tensor { return c.labels }

func (c *Context) Loss() *ml.Tensor { return c.loss }

// Pred gibt die Vorhersagen je Datenpunkt zurueck, nur bei Kreuzentropie
func (c *Context) Pred() *ml.Tensor { return c.pred }

// NCorrect gibt die Anzahl korrekter Vorhersagen zurueck, nur bei Kreuzentropie
func (c *Context) NCorrect() *ml.Tensor { return c.ncorrect }

// GradAcc gibt den Gradienten-Akkumulator von node zurueck oder nil
func (c *Context) GradAcc(node *ml.Tensor) *ml.Tensor {
	switch {
	case c.gbOpt != nil:
		return c.gbOpt.GradAcc(node)
	case c.gbGrad != nil:
		return c.gbGrad.GradAcc(node)
	default:
		return nil
	}
}

// Iter gibt die Nummer des naechsten Optimierer-Schritts zurueck, beginnend bei 1
func (c *Context) Iter() int64 { return c.iter }

func (c *Context) OptPeriod() int { return c.optPeriod }

// BuildType gibt die Stufe des zuletzt gewaehlten Graphen zurueck
func (c *Context) BuildType() BuildType { return c.buildType }

// RNG gibt den Zufallsgenerator zum Mischen von Datensaetzen zurueck
func (c *Context) RNG() *rand.Rand { return c.rng }

func (c *Context) OptimizerType() OptimizerType { return c.optimizer }

func (c *Context) LossType() LossType { return c.lossType }

// Free gibt die statischen Buffer frei. Der Context ist danach unbrauchbar.
func (c *Context) Free() {
	if c.bufStatic != nil {
		c.bufStatic.Free()
		c.bufStatic = nil
	}
	if c.bufCPU != nil {
		c.bufCPU.Free()
		c.bufCPU = nil
	}
	if c.static != nil {
		c.static.Free()
	}
	if c.cpu != nil {
		c.cpu.Free()
	}

	c.allocated = nil
	c.executed = nil
	c.evalReady = false

	slog.Debug("optimization context freed", "iter", c.iter)
}
