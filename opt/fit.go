// fit.go - Vollstaendige Trainingsschleife
// Enthaelt: FitParams und Fit ueber mehrere Epochen mit Validierungsanteil
package opt

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ollama/train/ml"
)

// FitParams konfiguriert Fit
type FitParams struct {
	Sched ml.Scheduler

	Compute *ml.Context
	Inputs  *ml.Tensor
	Outputs *ml.Tensor

	Dataset   *Dataset
	LossType  LossType
	Optimizer OptimizerType

	// GetOptimizerParams liefert die Hyperparameter fuer die laufende Epoche,
	// beginnend bei 1. nil verwendet DefaultOptimizerParams.
	GetOptimizerParams func(epoch int64) OptimizerParams

	NEpoch int64

	// NBatchLogical ist die Anzahl Datenpunkte je Optimierer-Schritt
	NBatchLogical int64

	// ValSplit ist der Anteil des Datensatzes fuer die Validierung in [0, 1)
	ValSplit float32

	Silent bool
	Seed   uint64

	// Output erhaelt Epochen-Kopfzeilen und Fortschritt, nil schreibt nach stderr
	Output io.Writer

	// OnEpoch wird nach jeder Epoche mit den Ergebnissen aufgerufen
	OnEpoch func(epoch int64, train, val *Result)
}

// Fit trainiert die Parameter des Graphen von Inputs nach Outputs ueber
// NEpoch Epochen. Die Daten werden vor der ersten Epoche vollstaendig und
// danach je Epoche im Trainingsteil gemischt.
func Fit(p FitParams) error {
	start := time.Now()

	ndata := p.Dataset.Data().Ne[1]
	nbatchPhysical := p.Inputs.Ne[1]
	if ndata%p.NBatchLogical != 0 {
		panic(fmt.Sprintf("opt: ndata %d is not a multiple of the logical batch size %d", ndata, p.NBatchLogical))
	}
	if p.NBatchLogical%nbatchPhysical != 0 {
		panic(fmt.Sprintf("opt: logical batch size %d is not a multiple of the physical batch size %d", p.NBatchLogical, nbatchPhysical))
	}
	if p.ValSplit < 0 || p.ValSplit >= 1 {
		panic(fmt.Sprintf("opt: validation split %v not in [0, 1)", p.ValSplit))
	}
	if p.NEpoch < 1 {
		panic(fmt.Sprintf("opt: invalid number of epochs %d", p.NEpoch))
	}

	optPeriod := p.NBatchLogical / nbatchPhysical
	nbatchesLogical := ndata / p.NBatchLogical

	ibatchSplit := int64(float32(1-p.ValSplit)*float32(nbatchesLogical)) * optPeriod
	idataSplit := ibatchSplit * nbatchPhysical

	out := p.Output
	if out == nil {
		out = os.Stderr
	}

	getParams := p.GetOptimizerParams
	if getParams == nil {
		getParams = func(int64) OptimizerParams { return DefaultOptimizerParams() }
	}

	epoch := int64(1)

	params := DefaultParams(p.Sched, p.LossType)
	params.Compute = p.Compute
	params.Inputs = p.Inputs
	params.Outputs = p.Outputs
	params.OptPeriod = int(optPeriod)
	params.Optimizer = p.Optimizer
	params.Seed = p.Seed
	params.GetOptimizerParams = func() OptimizerParams { return getParams(epoch) }

	c, err := New(params)
	if err != nil {
		return err
	}
	defer c.Free()

	slog.Info("fit",
		"ndata", ndata,
		"epochs", p.NEpoch,
		"batch_logical", p.NBatchLogical,
		"batch_physical", nbatchPhysical,
		"opt_period", optPeriod,
		"train", idataSplit,
		"val", ndata-idataSplit,
		"loss", p.LossType,
		"optimizer", p.Optimizer)

	if p.NBatchLogical < ndata {
		p.Dataset.Shuffle(c.RNG(), -1)
	}

	resultTrain := NewResult()
	resultVal := NewResult()

	var cb EpochCallback
	if !p.Silent {
		cb = NewProgressBar(out).Update
	}

	for ; epoch <= p.NEpoch; epoch++ {
		if p.NBatchLogical < idataSplit {
			p.Dataset.Shuffle(c.RNG(), idataSplit)
		}

		resultTrain.Reset()
		resultVal.Reset()

		if !p.Silent {
			fmt.Fprintf(out, "fit: epoch %04d/%04d:\n", epoch, p.NEpoch)
		}

		if err := Epoch(c, p.Dataset, resultTrain, resultVal, idataSplit, cb, cb); err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		if !p.Silent {
			fmt.Fprintln(out)
		}

		if p.OnEpoch != nil {
			p.OnEpoch(epoch, resultTrain, resultVal)
		}
	}

	if !p.Silent {
		h, m, s := clock(time.Since(start))
		fmt.Fprintf(out, "fit: training took %02d:%02d:%02d\n", h, m, s)
	}

	return nil
}
