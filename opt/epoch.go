// epoch.go - Ein Durchlauf ueber den Datensatz
// Enthaelt: EpochCallback und Epoch mit Trainings- und Validierungsteil
package opt

import (
	"fmt"
	"time"
)

// EpochCallback wird nach jeder physischen Batch aufgerufen. ibatch zaehlt
// ab 1 innerhalb des Trainings- bzw. Validierungsteils, start ist dessen
// Startzeit.
type EpochCallback func(train bool, c *Context, ds *Dataset, result *Result, ibatch, ibatchMax int64, start time.Time)

// Epoch trainiert auf den ersten idataSplit Datenpunkten und validiert auf
// dem Rest. Ein negatives idataSplit trainiert auf allen Datenpunkten.
// resultTrain, resultEval und die Callbacks duerfen nil sein.
func Epoch(c *Context, ds *Dataset, resultTrain, resultEval *Result, idataSplit int64, cbTrain, cbEval EpochCallback) error {
	if !c.StaticGraphs() {
		panic("opt: Epoch requires static graphs")
	}

	inputs, labels := c.Inputs(), c.Labels()
	data := ds.Data()
	if data.Ne[0] != inputs.Ne[0] {
		panic(fmt.Sprintf("opt: datapoint size %d does not match input size %d", data.Ne[0], inputs.Ne[0]))
	}

	ndata := data.Ne[1]
	ndataBatch := inputs.Ne[1]
	if ndata%ndataBatch != 0 {
		panic(fmt.Sprintf("opt: ndata %d is not a multiple of the batch size %d", ndata, ndataBatch))
	}
	nbatches := ndata / ndataBatch

	if idataSplit < 0 {
		idataSplit = ndata
	}
	if idataSplit%ndataBatch != 0 {
		panic(fmt.Sprintf("opt: split %d is not a multiple of the batch size %d", idataSplit, ndataBatch))
	}
	ibatchSplit := idataSplit / ndataBatch

	start := time.Now()
	ibatch := int64(0)
	for ; ibatch < ibatchSplit; ibatch++ {
		if err := c.Alloc(true); err != nil {
			return err
		}
		ds.GetBatch(inputs, labels, ibatch)
		if err := c.Eval(resultTrain); err != nil {
			return err
		}
		if cbTrain != nil {
			cbTrain(true, c, ds, resultTrain, ibatch+1, ibatchSplit, start)
		}
	}

	start = time.Now()
	for ; ibatch < nbatches; ibatch++ {
		if err := c.Alloc(false); err != nil {
			return err
		}
		ds.GetBatch(inputs, labels, ibatch)
		if err := c.Eval(resultEval); err != nil {
			return err
		}
		if cbEval != nil {
			cbEval(false, c, ds, resultEval, ibatch+1-ibatchSplit, nbatches-ibatchSplit, start)
		}
	}

	return nil
}
