// cmd_utils.go - Gemeinsame Hilfsfunktionen
// Hauptfunktionen: fitOptionsFromFlags, validate, epochFromResults, openHistory
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/ollama/train/envconfig"
	"github.com/ollama/train/history"
	"github.com/ollama/train/opt"
)

// fitOptions - Optionen fuer einen Trainingslauf
type fitOptions struct {
	Task      string
	Features  int64
	Classes   int64
	NData     int64
	Hidden    []int
	Epochs    int64
	Batch     int64
	UBatch    int64
	ValSplit  float32
	Optimizer opt.OptimizerType
	Loss      opt.LossType
	LR        float32
	WD        float32
	Seed      uint64
	Threads   int
	Silent    bool
}

// fitOptionsFromFlags - Liest die Flags des fit Commands
// Seed und Threads fallen auf die Environment-Variablen zurueck
func fitOptionsFromFlags(cmd *cobra.Command) (fitOptions, error) {
	var o fitOptions
	var err error
	flags := cmd.Flags()

	if o.Task, err = flags.GetString("task"); err != nil {
		return o, err
	}
	if o.Features, err = flags.GetInt64("features"); err != nil {
		return o, err
	}
	if o.Classes, err = flags.GetInt64("classes"); err != nil {
		return o, err
	}
	if o.NData, err = flags.GetInt64("ndata"); err != nil {
		return o, err
	}
	if o.Hidden, err = flags.GetIntSlice("hidden"); err != nil {
		return o, err
	}
	if o.Epochs, err = flags.GetInt64("epochs"); err != nil {
		return o, err
	}
	if o.Batch, err = flags.GetInt64("batch"); err != nil {
		return o, err
	}
	if o.UBatch, err = flags.GetInt64("ubatch"); err != nil {
		return o, err
	}
	if o.ValSplit, err = flags.GetFloat32("val-split"); err != nil {
		return o, err
	}
	if o.LR, err = flags.GetFloat32("lr"); err != nil {
		return o, err
	}
	if o.WD, err = flags.GetFloat32("wd"); err != nil {
		return o, err
	}
	if o.Silent, err = flags.GetBool("silent"); err != nil {
		return o, err
	}

	optimizer, err := flags.GetString("optimizer")
	if err != nil {
		return o, err
	}
	if o.Optimizer, err = opt.ParseOptimizerType(optimizer); err != nil {
		return o, err
	}

	loss, err := flags.GetString("loss")
	if err != nil {
		return o, err
	}
	if loss == "" {
		loss = "cross_entropy"
		if o.Task == taskRegress {
			loss = "mse"
		}
	}
	if o.Loss, err = opt.ParseLossType(loss); err != nil {
		return o, err
	}

	o.Seed = envconfig.Seed()
	if flags.Changed("seed") {
		if o.Seed, err = flags.GetUint64("seed"); err != nil {
			return o, err
		}
	}

	o.Threads = int(envconfig.NumThreads())
	if flags.Changed("threads") {
		if o.Threads, err = flags.GetInt("threads"); err != nil {
			return o, err
		}
	}

	return o, o.validate()
}

// validate - Prueft die Optionen, bevor Fit bei Verstoessen abbricht
func (o fitOptions) validate() error {
	var errs []error

	switch o.Task {
	case taskClassify, taskRegress:
	default:
		errs = append(errs, fmt.Errorf("unknown task %q", o.Task))
	}
	if o.Features < 1 {
		errs = append(errs, fmt.Errorf("features must be positive, got %d", o.Features))
	}
	if o.Task == taskClassify && o.Classes < 2 {
		errs = append(errs, fmt.Errorf("classify needs at least 2 classes, got %d", o.Classes))
	}
	if !o.Loss.NeedsLabels() {
		errs = append(errs, fmt.Errorf("loss %s does not use labels", o.Loss))
	}
	if o.Task == taskRegress && o.Loss == opt.LossCrossEntropy {
		errs = append(errs, errors.New("cross_entropy needs the classify task"))
	}
	if o.Epochs < 1 {
		errs = append(errs, fmt.Errorf("epochs must be positive, got %d", o.Epochs))
	}
	if o.UBatch < 1 || o.Batch < 1 {
		errs = append(errs, fmt.Errorf("batch sizes must be positive, got %d and %d", o.Batch, o.UBatch))
	} else {
		if o.Batch%o.UBatch != 0 {
			errs = append(errs, fmt.Errorf("batch %d is not a multiple of ubatch %d", o.Batch, o.UBatch))
		}
		if o.NData < o.Batch || o.NData%o.Batch != 0 {
			errs = append(errs, fmt.Errorf("ndata %d is not a multiple of batch %d", o.NData, o.Batch))
		}
	}
	if o.ValSplit < 0 || o.ValSplit >= 1 {
		errs = append(errs, fmt.Errorf("val-split %v not in [0, 1)", o.ValSplit))
	}
	if o.LR <= 0 {
		errs = append(errs, fmt.Errorf("learning rate must be positive, got %v", o.LR))
	}
	if o.WD < 0 {
		errs = append(errs, fmt.Errorf("weight decay must not be negative, got %v", o.WD))
	}

	return errors.Join(errs...)
}

// optimizerParams - Hyperparameter mit Lernrate und Weight Decay der Optionen
func (o fitOptions) optimizerParams(int64) opt.OptimizerParams {
	p := opt.DefaultOptimizerParams()
	p.AdamW.Alpha = o.LR
	p.AdamW.WD = o.WD
	p.SGD.Alpha = o.LR
	p.SGD.WD = o.WD
	return p
}

// outputs - Anzahl der Modellausgaben fuer die Aufgabe
func (o fitOptions) outputs() int64 {
	if o.Task == taskClassify {
		return o.Classes
	}
	return 1
}

// epochFromResults - Fasst die Ergebnisse einer Epoche zusammen
func epochFromResults(epoch int64, train, val *opt.Result, d time.Duration) history.Epoch {
	e := history.Epoch{Epoch: epoch, Duration: d}
	e.TrainLoss, e.TrainLossUnc = resultLoss(train)
	e.TrainAcc, e.TrainAccUnc = train.Accuracy()
	e.ValLoss, e.ValLossUnc = resultLoss(val)
	e.ValAcc, e.ValAccUnc = val.Accuracy()
	return e
}

// resultLoss - Verlust eines Ergebnisses, NaN ohne Datenpunkte
func resultLoss(r *opt.Result) (float64, float64) {
	if r.NData() == 0 {
		nan := math.NaN()
		return nan, nan
	}
	return r.Loss()
}

// openHistory - Oeffnet die History, nil wenn deaktiviert oder nicht verfuegbar
func openHistory() *history.DB {
	if envconfig.NoHistory() {
		return nil
	}

	db, err := history.Open(envconfig.History())
	if err != nil {
		slog.Warn("training history unavailable", "path", envconfig.History(), "error", err)
		return nil
	}
	return db
}
