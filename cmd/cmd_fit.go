// cmd_fit.go - Handler fuer train fit
// Hauptfunktionen: FitHandler, runFit
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/train/envconfig"
	"github.com/ollama/train/history"
	"github.com/ollama/train/ml/backend/cpu"
	"github.com/ollama/train/opt"
)

// FitHandler - Trainiert ein MLP auf einem synthetischen Datensatz
func FitHandler(cmd *cobra.Command, args []string) error {
	o, err := fitOptionsFromFlags(cmd)
	if err != nil {
		return err
	}

	// Fortschrittsbalken nur auf einem Terminal
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		o.Silent = true
	}

	db := openHistory()
	if db != nil {
		defer db.Close()
	}

	return runFit(cmd.OutOrStdout(), cmd.ErrOrStderr(), o, db)
}

// runFit - Fuehrt einen Trainingslauf aus, schreibt die Epochentabelle nach
// out und zeichnet den Lauf in db auf, falls db nicht nil ist
func runFit(out, progress io.Writer, o fitOptions, db *history.DB) (err error) {
	sched := cpu.NewScheduler(cpu.New(cpu.Options{
		NumThreads:    o.Threads,
		MaxBufferSize: int(envconfig.MaxBufferSize()),
	}))
	defer sched.Close()

	// Daten und Gewichte teilen sich einen Generator, Fit mischt mit eigenem Seed
	rng := rand.New(rand.NewPCG(o.Seed, o.Seed^0x9e3779b97f4a7c15))

	ds, err := syntheticDataset(o.Task, o.Features, o.Classes, o.NData, rng)
	if err != nil {
		return err
	}
	defer ds.Free()

	m, err := newMLP(o.Features, o.Hidden, o.outputs(), o.UBatch, rng)
	if err != nil {
		return err
	}
	defer m.Free()

	slog.Info("model", "task", o.Task, "layers", len(m.layers), "params", m.NumParams())

	var runID string
	if db != nil {
		runID, err = db.CreateRun(history.Run{
			Task:          o.Task,
			Optimizer:     o.Optimizer.String(),
			Loss:          o.Loss.String(),
			Epochs:        o.Epochs,
			BatchLogical:  o.Batch,
			BatchPhysical: o.UBatch,
			ValSplit:      float64(o.ValSplit),
			Seed:          o.Seed,
		})
		if err != nil {
			slog.Warn("recording run failed", "error", err)
			db = nil
		} else {
			defer func() {
				status := history.StatusFinished
				if err != nil {
					status = history.StatusFailed
				}
				if ferr := db.FinishRun(runID, status); ferr != nil {
					slog.Warn("finishing run failed", "run", runID, "error", ferr)
				}
			}()
		}
	}

	var epochs []history.Epoch
	last := time.Now()

	err = opt.Fit(opt.FitParams{
		Sched:              sched,
		Compute:            m.compute,
		Inputs:             m.inputs,
		Outputs:            m.outputs,
		Dataset:            ds,
		LossType:           o.Loss,
		Optimizer:          o.Optimizer,
		GetOptimizerParams: o.optimizerParams,
		NEpoch:             o.Epochs,
		NBatchLogical:      o.Batch,
		ValSplit:           o.ValSplit,
		Silent:             o.Silent,
		Seed:               o.Seed,
		Output:             progress,
		OnEpoch: func(epoch int64, train, val *opt.Result) {
			now := time.Now()
			e := epochFromResults(epoch, train, val, now.Sub(last))
			last = now

			epochs = append(epochs, e)
			if db != nil {
				if err := db.RecordEpoch(runID, e); err != nil {
					slog.Warn("recording epoch failed", "run", runID, "epoch", epoch, "error", err)
				}
			}
		},
	})
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	renderTable(out, epochHeader, epochRows(epochs))
	if runID != "" {
		fmt.Fprintf(out, "\nrun %s\n", runID)
	}

	return nil
}
