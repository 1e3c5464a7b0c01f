// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newFitCmd, newHistoryCmd
package cmd

import (
	"github.com/spf13/cobra"
)

// newFitCmd - Erstellt den fit Command
func newFitCmd() *cobra.Command {
	fitCmd := &cobra.Command{
		Use:   "fit",
		Short: "Train a multilayer perceptron on a synthetic dataset",
		Args:  cobra.NoArgs,
		RunE:  FitHandler,
	}

	fitCmd.Flags().String("task", "classify", "Synthetic task: classify or regress")
	fitCmd.Flags().Int64("features", 2, "Number of input features per datapoint")
	fitCmd.Flags().Int64("classes", 3, "Number of classes for the classify task")
	fitCmd.Flags().Int64("ndata", 1024, "Number of datapoints")
	fitCmd.Flags().IntSlice("hidden", []int{32}, "Sizes of the hidden layers")
	fitCmd.Flags().Int64("epochs", 10, "Number of epochs")
	fitCmd.Flags().Int64("batch", 64, "Logical batch size, datapoints per optimizer step")
	fitCmd.Flags().Int64("ubatch", 32, "Physical batch size, datapoints per evaluation")
	fitCmd.Flags().Float32("val-split", 0.1, "Fraction of the data used for validation")
	fitCmd.Flags().String("optimizer", "adamw", "Optimizer: adamw or sgd")
	fitCmd.Flags().String("loss", "", "Loss: cross_entropy or mse (default depends on the task)")
	fitCmd.Flags().Float32("lr", 1e-3, "Learning rate")
	fitCmd.Flags().Float32("wd", 0, "Weight decay")
	fitCmd.Flags().Uint64("seed", 0, "Seed for data, weights and shuffling (default $TRAIN_SEED)")
	fitCmd.Flags().Int("threads", 0, "Number of CPU threads (default $TRAIN_NUM_THREADS)")
	fitCmd.Flags().Bool("silent", false, "Hide the progress bar")

	return fitCmd
}

// newHistoryCmd - Erstellt den history Command
func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "history [RUN]",
		Aliases: []string{"ls"},
		Short:   "List recorded training runs or the epochs of one run",
		Args:    cobra.MaximumNArgs(1),
		RunE:    HistoryHandler,
	}
}
