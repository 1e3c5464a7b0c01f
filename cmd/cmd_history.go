// cmd_history.go - Handler fuer train history
// Hauptfunktionen: HistoryHandler, listRuns, showRun
package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ollama/train/envconfig"
	"github.com/ollama/train/history"
)

// HistoryHandler - Listet alle Laeufe oder die Epochen eines Laufs auf
func HistoryHandler(cmd *cobra.Command, args []string) error {
	db, err := history.Open(envconfig.History())
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 0 {
		return listRuns(cmd.OutOrStdout(), db)
	}
	return showRun(cmd.OutOrStdout(), db, args[0])
}

// listRuns - Schreibt die Tabelle aller Laeufe, neueste zuerst
func listRuns(w io.Writer, db *history.DB) error {
	runs, err := db.Runs()
	if err != nil {
		return err
	}

	var data [][]string
	for _, r := range runs {
		data = append(data, []string{
			shortID(r.ID),
			r.Task,
			r.Optimizer,
			r.Loss,
			strconv.FormatInt(r.Epochs, 10),
			r.Status,
			r.StartedAt.Local().Format(time.DateTime),
		})
	}

	renderTable(w, []string{"ID", "TASK", "OPTIMIZER", "LOSS", "EPOCHS", "STATUS", "STARTED"}, data)
	return nil
}

// showRun - Schreibt Parameter und Epochentabelle eines Laufs
func showRun(w io.Writer, db *history.DB, prefix string) error {
	r, err := db.Run(prefix)
	if err != nil {
		return err
	}

	epochs, err := db.Epochs(r.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "run        %s\n", r.ID)
	fmt.Fprintf(w, "task       %s\n", r.Task)
	fmt.Fprintf(w, "optimizer  %s\n", r.Optimizer)
	fmt.Fprintf(w, "loss       %s\n", r.Loss)
	fmt.Fprintf(w, "batch      %d/%d\n", r.BatchLogical, r.BatchPhysical)
	fmt.Fprintf(w, "val split  %g\n", r.ValSplit)
	fmt.Fprintf(w, "seed       %d\n", r.Seed)
	fmt.Fprintf(w, "status     %s\n", r.Status)
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "took       %s\n", formatDuration(r.FinishedAt.Sub(r.StartedAt)))
	}
	fmt.Fprintln(w)

	renderTable(w, epochHeader, epochRows(epochs))
	return nil
}

// shortID - Kuerzt Lauf-IDs fuer Tabellen auf acht Zeichen
func shortID(id string) string {
	return id[:min(8, len(id))]
}
