// cmd_display.go - Display und Output-Funktionen
// Hauptfunktionen: renderTable, formatValue, formatPercent, epochRows
package cmd

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/ollama/train/history"
)

// renderTable - Schreibt eine Tabelle im Stil von ollama list
func renderTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

// formatValue - Formatiert einen Wert mit Unsicherheit, "-" fuer NaN
func formatValue(v, unc float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	if math.IsNaN(unc) {
		return fmt.Sprintf("%.5f", v)
	}
	return fmt.Sprintf("%.5f±%.5f", v, unc)
}

// formatPercent - Formatiert einen Anteil in Prozent mit Unsicherheit
func formatPercent(v, unc float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	if math.IsNaN(unc) {
		return fmt.Sprintf("%.2f%%", 100*v)
	}
	return fmt.Sprintf("%.2f±%.2f%%", 100*v, 100*unc)
}

// formatDuration - Rundet Dauern auf Millisekunden
func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

var epochHeader = []string{"EPOCH", "TRAIN LOSS", "TRAIN ACC", "VAL LOSS", "VAL ACC", "TIME"}

// epochRows - Erzeugt Tabellenzeilen fuer Epochen
func epochRows(epochs []history.Epoch) [][]string {
	data := make([][]string, 0, len(epochs))
	for _, e := range epochs {
		data = append(data, []string{
			strconv.FormatInt(e.Epoch, 10),
			formatValue(e.TrainLoss, e.TrainLossUnc),
			formatPercent(e.TrainAcc, e.TrainAccUnc),
			formatValue(e.ValLoss, e.ValLossUnc),
			formatPercent(e.ValAcc, e.ValAccUnc),
			formatDuration(e.Duration),
		})
	}
	return data
}
