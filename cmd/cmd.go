// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ollama/train/envconfig"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "train",
		Short:         "Train small models with the ggml-style optimizer",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	fitCmd := newFitCmd()
	historyCmd := newHistoryCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()

	appendEnvDocs(fitCmd, []envconfig.EnvVar{
		envVars["TRAIN_DEBUG"],
		envVars["TRAIN_NUM_THREADS"],
		envVars["TRAIN_MAX_BUFFER_SIZE"],
		envVars["TRAIN_SEED"],
		envVars["TRAIN_HISTORY"],
		envVars["TRAIN_NOHISTORY"],
	})
	appendEnvDocs(historyCmd, []envconfig.EnvVar{envVars["TRAIN_HISTORY"]})

	rootCmd.AddCommand(fitCmd, historyCmd)

	return rootCmd
}
