// Package cli implements the zamburak command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "zamburak",
	Short: "Policy decision engine for agent tool calls",
	Long: "Mediates tool-call requests against a declarative security policy using\n" +
		"information-flow labels and revocable authority tokens. Answers one\n" +
		"question per call: Allow, Deny, RequireConfirmation, or RequireDraft —\n" +
		"deterministically, fail-closed, and with an auditable justification.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
