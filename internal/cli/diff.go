package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zamburak/zamburak/internal/policy"
	"github.com/zamburak/zamburak/internal/policydiff"
)

var diffFormat string

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text", "Output format (text|json)")
}

var diffCmd = &cobra.Command{
	Use:   "diff <old.yaml> <new.yaml>",
	Short: "Compare two policy documents and show changes",
	Long: "Loads two policy documents and shows what changed in human-readable terms:\n" +
		"default action, strict mode, budgets, tool rules added/removed/changed.",
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	oldDef, _, err := policy.LoadFile(args[0])
	if err != nil {
		return fmt.Errorf("load old policy: %w", err)
	}

	newDef, _, err := policy.LoadFile(args[1])
	if err != nil {
		return fmt.Errorf("load new policy: %w", err)
	}

	result := policydiff.Diff(oldDef, newDef)
	result.OldPath = args[0]
	result.NewPath = args[1]

	switch diffFormat {
	case "json":
		out, err := policydiff.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(policydiff.FormatText(result))
	}

	return nil
}
