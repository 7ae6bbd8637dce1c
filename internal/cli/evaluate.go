package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zamburak/zamburak/internal/scenario"
)

var (
	evaluatePolicy  string
	evaluateRequest string
)

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVar(&evaluatePolicy, "policy", "", "Path to policy document (required)")
	evaluateCmd.Flags().StringVar(&evaluateRequest, "request", "", "Path to request YAML (values, tokens, calls) (required)")
	evaluateCmd.MarkFlagRequired("policy")
	evaluateCmd.MarkFlagRequired("request")
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate tool-call requests against a policy",
	Long: "Loads a request file declaring values, tokens, and calls, runs each\n" +
		"call through the decision cascade, and prints the decisions as JSON.\n" +
		"Unlike check, no expectations are required; this is a dry run.",
	RunE: runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	result, err := scenario.LoadAndRun(evaluateRequest, evaluatePolicy)
	if err != nil {
		return err
	}
	out, err := scenario.FormatJSON([]*scenario.RunResult{result})
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
