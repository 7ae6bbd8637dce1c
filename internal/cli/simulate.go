package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zamburak/zamburak/internal/sim"
)

var (
	simScenario  string
	simPolicy    string
	simCandidate string
	simFormat    string
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simScenario, "scenario", "", "Glob pattern for scenario YAML files (required)")
	simulateCmd.Flags().StringVar(&simPolicy, "policy", "", "Path to the current policy document (required)")
	simulateCmd.Flags().StringVar(&simCandidate, "candidate", "", "Path to the candidate policy document (required)")
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "text", "Output format (text|json)")
	simulateCmd.MarkFlagRequired("scenario")
	simulateCmd.MarkFlagRequired("policy")
	simulateCmd.MarkFlagRequired("candidate")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay scenarios against a candidate policy and show decision diffs",
	Long: "Replays every call in the matched scenario files under both the current\n" +
		"and the candidate policy, then shows which decisions changed.\n\n" +
		"Use this to preview a policy edit before deploying or hot-reloading it.",
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	matches, err := filepath.Glob(simScenario)
	if err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no scenario files match pattern: %s", simScenario)
	}

	result, err := sim.Simulate(matches, simPolicy, simCandidate)
	if err != nil {
		return err
	}

	switch simFormat {
	case "json":
		out, err := sim.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(sim.FormatText(result))
	}

	return nil
}
