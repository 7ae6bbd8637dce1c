// Package sim replays scenario fixtures under a candidate policy and
// reports every call whose decision would change, so a policy edit can
// be reviewed before it is deployed or hot-reloaded.
package sim

import (
	"fmt"

	"github.com/zamburak/zamburak/internal/policy"
	"github.com/zamburak/zamburak/internal/scenario"
)

// Simulate runs every scenario file under both the current and the
// candidate policy and returns per-call decision diffs.
func Simulate(scenarioPaths []string, currentPolicyPath, candidatePolicyPath string) (*SimResult, error) {
	current, _, err := policy.LoadFile(currentPolicyPath)
	if err != nil {
		return nil, fmt.Errorf("load current policy: %w", err)
	}
	candidate, _, err := policy.LoadFile(candidatePolicyPath)
	if err != nil {
		return nil, fmt.Errorf("load candidate policy: %w", err)
	}

	result := &SimResult{
		CurrentPolicy:   currentPolicyPath,
		CandidatePolicy: candidatePolicyPath,
	}

	for _, path := range scenarioPaths {
		s, err := scenario.Load(path)
		if err != nil {
			return nil, err
		}

		oldRun, err := scenario.Run(s, current)
		if err != nil {
			return nil, fmt.Errorf("replay %s under current policy: %w", path, err)
		}
		newRun, err := scenario.Run(s, candidate)
		if err != nil {
			return nil, fmt.Errorf("replay %s under candidate policy: %w", path, err)
		}

		for i := range oldRun.Cases {
			result.TotalCalls++
			oldCase := oldRun.Cases[i]
			newCase := newRun.Cases[i]

			if oldCase.Actual == newCase.Actual && oldCase.ActualReason == newCase.ActualReason {
				continue
			}

			result.Changes = append(result.Changes, DiffEntry{
				File:        path,
				Index:       i,
				Tool:        oldCase.Tool,
				OldDecision: oldCase.Actual,
				NewDecision: newCase.Actual,
				OldReason:   oldCase.ActualReason,
				NewReason:   newCase.ActualReason,
			})
			result.ChangedCalls++

			if isPermissive(oldCase.Actual) && !isPermissive(newCase.Actual) {
				result.NewlyBlocked++
			}
			if !isPermissive(oldCase.Actual) && isPermissive(newCase.Actual) {
				result.NewlyAllowed++
			}
		}
	}

	return result, nil
}
