package sim

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DiffEntry represents one call whose decision changed.
type DiffEntry struct {
	File        string `json:"file"`
	Index       int    `json:"index"`
	Tool        string `json:"tool"`
	OldDecision string `json:"old_decision"`
	NewDecision string `json:"new_decision"`
	OldReason   string `json:"old_reason,omitempty"`
	NewReason   string `json:"new_reason,omitempty"`
}

// SimResult holds the complete simulation output.
type SimResult struct {
	CurrentPolicy   string      `json:"current_policy"`
	CandidatePolicy string      `json:"candidate_policy"`
	TotalCalls      int         `json:"total_calls"`
	ChangedCalls    int         `json:"changed_calls"`
	NewlyBlocked    int         `json:"newly_blocked"`
	NewlyAllowed    int         `json:"newly_allowed"`
	Changes         []DiffEntry `json:"changes"`
}

// isPermissive returns true for the one decision that lets a call
// dispatch without further gating.
func isPermissive(decision string) bool {
	return decision == "Allow"
}

// FormatText renders the simulation result as human-readable text.
func FormatText(r *SimResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Simulating %s against %d recorded calls...\n",
		r.CandidatePolicy, r.TotalCalls)

	if len(r.Changes) == 0 {
		b.WriteString("\nNo changes detected.\n")
		return b.String()
	}

	b.WriteString("\n")
	for _, d := range r.Changes {
		fmt.Fprintf(&b, "  CHANGED  %s[%d]  %-16s %s → %s",
			d.File, d.Index, d.Tool, d.OldDecision, d.NewDecision)
		if d.NewReason != "" && d.NewReason != d.OldReason {
			fmt.Fprintf(&b, "  (%s)", d.NewReason)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n%d of %d calls changed.", r.ChangedCalls, r.TotalCalls)
	if r.NewlyBlocked > 0 || r.NewlyAllowed > 0 {
		fmt.Fprintf(&b, " %d newly blocked, %d newly allowed.", r.NewlyBlocked, r.NewlyAllowed)
	}
	b.WriteString("\n")

	return b.String()
}

// FormatJSON renders the simulation result as JSON.
func FormatJSON(r *SimResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sim result: %w", err)
	}
	return string(data), nil
}
