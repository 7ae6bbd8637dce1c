package policydiff

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/zamburak/zamburak/internal/policy"
)

// Change represents a scalar field change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// ToolChange represents a tool rule addition, removal, or modification.
type ToolChange struct {
	Type string `json:"type"` // "added", "removed", "changed"
	Tool string `json:"tool"`
}

// DiffResult holds the comparison of two policy documents.
type DiffResult struct {
	OldPath     string       `json:"old_path"`
	NewPath     string       `json:"new_path"`
	Changes     []Change     `json:"changes"`
	ToolChanges []ToolChange `json:"tool_changes"`
	HasChanges  bool         `json:"has_changes"`
}

// Diff compares two PolicyDefinitions and returns the differences.
func Diff(old, new *policy.PolicyDefinition) *DiffResult {
	r := &DiffResult{}

	if old.PolicyName != new.PolicyName {
		r.Changes = append(r.Changes, Change{
			Field: "policy_name",
			Old:   old.PolicyName,
			New:   new.PolicyName,
		})
	}

	if old.DefaultAction != new.DefaultAction {
		r.Changes = append(r.Changes, Change{
			Field:   "default_action",
			Old:     string(old.DefaultAction),
			New:     string(new.DefaultAction),
			Comment: actionComment(old.DefaultAction, new.DefaultAction),
		})
	}

	if old.StrictMode != new.StrictMode {
		comment := "looser"
		if new.StrictMode {
			comment = "stricter"
		}
		r.Changes = append(r.Changes, Change{
			Field:   "strict_mode",
			Old:     fmt.Sprintf("%t", old.StrictMode),
			New:     fmt.Sprintf("%t", new.StrictMode),
			Comment: comment,
		})
	}

	// Lower budgets fail closed sooner, so lower is stricter.
	diffInt(r, "budgets.max_values",
		old.Budgets.MaxValues, new.Budgets.MaxValues)
	diffInt(r, "budgets.max_parents_per_value",
		old.Budgets.MaxParentsPerValue, new.Budgets.MaxParentsPerValue)
	diffInt(r, "budgets.max_closure_steps",
		old.Budgets.MaxClosureSteps, new.Budgets.MaxClosureSteps)
	diffInt(r, "budgets.max_witness_depth",
		old.Budgets.MaxWitnessDepth, new.Budgets.MaxWitnessDepth)

	diffTools(r, old.Tools, new.Tools)

	r.HasChanges = len(r.Changes) > 0 || len(r.ToolChanges) > 0
	return r
}

func diffInt(r *DiffResult, field string, old, new int) {
	if old != new {
		comment := "stricter"
		if new > old {
			comment = "looser"
		}
		r.Changes = append(r.Changes, Change{
			Field:   field,
			Old:     fmt.Sprintf("%d", old),
			New:     fmt.Sprintf("%d", new),
			Comment: comment,
		})
	}
}

// actionRank orders actions from most permissive to most restrictive.
func actionRank(a policy.Action) int {
	switch a {
	case policy.Allow:
		return 0
	case policy.RequireDraft:
		return 1
	case policy.RequireConfirmation:
		return 2
	default:
		return 3
	}
}

func actionComment(old, new policy.Action) string {
	if actionRank(new) > actionRank(old) {
		return "stricter"
	}
	return "looser"
}

func diffTools(r *DiffResult, oldTools, newTools []policy.ToolRule) {
	oldMap := make(map[string]policy.ToolRule)
	for _, t := range oldTools {
		oldMap[t.Tool] = t
	}
	newMap := make(map[string]policy.ToolRule)
	for _, t := range newTools {
		newMap[t.Tool] = t
	}

	for _, t := range newTools {
		oldRule, exists := oldMap[t.Tool]
		if !exists {
			r.ToolChanges = append(r.ToolChanges, ToolChange{
				Type: "added",
				Tool: fmt.Sprintf("%s → %s", t.Tool, t.DefaultDecision),
			})
			continue
		}
		if desc := describeRuleChange(oldRule, t); desc != "" {
			r.ToolChanges = append(r.ToolChanges, ToolChange{
				Type: "changed",
				Tool: fmt.Sprintf("%s: %s", t.Tool, desc),
			})
		}
	}

	for _, t := range oldTools {
		if _, exists := newMap[t.Tool]; !exists {
			r.ToolChanges = append(r.ToolChanges, ToolChange{
				Type: "removed",
				Tool: fmt.Sprintf("%s → %s", t.Tool, t.DefaultDecision),
			})
		}
	}
}

// describeRuleChange returns a short summary of what changed between two
// rules for the same tool, or "" when they are equivalent.
func describeRuleChange(old, new policy.ToolRule) string {
	var parts []string

	if old.DefaultDecision != new.DefaultDecision {
		parts = append(parts, fmt.Sprintf("default %s → %s",
			old.DefaultDecision, new.DefaultDecision))
	}
	if old.SideEffectClass != new.SideEffectClass {
		parts = append(parts, fmt.Sprintf("side_effect_class %s → %s",
			old.SideEffectClass, new.SideEffectClass))
	}
	if !reflect.DeepEqual(old.RequiredAuthority, new.RequiredAuthority) {
		parts = append(parts, fmt.Sprintf("required_authority %v → %v",
			old.RequiredAuthority, new.RequiredAuthority))
	}
	if !reflect.DeepEqual(old.ArgRules, new.ArgRules) {
		parts = append(parts, "arg_rules changed")
	}
	if !reflect.DeepEqual(old.ContextRules, new.ContextRules) {
		parts = append(parts, "context_rules changed")
	}

	return strings.Join(parts, ", ")
}
