package policy

import (
	"strings"
	"testing"
)

const canonicalYAML = `schema_version: 1
policy_name: personal_assistant_default
default_action: Deny
strict_mode: true
budgets:
  max_values: 100000
  max_parents_per_value: 64
  max_closure_steps: 10000
  max_witness_depth: 32
tools:
  - tool: send_email
    side_effect_class: ExternalWrite
    required_authority: [send_email]
    arg_rules:
      - arg: recipient
        requires_integrity: Verified(AllowlistedPayee)
        forbids_confidentiality: [payroll]
    context_rules:
      deny_if_pc_integrity_contains: [Untrusted]
    default_decision: RequireConfirmation
  - tool: get_weather
    side_effect_class: ExternalRead
    default_decision: Allow
`

func TestLoadCanonicalYAML(t *testing.T) {
	def, audit, err := LoadYAML([]byte(canonicalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if def.SchemaVersion != 1 || def.PolicyName != "personal_assistant_default" {
		t.Errorf("unexpected header: version=%d name=%q", def.SchemaVersion, def.PolicyName)
	}
	if !def.StrictMode || def.DefaultAction != Deny {
		t.Errorf("strict_mode=%v default_action=%s", def.StrictMode, def.DefaultAction)
	}
	if audit.WasMigrated() {
		t.Error("canonical document must not record migration steps")
	}
	if audit.SourceDocumentHash != audit.TargetDocumentHash {
		t.Error("canonical document hashes must match")
	}

	rule, ok := def.Rule("send_email")
	if !ok {
		t.Fatal("send_email rule missing from resolved table")
	}
	if rule.DefaultDecision != RequireConfirmation {
		t.Errorf("send_email default_decision = %s", rule.DefaultDecision)
	}
	if len(rule.ArgRules) != 1 || rule.ArgRules[0].RequiresIntegrity != "Verified(AllowlistedPayee)" {
		t.Errorf("arg rules = %+v", rule.ArgRules)
	}
	if _, ok := def.Rule("delete_files"); ok {
		t.Error("unlisted tool resolved to a rule")
	}
}

func TestLoadCanonicalJSON(t *testing.T) {
	doc := `{
  "schema_version": 1,
  "policy_name": "minimal",
  "default_action": "Deny",
  "strict_mode": true,
  "budgets": {"max_values": 10, "max_parents_per_value": 4, "max_closure_steps": 100, "max_witness_depth": 8},
  "tools": []
}`
	def, _, err := LoadJSON([]byte(doc))
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if def.Budgets.MaxClosureSteps != 100 {
		t.Errorf("max_closure_steps = %d", def.Budgets.MaxClosureSteps)
	}
}

func TestLoadRejectsUnknownSchemaVersion(t *testing.T) {
	doc := strings.Replace(canonicalYAML, "schema_version: 1", "schema_version: 2", 1)
	if _, _, err := LoadYAML([]byte(doc)); err == nil {
		t.Error("schema_version 2 accepted, want fail-closed rejection")
	}

	doc = strings.Replace(canonicalYAML, "schema_version: 1\n", "", 1)
	if _, _, err := LoadYAML([]byte(doc)); err == nil {
		t.Error("missing schema_version accepted, want rejection")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	doc := canonicalYAML + "unexpected_field: true\n"
	if _, _, err := LoadYAML([]byte(doc)); err == nil {
		t.Error("unknown top-level field accepted, want strict rejection")
	}
}

func TestLoadRejectsStructurallyIncompleteRules(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"bad integrity label", strings.Replace(canonicalYAML, "Verified(AllowlistedPayee)", "VerifiedAllowlistedPayee", 1)},
		{"bad side effect", strings.Replace(canonicalYAML, "ExternalRead", "InternalRead", 1)},
		{"bad decision", strings.Replace(canonicalYAML, "RequireConfirmation", "MaybeAllow", 1)},
		{"zero budget", strings.Replace(canonicalYAML, "max_closure_steps: 10000", "max_closure_steps: 0", 1)},
		{"default action confirmation", strings.Replace(canonicalYAML, "default_action: Deny", "default_action: RequireConfirmation", 1)},
	}
	for _, c := range cases {
		if _, _, err := LoadYAML([]byte(c.doc)); err == nil {
			t.Errorf("%s: accepted, want rejection", c.name)
		}
	}
}

func TestLoadRejectsDuplicateTool(t *testing.T) {
	doc := canonicalYAML + `  - tool: get_weather
    side_effect_class: ExternalRead
    default_decision: Deny
`
	if _, _, err := LoadYAML([]byte(doc)); err == nil {
		t.Error("duplicate tool rule accepted, want rejection")
	}
}

func TestDefaultConfigLoads(t *testing.T) {
	def, migration, err := LoadYAML([]byte(DefaultConfigYAML()))
	if err != nil {
		t.Fatalf("default config does not load: %v", err)
	}
	if migration.WasMigrated() {
		t.Error("default config triggered a migration, want canonical schema")
	}
	if def.DefaultAction != Deny {
		t.Errorf("default_action = %s, want Deny", def.DefaultAction)
	}
	if !def.StrictMode {
		t.Error("strict_mode = false, want true")
	}
	if len(def.Tools) == 0 {
		t.Error("default config lists no tools")
	}
}
