// Package policy loads and validates declarative policy documents. A
// loaded PolicyDefinition is immutable, read-only input to evaluation;
// structural problems are rejected at load time so the decision cascade
// never sees a half-formed rule table.
package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zamburak/zamburak/internal/label"
)

// CanonicalSchemaVersion is the only schema version evaluated at runtime.
// Older documents go through explicit migration (see migrate.go).
const CanonicalSchemaVersion = 1

// Action is the policy vocabulary for decisions. The strings match the
// policy document wire format.
type Action string

const (
	Allow               Action = "Allow"
	Deny                Action = "Deny"
	RequireConfirmation Action = "RequireConfirmation"
	RequireDraft        Action = "RequireDraft"
)

// SideEffectClass classifies a tool's externally visible effect.
type SideEffectClass string

const (
	ExternalRead  SideEffectClass = "ExternalRead"
	ExternalWrite SideEffectClass = "ExternalWrite"
)

// Budgets caps provenance analysis per the loaded policy.
type Budgets struct {
	MaxValues          int `yaml:"max_values" json:"max_values"`
	MaxParentsPerValue int `yaml:"max_parents_per_value" json:"max_parents_per_value"`
	MaxClosureSteps    int `yaml:"max_closure_steps" json:"max_closure_steps"`
	MaxWitnessDepth    int `yaml:"max_witness_depth" json:"max_witness_depth"`
}

// ArgRule constrains one named tool-call argument.
type ArgRule struct {
	Arg string `yaml:"arg" json:"arg"`
	// RequiresIntegrity is an integrity label in document form, e.g.
	// "Trusted" or "Verified(AllowlistedPayee)". Empty means no
	// requirement.
	RequiresIntegrity string `yaml:"requires_integrity,omitempty" json:"requires_integrity,omitempty"`
	// ForbidsConfidentiality lists tags that must not reach the argument.
	ForbidsConfidentiality []string `yaml:"forbids_confidentiality,omitempty" json:"forbids_confidentiality,omitempty"`
}

// ContextRules constrains the control context a tool may be invoked from.
type ContextRules struct {
	DenyIfPCIntegrityContains []string `yaml:"deny_if_pc_integrity_contains,omitempty" json:"deny_if_pc_integrity_contains,omitempty"`
}

// ToolRule is the per-tool policy entry.
type ToolRule struct {
	Tool              string          `yaml:"tool" json:"tool"`
	SideEffectClass   SideEffectClass `yaml:"side_effect_class" json:"side_effect_class"`
	RequiredAuthority []string        `yaml:"required_authority,omitempty" json:"required_authority,omitempty"`
	ArgRules          []ArgRule       `yaml:"arg_rules,omitempty" json:"arg_rules,omitempty"`
	ContextRules      *ContextRules   `yaml:"context_rules,omitempty" json:"context_rules,omitempty"`
	DefaultDecision   Action          `yaml:"default_decision" json:"default_decision"`
}

// PolicyDefinition is one validated policy document.
type PolicyDefinition struct {
	SchemaVersion int        `yaml:"schema_version" json:"schema_version"`
	PolicyName    string     `yaml:"policy_name" json:"policy_name"`
	DefaultAction Action     `yaml:"default_action" json:"default_action"`
	StrictMode    bool       `yaml:"strict_mode" json:"strict_mode"`
	Budgets       Budgets    `yaml:"budgets" json:"budgets"`
	Tools         []ToolRule `yaml:"tools" json:"tools"`

	// resolved is the tool-name lookup table, built once during validate
	// so per-call lookups never re-scan the tool list.
	resolved map[string]*ToolRule
}

// Rule returns the rule table entry for a tool name.
func (p *PolicyDefinition) Rule(tool string) (*ToolRule, bool) {
	r, ok := p.resolved[tool]
	return r, ok
}

// LoadYAML parses a policy document from YAML with strict field checking.
func LoadYAML(data []byte) (*PolicyDefinition, *MigrationAuditRecord, error) {
	return load(data, decodeYAMLStrict)
}

// LoadJSON parses a policy document from JSON with strict field checking.
func LoadJSON(data []byte) (*PolicyDefinition, *MigrationAuditRecord, error) {
	return load(data, decodeJSONStrict)
}

// LoadFile loads a policy document from disk, dispatching on extension
// (.json is JSON, everything else YAML).
func LoadFile(path string) (*PolicyDefinition, *MigrationAuditRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".json") {
		return LoadJSON(data)
	}
	return LoadYAML(data)
}

type decodeFunc func(data []byte, out any) error

func load(data []byte, decode decodeFunc) (*PolicyDefinition, *MigrationAuditRecord, error) {
	version, err := peekSchemaVersion(data)
	if err != nil {
		return nil, nil, err
	}

	switch version {
	case CanonicalSchemaVersion:
		var def PolicyDefinition
		if err := decode(data, &def); err != nil {
			return nil, nil, fmt.Errorf("policy: parse document: %w", err)
		}
		if err := def.validate(); err != nil {
			return nil, nil, err
		}
		audit, err := auditForCanonical(&def)
		if err != nil {
			return nil, nil, err
		}
		return &def, audit, nil

	case legacySchemaVersion:
		var legacy policyDefinitionV0
		if err := decode(data, &legacy); err != nil {
			return nil, nil, fmt.Errorf("policy: parse legacy document: %w", err)
		}
		def, audit, err := migrateV0ToV1(&legacy)
		if err != nil {
			return nil, nil, err
		}
		if err := def.validate(); err != nil {
			return nil, nil, err
		}
		return def, audit, nil

	default:
		return nil, nil, fmt.Errorf("policy: unsupported schema_version %d; only %d (and legacy %d via migration) are accepted",
			version, CanonicalSchemaVersion, legacySchemaVersion)
	}
}

// peekSchemaVersion extracts schema_version without committing to a
// document shape, so the loader can pick the matching decoder. The probe
// tolerates unknown fields; strictness applies to the shape-committed
// decode that follows.
func peekSchemaVersion(data []byte) (int, error) {
	var probe struct {
		SchemaVersion *int `yaml:"schema_version" json:"schema_version"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		if jsonErr := json.Unmarshal(data, &probe); jsonErr != nil {
			return 0, fmt.Errorf("policy: parse document: %w", err)
		}
	}
	if probe.SchemaVersion == nil {
		return 0, fmt.Errorf("policy: document is missing schema_version")
	}
	return *probe.SchemaVersion, nil
}

func decodeYAMLStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

func decodeJSONStrict(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// validate rejects structurally incomplete documents at load time.
func (p *PolicyDefinition) validate() error {
	if p.PolicyName == "" {
		return fmt.Errorf("policy: policy_name cannot be empty")
	}
	if err := validateAction(p.DefaultAction); err != nil {
		return err
	}
	if p.DefaultAction != Allow && p.DefaultAction != Deny {
		return fmt.Errorf("policy: default_action must be Allow or Deny, got %s", p.DefaultAction)
	}
	if p.Budgets.MaxValues <= 0 || p.Budgets.MaxParentsPerValue <= 0 ||
		p.Budgets.MaxClosureSteps <= 0 || p.Budgets.MaxWitnessDepth <= 0 {
		return fmt.Errorf("policy: all budgets must be positive")
	}

	seen := make(map[string]bool, len(p.Tools))
	for i := range p.Tools {
		rule := &p.Tools[i]
		if rule.Tool == "" {
			return fmt.Errorf("policy: tool entry %d has an empty tool name", i)
		}
		if seen[rule.Tool] {
			return fmt.Errorf("policy: duplicate tool rule for %q", rule.Tool)
		}
		seen[rule.Tool] = true

		if rule.SideEffectClass != ExternalRead && rule.SideEffectClass != ExternalWrite {
			return fmt.Errorf("policy: tool %q has unknown side_effect_class %q", rule.Tool, rule.SideEffectClass)
		}
		if err := validateAction(rule.DefaultDecision); err != nil {
			return fmt.Errorf("policy: tool %q: %w", rule.Tool, err)
		}
		for _, ar := range rule.ArgRules {
			if ar.Arg == "" {
				return fmt.Errorf("policy: tool %q has an arg rule with an empty arg name", rule.Tool)
			}
			if ar.RequiresIntegrity != "" {
				if _, err := label.ParseIntegrity(ar.RequiresIntegrity); err != nil {
					return fmt.Errorf("policy: tool %q arg %q: %w", rule.Tool, ar.Arg, err)
				}
			}
		}
		if rule.ContextRules != nil {
			for _, name := range rule.ContextRules.DenyIfPCIntegrityContains {
				if _, err := label.ParseIntegrity(name); err != nil {
					return fmt.Errorf("policy: tool %q context rule: %w", rule.Tool, err)
				}
			}
		}
	}

	p.resolved = make(map[string]*ToolRule, len(p.Tools))
	for i := range p.Tools {
		p.resolved[p.Tools[i].Tool] = &p.Tools[i]
	}
	return nil
}

func validateAction(a Action) error {
	switch a {
	case Allow, Deny, RequireConfirmation, RequireDraft:
		return nil
	default:
		return fmt.Errorf("policy: unknown action %q", a)
	}
}

// Hash returns "sha256:<hex>" over the raw document bytes, recorded in
// audit entries so a decision can be tied to the exact policy text.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// HashFile hashes a policy document on disk.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Hash(data), nil
}
