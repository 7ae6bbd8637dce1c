package policy

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// legacySchemaVersion is the only pre-canonical schema accepted, and only
// through the explicit migration below. Anything else fails closed.
const legacySchemaVersion = 0

const transformV0ToV1 = "policy_schema_v0_to_v1"

// MigrationStepRecord is auditable evidence for one schema transform.
type MigrationStepRecord struct {
	FromSchemaVersion int    `json:"from_schema_version"`
	ToSchemaVersion   int    `json:"to_schema_version"`
	TransformName     string `json:"transform_name"`
	InputHash         string `json:"input_hash"`
	OutputHash        string `json:"output_hash"`
}

// MigrationAuditRecord ties a loaded policy to the exact transforms that
// produced its canonical form. Canonical input yields an empty step list.
type MigrationAuditRecord struct {
	SourceSchemaVersion int                   `json:"source_schema_version"`
	TargetSchemaVersion int                   `json:"target_schema_version"`
	SourceDocumentHash  string                `json:"source_document_hash"`
	TargetDocumentHash  string                `json:"target_document_hash"`
	MigrationSteps      []MigrationStepRecord `json:"migration_steps"`
}

// WasMigrated reports whether any transform ran during load.
func (m *MigrationAuditRecord) WasMigrated() bool {
	return len(m.MigrationSteps) > 0
}

// policyDefinitionV0 is the legacy document shape: same semantics, older
// field names (name/side_effect/authority/args/context).
type policyDefinitionV0 struct {
	SchemaVersion int          `yaml:"schema_version" json:"schema_version"`
	PolicyName    string       `yaml:"policy_name" json:"policy_name"`
	DefaultAction Action       `yaml:"default_action" json:"default_action"`
	StrictMode    bool         `yaml:"strict_mode" json:"strict_mode"`
	Budgets       Budgets      `yaml:"budgets" json:"budgets"`
	Tools         []toolRuleV0 `yaml:"tools" json:"tools"`
}

type toolRuleV0 struct {
	Name            string          `yaml:"name" json:"name"`
	SideEffect      SideEffectClass `yaml:"side_effect" json:"side_effect"`
	Authority       []string        `yaml:"authority,omitempty" json:"authority,omitempty"`
	Args            []argRuleV0     `yaml:"args,omitempty" json:"args,omitempty"`
	Context         *ContextRules   `yaml:"context,omitempty" json:"context,omitempty"`
	DefaultDecision Action          `yaml:"default_decision" json:"default_decision"`
}

type argRuleV0 struct {
	Name                  string   `yaml:"name" json:"name"`
	RequiresIntegrity     string   `yaml:"requires_integrity,omitempty" json:"requires_integrity,omitempty"`
	ForbidConfidentiality []string `yaml:"forbid_confidentiality,omitempty" json:"forbid_confidentiality,omitempty"`
}

// migrateV0ToV1 executes the explicit legacy transform and records
// deterministic before/after document hashes as migration evidence.
func migrateV0ToV1(legacy *policyDefinitionV0) (*PolicyDefinition, *MigrationAuditRecord, error) {
	sourceHash, err := stablePolicyHash(legacy)
	if err != nil {
		return nil, nil, err
	}

	def := &PolicyDefinition{
		SchemaVersion: CanonicalSchemaVersion,
		PolicyName:    legacy.PolicyName,
		DefaultAction: legacy.DefaultAction,
		StrictMode:    legacy.StrictMode,
		Budgets:       legacy.Budgets,
		Tools:         make([]ToolRule, 0, len(legacy.Tools)),
	}
	for _, t := range legacy.Tools {
		rule := ToolRule{
			Tool:              t.Name,
			SideEffectClass:   t.SideEffect,
			RequiredAuthority: t.Authority,
			ContextRules:      t.Context,
			DefaultDecision:   t.DefaultDecision,
		}
		for _, a := range t.Args {
			rule.ArgRules = append(rule.ArgRules, ArgRule{
				Arg:                    a.Name,
				RequiresIntegrity:      a.RequiresIntegrity,
				ForbidsConfidentiality: a.ForbidConfidentiality,
			})
		}
		def.Tools = append(def.Tools, rule)
	}

	targetHash, err := stablePolicyHash(def)
	if err != nil {
		return nil, nil, err
	}

	audit := &MigrationAuditRecord{
		SourceSchemaVersion: legacySchemaVersion,
		TargetSchemaVersion: CanonicalSchemaVersion,
		SourceDocumentHash:  sourceHash,
		TargetDocumentHash:  targetHash,
		MigrationSteps: []MigrationStepRecord{{
			FromSchemaVersion: legacySchemaVersion,
			ToSchemaVersion:   CanonicalSchemaVersion,
			TransformName:     transformV0ToV1,
			InputHash:         sourceHash,
			OutputHash:        targetHash,
		}},
	}
	return def, audit, nil
}

// auditForCanonical builds the no-op evidence record for a document that
// arrived already at the canonical schema version.
func auditForCanonical(def *PolicyDefinition) (*MigrationAuditRecord, error) {
	hash, err := stablePolicyHash(def)
	if err != nil {
		return nil, err
	}
	return &MigrationAuditRecord{
		SourceSchemaVersion: CanonicalSchemaVersion,
		TargetSchemaVersion: CanonicalSchemaVersion,
		SourceDocumentHash:  hash,
		TargetDocumentHash:  hash,
	}, nil
}

// stablePolicyHash hashes a policy shape over canonicalized JSON so the
// evidence hash is independent of field order in the source document.
// Round-tripping through map[string]any gives sorted object keys, which
// encoding/json guarantees for map marshaling.
func stablePolicyHash(policy any) (string, error) {
	raw, err := json.Marshal(policy)
	if err != nil {
		return "", fmt.Errorf("policy: serialize for migration hashing: %w", err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("policy: canonicalize for migration hashing: %w", err)
	}
	canonical, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("policy: serialize canonical form: %w", err)
	}
	digest := sha256.Sum256(canonical)
	return fmt.Sprintf("%x", digest), nil
}
