package policy

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# zamburak policy configuration
# Generated by: zamburak init-policy
#
# Evaluation order per call (cannot be changed):
#   1. Rule lookup          -> unlisted tools get default_action
#   2. Context check        -> deny_if_pc_integrity_contains (strict_mode only)
#   3. Authority check      -> required_authority scopes vs held tokens
#   4. Argument integrity   -> requires_integrity, exact label match
#   5. Argument secrecy     -> forbids_confidentiality, any overlap denies
#   6. Default decision     -> the tool's default_decision

schema_version: 1
policy_name: default

# Decision for tools not listed below: Allow or Deny.
default_action: Deny

# Enforce per-tool context rules (deny_if_pc_integrity_contains).
strict_mode: true

# Hard caps on provenance analysis. Exceeding max_closure_steps during
# evaluation denies the call; it is never treated as "no taint found".
budgets:
  max_values: 10000
  max_parents_per_value: 64
  max_closure_steps: 5000
  max_witness_depth: 8

# Per-tool rules. Fields:
#   tool: tool name (exact match)
#   side_effect_class: ExternalRead | ExternalWrite
#   required_authority: scope resources a valid held token must grant
#   arg_rules: per-argument label requirements
#     requires_integrity: Untrusted | Trusted | Verified(<tag>)
#     forbids_confidentiality: tags that must not reach the argument
#   context_rules:
#     deny_if_pc_integrity_contains: labels banned from the call context
#   default_decision: Allow | Deny | RequireConfirmation | RequireDraft
tools:
  - tool: get_weather
    side_effect_class: ExternalRead
    default_decision: Allow

  - tool: send_email
    side_effect_class: ExternalWrite
    arg_rules:
      - arg: body
        forbids_confidentiality: [pii, credentials]
    default_decision: RequireDraft

  - tool: transfer_funds
    side_effect_class: ExternalWrite
    required_authority: [payments]
    arg_rules:
      - arg: recipient_account
        requires_integrity: Verified(AllowlistedPayee)
    context_rules:
      deny_if_pc_integrity_contains: [Untrusted]
    default_decision: RequireConfirmation
`
}
