// Package audit emits the per-call decision records consumed by the
// audit pipeline, as an append-only JSONL log with SHA-256 hash chaining.
package audit

// AuditEntry is one sink-audit record: a single evaluated call and its
// decision, linked to the execution by execution_id and call_id. All
// fields are plain structs and strings (no map[string]any) so
// json.Marshal field order is deterministic and the hash chain is
// reproducible. Confidentiality appears as tag names only, never the
// underlying values.
type AuditEntry struct {
	Timestamp   string `json:"ts"`
	ExecutionID string `json:"execution_id"`
	CallID      string `json:"call_id"`
	Tool        string `json:"tool"`
	Decision    string `json:"decision"`
	// Reason is the machine-readable deny/confirmation reason code;
	// empty for plain allows.
	Reason string `json:"reason,omitempty"`
	// RedactionApplied is present only for write/sink-class tools.
	RedactionApplied *bool `json:"redaction_applied,omitempty"`
	// CallPath classifies how the call was initiated (planner or
	// quarantined), when the dispatching guard knows it.
	CallPath string `json:"call_path,omitempty"`
	// ConfidentialityTags lists the tag names that reached the call's
	// arguments.
	ConfidentialityTags []string `json:"confidentiality_tags,omitempty"`
	PolicyHash          string   `json:"policy_hash,omitempty"`
	PrevHash            string   `json:"prev_hash"`
}
