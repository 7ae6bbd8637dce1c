package scenario

// ValueSpec declares one graph value in a scenario fixture. Values are
// referenced by name; parents must be declared earlier in the list.
type ValueSpec struct {
	Name            string   `yaml:"name"`
	Integrity       string   `yaml:"integrity"`
	Confidentiality []string `yaml:"confidentiality,omitempty"`
	Parents         []string `yaml:"parents,omitempty"`
	Op              string   `yaml:"op,omitempty"`
}

// TokenSpec declares one authority token. A token with a parent is
// delegated; others are minted as roots. TTL is a duration string
// relative to the scenario clock ("1h", "30m"); empty means no expiry.
type TokenSpec struct {
	Name    string   `yaml:"name"`
	Subject string   `yaml:"subject,omitempty"`
	Scope   []string `yaml:"scope"`
	Parent  string   `yaml:"parent,omitempty"`
	TTL     string   `yaml:"ttl,omitempty"`
	// Revoke revokes the token during setup, after all tokens exist.
	Revoke bool `yaml:"revoke,omitempty"`
}

// CallSpec is one evaluated call and its expected outcome.
type CallSpec struct {
	Tool             string            `yaml:"tool"`
	Args             map[string]string `yaml:"args,omitempty"`
	PCIntegrity      []string          `yaml:"pc_integrity,omitempty"`
	HeldTokens       []string          `yaml:"held_tokens,omitempty"`
	RedactionApplied bool              `yaml:"redaction_applied,omitempty"`
	Expect           string            `yaml:"expect"`
	ExpectReason     string            `yaml:"expect_reason,omitempty"`
}

// Scenario is a named fixture: a value graph, a token table, and a
// sequence of calls with expected decisions.
type Scenario struct {
	Name   string      `yaml:"name"`
	Values []ValueSpec `yaml:"values,omitempty"`
	Tokens []TokenSpec `yaml:"tokens,omitempty"`
	Calls  []CallSpec  `yaml:"calls"`
}

// CaseResult is the outcome of evaluating one call.
type CaseResult struct {
	Index          int    `json:"index"`
	Passed         bool   `json:"passed"`
	Tool           string `json:"tool"`
	Expected       string `json:"expected"`
	Actual         string `json:"actual"`
	ExpectedReason string `json:"expected_reason,omitempty"`
	ActualReason   string `json:"actual_reason,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// RunResult is the outcome of running all calls in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
