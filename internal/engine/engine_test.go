package engine

import (
	"testing"
	"time"

	"github.com/zamburak/zamburak/internal/authority"
	"github.com/zamburak/zamburak/internal/graph"
	"github.com/zamburak/zamburak/internal/label"
	"github.com/zamburak/zamburak/internal/policy"
)

const testPolicy = `
schema_version: 1
policy_name: engine-test
default_action: Deny
strict_mode: true
budgets:
  max_values: 100
  max_parents_per_value: 8
  max_closure_steps: 50
  max_witness_depth: 4
tools:
  - tool: get_weather
    side_effect_class: ExternalRead
    default_decision: Allow
  - tool: transfer_funds
    side_effect_class: ExternalWrite
    required_authority: [payments]
    arg_rules:
      - arg: recipient_account
        requires_integrity: Verified(AllowlistedPayee)
    context_rules:
      deny_if_pc_integrity_contains: [Untrusted]
    default_decision: RequireConfirmation
  - tool: send_email
    side_effect_class: ExternalWrite
    arg_rules:
      - arg: body
        forbids_confidentiality: [pii, credentials]
    default_decision: Allow
`

func loadPolicy(t *testing.T, doc string) *policy.PolicyDefinition {
	t.Helper()
	def, _, err := policy.LoadYAML([]byte(doc))
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	return def
}

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()
	return graph.New(graph.Budgets{MaxValues: 100, MaxParentsPerValue: 8})
}

func mustAdd(t *testing.T, g *graph.Graph, integ label.Integrity, conf label.Confidentiality, parents ...graph.ValueID) graph.ValueID {
	t.Helper()
	id, err := g.Add(integ, conf, parents, "test")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return id
}

func testStore() *authority.Store {
	return authority.NewStore(authority.FixedClock{At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)})
}

func mintPayments(t *testing.T, store *authority.Store) authority.Token {
	t.Helper()
	tok, err := store.Mint("agent", []string{"payments", "reporting"}, authority.Validity{})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return tok
}

func TestUnlistedToolDefaultDeny(t *testing.T) {
	e := New(loadPolicy(t, testPolicy), testGraph(t), testStore())

	res := e.Evaluate(CallRequest{Tool: "delete_everything"})
	if res.Decision != policy.Deny {
		t.Fatalf("decision = %s, want Deny", res.Decision)
	}
	if res.Reason != ReasonDefaultDeny {
		t.Errorf("reason = %s, want DefaultDeny", res.Reason)
	}
}

func TestListedReadToolAllows(t *testing.T) {
	e := New(loadPolicy(t, testPolicy), testGraph(t), testStore())

	res := e.Evaluate(CallRequest{Tool: "get_weather"})
	if res.Decision != policy.Allow {
		t.Fatalf("decision = %s, want Allow", res.Decision)
	}
	if res.Reason != "" {
		t.Errorf("reason = %s, want empty", res.Reason)
	}
}

func TestIntegrityRequirementNotMet(t *testing.T) {
	g := testGraph(t)
	store := testStore()
	tok := mintPayments(t, store)
	e := New(loadPolicy(t, testPolicy), g, store)

	recipient := mustAdd(t, g, label.Untrusted(), label.NewConfidentiality())

	res := e.Evaluate(CallRequest{
		Tool:         "transfer_funds",
		Args:         map[string]graph.ValueID{"recipient_account": recipient},
		PCIntegrity:  []label.Integrity{label.Trusted()},
		HeldTokenIDs: []string{tok.ID},
	})
	if res.Decision != policy.Deny {
		t.Fatalf("decision = %s, want Deny", res.Decision)
	}
	if res.Reason != ReasonIntegrityRequirementNotMet {
		t.Errorf("reason = %s, want IntegrityRequirementNotMet", res.Reason)
	}
	if res.Witness == nil || len(res.Witness.Roots) != 1 {
		t.Error("expected a witness rooted at the failing argument")
	}
}

func TestVerifiedRecipientProceedsToDefault(t *testing.T) {
	g := testGraph(t)
	store := testStore()
	tok := mintPayments(t, store)
	e := New(loadPolicy(t, testPolicy), g, store)

	recipient := mustAdd(t, g, label.Verified("AllowlistedPayee"), label.NewConfidentiality())

	res := e.Evaluate(CallRequest{
		Tool:         "transfer_funds",
		Args:         map[string]graph.ValueID{"recipient_account": recipient},
		PCIntegrity:  []label.Integrity{label.Trusted()},
		HeldTokenIDs: []string{tok.ID},
	})
	if res.Decision != policy.RequireConfirmation {
		t.Fatalf("decision = %s, want RequireConfirmation", res.Decision)
	}
	if res.Witness == nil {
		t.Error("confirmation outcome should carry a witness")
	}
}

func TestTaintedControlContextDeniesBeforeAuthority(t *testing.T) {
	g := testGraph(t)
	store := testStore()
	e := New(loadPolicy(t, testPolicy), g, store)

	recipient := mustAdd(t, g, label.Verified("AllowlistedPayee"), label.NewConfidentiality())

	// No valid token held: if the authority check ran first, the reason
	// would be MissingAuthority.
	res := e.Evaluate(CallRequest{
		Tool:        "transfer_funds",
		Args:        map[string]graph.ValueID{"recipient_account": recipient},
		PCIntegrity: []label.Integrity{label.Trusted(), label.Untrusted()},
	})
	if res.Decision != policy.Deny {
		t.Fatalf("decision = %s, want Deny", res.Decision)
	}
	if res.Reason != ReasonUntrustedControlContext {
		t.Errorf("reason = %s, want UntrustedControlContext", res.Reason)
	}
}

func TestContextRuleIgnoredOutsideStrictMode(t *testing.T) {
	relaxed := loadPolicy(t, testPolicy)
	relaxed.StrictMode = false
	g := testGraph(t)
	store := testStore()
	tok := mintPayments(t, store)
	e := New(relaxed, g, store)

	recipient := mustAdd(t, g, label.Verified("AllowlistedPayee"), label.NewConfidentiality())

	res := e.Evaluate(CallRequest{
		Tool:         "transfer_funds",
		Args:         map[string]graph.ValueID{"recipient_account": recipient},
		PCIntegrity:  []label.Integrity{label.Untrusted()},
		HeldTokenIDs: []string{tok.ID},
	})
	if res.Decision != policy.RequireConfirmation {
		t.Fatalf("decision = %s, want RequireConfirmation", res.Decision)
	}
}

func TestMissingAuthority(t *testing.T) {
	g := testGraph(t)
	store := testStore()
	e := New(loadPolicy(t, testPolicy), g, store)

	recipient := mustAdd(t, g, label.Verified("AllowlistedPayee"), label.NewConfidentiality())

	res := e.Evaluate(CallRequest{
		Tool:        "transfer_funds",
		Args:        map[string]graph.ValueID{"recipient_account": recipient},
		PCIntegrity: []label.Integrity{label.Trusted()},
	})
	if res.Reason != ReasonMissingAuthority {
		t.Fatalf("reason = %s, want MissingAuthority", res.Reason)
	}
}

func TestRevokedTokenLosesAuthority(t *testing.T) {
	g := testGraph(t)
	store := testStore()
	tok := mintPayments(t, store)
	e := New(loadPolicy(t, testPolicy), g, store)

	recipient := mustAdd(t, g, label.Verified("AllowlistedPayee"), label.NewConfidentiality())
	req := CallRequest{
		Tool:         "transfer_funds",
		Args:         map[string]graph.ValueID{"recipient_account": recipient},
		PCIntegrity:  []label.Integrity{label.Trusted()},
		HeldTokenIDs: []string{tok.ID},
	}

	if res := e.Evaluate(req); res.Decision != policy.RequireConfirmation {
		t.Fatalf("pre-revoke decision = %s, want RequireConfirmation", res.Decision)
	}
	store.Revoke(tok.ID)
	if res := e.Evaluate(req); res.Reason != ReasonMissingAuthority {
		t.Fatalf("post-revoke reason = %s, want MissingAuthority", res.Reason)
	}
}

func TestConfidentialityForbidden(t *testing.T) {
	g := testGraph(t)
	e := New(loadPolicy(t, testPolicy), g, testStore())

	// Taint flows to the body through a derivation step.
	secret := mustAdd(t, g, label.Trusted(), label.NewConfidentiality("pii"))
	body := mustAdd(t, g, label.Trusted(), label.NewConfidentiality(), secret)

	res := e.Evaluate(CallRequest{
		Tool: "send_email",
		Args: map[string]graph.ValueID{"body": body},
	})
	if res.Decision != policy.Deny {
		t.Fatalf("decision = %s, want Deny", res.Decision)
	}
	if res.Reason != ReasonConfidentialityForbidden {
		t.Errorf("reason = %s, want ConfidentialityForbidden", res.Reason)
	}
	if len(res.ConfidentialityTags) != 1 || res.ConfidentialityTags[0] != "pii" {
		t.Errorf("confidentiality tags = %v, want [pii]", res.ConfidentialityTags)
	}
}

func TestCleanBodyAllows(t *testing.T) {
	g := testGraph(t)
	e := New(loadPolicy(t, testPolicy), g, testStore())

	body := mustAdd(t, g, label.Trusted(), label.NewConfidentiality())

	res := e.Evaluate(CallRequest{
		Tool: "send_email",
		Args: map[string]graph.ValueID{"body": body},
	})
	if res.Decision != policy.Allow {
		t.Fatalf("decision = %s, want Allow", res.Decision)
	}
}

func TestBudgetExceededFailsClosed(t *testing.T) {
	doc := `
schema_version: 1
policy_name: tight-budget
default_action: Deny
strict_mode: false
budgets:
  max_values: 100
  max_parents_per_value: 8
  max_closure_steps: 3
  max_witness_depth: 4
tools:
  - tool: send_email
    side_effect_class: ExternalWrite
    arg_rules:
      - arg: body
        forbids_confidentiality: [pii]
    default_decision: Allow
`
	g := testGraph(t)
	e := New(loadPolicy(t, doc), g, testStore())

	// A chain longer than max_closure_steps, entirely clean: the overrun
	// itself must deny, never read as "no taint found."
	id := mustAdd(t, g, label.Trusted(), label.NewConfidentiality())
	for i := 0; i < 5; i++ {
		id = mustAdd(t, g, label.Trusted(), label.NewConfidentiality(), id)
	}

	res := e.Evaluate(CallRequest{
		Tool: "send_email",
		Args: map[string]graph.ValueID{"body": id},
	})
	if res.Decision != policy.Deny {
		t.Fatalf("decision = %s, want Deny", res.Decision)
	}
	if res.Reason != ReasonBudgetExceeded {
		t.Errorf("reason = %s, want BudgetExceeded", res.Reason)
	}
}

func TestArgRuleWithoutArgumentFailsClosed(t *testing.T) {
	e := New(loadPolicy(t, testPolicy), testGraph(t), testStore())

	// transfer_funds constrains recipient_account; the call omits it.
	res := e.Evaluate(CallRequest{
		Tool:        "transfer_funds",
		Args:        map[string]graph.ValueID{},
		PCIntegrity: []label.Integrity{label.Trusted()},
	})
	if res.Decision != policy.Deny {
		t.Fatalf("decision = %s, want Deny", res.Decision)
	}
	if res.Reason != ReasonMalformedRule {
		t.Errorf("reason = %s, want MalformedRule", res.Reason)
	}
}

func TestUnknownValueFailsClosed(t *testing.T) {
	e := New(loadPolicy(t, testPolicy), testGraph(t), testStore())

	res := e.Evaluate(CallRequest{
		Tool: "send_email",
		Args: map[string]graph.ValueID{"body": 42},
	})
	if res.Decision != policy.Deny {
		t.Fatalf("decision = %s, want Deny", res.Decision)
	}
	if res.Reason != ReasonMalformedRule {
		t.Errorf("reason = %s, want MalformedRule", res.Reason)
	}
}

// Decisions after a snapshot/restore cycle with no intervening
// revocation or expiry must match decisions made without the cycle.
func TestRestoreEquivalence(t *testing.T) {
	def := loadPolicy(t, testPolicy)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	run := func(restore bool) []Result {
		g := graph.New(graph.Budgets{MaxValues: 100, MaxParentsPerValue: 8})
		store := authority.NewStore(authority.FixedClock{At: at})
		tok, err := store.Mint("agent", []string{"payments", "reporting"}, authority.Validity{})
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}

		if restore {
			snapshot := store.All()
			store = authority.NewStore(authority.FixedClock{At: at})
			store.Restore(snapshot)
			held := []string{tok.ID}
			if surviving, _ := store.RevalidateOnRestore(held, at); len(surviving) != 1 {
				t.Fatalf("token did not survive restore")
			}
		}

		e := New(def, g, store)
		recipient, _ := g.Add(label.Verified("AllowlistedPayee"), label.NewConfidentiality(), nil, "verify_payee")
		body, _ := g.Add(label.Trusted(), label.NewConfidentiality(), nil, "literal")

		return []Result{
			e.Evaluate(CallRequest{Tool: "get_weather"}),
			e.Evaluate(CallRequest{
				Tool:         "transfer_funds",
				Args:         map[string]graph.ValueID{"recipient_account": recipient},
				PCIntegrity:  []label.Integrity{label.Trusted()},
				HeldTokenIDs: []string{tok.ID},
			}),
			e.Evaluate(CallRequest{Tool: "send_email", Args: map[string]graph.ValueID{"body": body}}),
			e.Evaluate(CallRequest{Tool: "unlisted"}),
		}
	}

	direct := run(false)
	restored := run(true)
	for i := range direct {
		if direct[i].Decision != restored[i].Decision || direct[i].Reason != restored[i].Reason {
			t.Errorf("call %d: direct (%s, %s) != restored (%s, %s)",
				i, direct[i].Decision, direct[i].Reason, restored[i].Decision, restored[i].Reason)
		}
	}
}
