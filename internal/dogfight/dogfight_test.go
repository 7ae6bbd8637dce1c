//go:build dogfight

// Package dogfight holds adversarial rounds against the full decision
// pipeline: a cooperative baseline, then active attempts to launder
// labels, widen authority, and exhaust budgets. Run with:
//
//	go test -tags dogfight ./internal/dogfight/
package dogfight

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zamburak/zamburak/internal/audit"
	"github.com/zamburak/zamburak/internal/authority"
	"github.com/zamburak/zamburak/internal/engine"
	"github.com/zamburak/zamburak/internal/graph"
	"github.com/zamburak/zamburak/internal/label"
	"github.com/zamburak/zamburak/internal/policy"
	"github.com/zamburak/zamburak/internal/sink"
)

var arenaEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const arenaPolicy = `
schema_version: 1
policy_name: dogfight-arena
default_action: Deny
strict_mode: true
budgets:
  max_values: 50
  max_parents_per_value: 4
  max_closure_steps: 30
  max_witness_depth: 3
tools:
  - tool: get_weather
    side_effect_class: ExternalRead
    default_decision: Allow
  - tool: read_inbox
    side_effect_class: ExternalRead
    default_decision: Allow
  - tool: send_email
    side_effect_class: ExternalWrite
    required_authority: [email:send]
    arg_rules:
      - arg: body
        forbids_confidentiality: [pii, credentials]
    context_rules:
      deny_if_pc_integrity_contains: [Untrusted]
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
`

// arena is one instrumented pipeline instance: policy, graph, authority
// store, audit log, and the sink guard in front of it all.
type arena struct {
	def     *policy.PolicyDefinition
	graph   *graph.Graph
	store   *authority.Store
	guard   *sink.Guard
	logPath string

	callSeq int
}

func newArena(t *testing.T) *arena {
	t.Helper()

	def, _, err := policy.LoadYAML([]byte(arenaPolicy))
	if err != nil {
		t.Fatalf("load arena policy: %v", err)
	}

	g := graph.New(graph.Budgets{
		MaxValues:          def.Budgets.MaxValues,
		MaxParentsPerValue: def.Budgets.MaxParentsPerValue,
	})
	g.RegisterVerifier(func(id graph.ValueID) (string, bool) {
		return "AllowlistedPayee", true
	})

	store := authority.NewStore(authority.FixedClock{At: arenaEpoch})

	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(logPath)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	eng := engine.New(def, g, store)
	guard := sink.NewGuard(eng, def, log, policy.Hash([]byte(arenaPolicy)))

	return &arena{def: def, graph: g, store: store, guard: guard, logPath: logPath}
}

// call runs one pre-dispatch check through the guard.
func (a *arena) call(tool string, args map[string]graph.ValueID, pc []label.Integrity, tokens []string, redacted bool) (engine.Result, error) {
	a.callSeq++
	req := engine.CallRequest{
		ExecutionID:      "dogfight",
		CallID:           fmt.Sprintf("call-%d", a.callSeq),
		Tool:             tool,
		Args:             args,
		PCIntegrity:      pc,
		HeldTokenIDs:     tokens,
		RedactionApplied: redacted,
	}
	return a.guard.PreDispatch(req, sink.PathPlanner)
}

func expectAllow(t *testing.T, res engine.Result, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("expected Allow, got error: %v", err)
	}
	if res.Decision != policy.Allow {
		t.Fatalf("expected Allow, got %s/%s: %s", res.Decision, res.Reason, res.Detail)
	}
}

func expectDenied(t *testing.T, res engine.Result, err error, reason engine.DenyReason) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a blocked call, got %s", res.Decision)
	}
	if res.Decision == policy.Allow {
		t.Fatalf("blocked call still reports Allow")
	}
	if res.Reason != reason {
		t.Fatalf("expected reason %s, got %s: %s", reason, res.Reason, res.Detail)
	}
}

func mustAdd(t *testing.T, g *graph.Graph, integrity label.Integrity, conf label.Confidentiality, parents []graph.ValueID, op string) graph.ValueID {
	t.Helper()
	id, err := g.Add(integrity, conf, parents, op)
	if err != nil {
		t.Fatalf("add value: %v", err)
	}
	return id
}

func verifyChain(t *testing.T, logPath string) {
	t.Helper()
	r := audit.Verify(logPath)
	if !r.Valid {
		t.Errorf("audit chain broken at line %d: %s", r.ErrorLine, r.Error)
	}
}

func countEntries(t *testing.T, logPath string) int {
	t.Helper()
	return len(readEntries(t, logPath))
}

func countDecisions(t *testing.T, logPath, decision string) int {
	t.Helper()
	n := 0
	for _, e := range readEntries(t, logPath) {
		if e.Decision == decision {
			n++
		}
	}
	return n
}

func readEntries(t *testing.T, logPath string) []audit.AuditEntry {
	t.Helper()
	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var entries []audit.AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e audit.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line: %v", err)
		}
		entries = append(entries, e)
	}
	return entries
}
