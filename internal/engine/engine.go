// Package engine runs the per-call decision cascade: context, authority,
// per-argument integrity, per-argument confidentiality, then the
// configured default. Every internal failure resolves to Deny with a
// typed reason, never to a silent Allow.
package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zamburak/zamburak/internal/authority"
	"github.com/zamburak/zamburak/internal/closure"
	"github.com/zamburak/zamburak/internal/graph"
	"github.com/zamburak/zamburak/internal/label"
	"github.com/zamburak/zamburak/internal/policy"
	"github.com/zamburak/zamburak/internal/witness"
)

// DenyReason is the machine-readable code carried by every non-Allow
// decision.
type DenyReason string

const (
	ReasonUntrustedControlContext    DenyReason = "UntrustedControlContext"
	ReasonMissingAuthority           DenyReason = "MissingAuthority"
	ReasonIntegrityRequirementNotMet DenyReason = "IntegrityRequirementNotMet"
	ReasonConfidentialityForbidden   DenyReason = "ConfidentialityForbidden"
	ReasonBudgetExceeded             DenyReason = "BudgetExceeded"
	ReasonMalformedRule              DenyReason = "MalformedRule"
	// ReasonDefaultDeny marks a tool the policy does not list under a
	// default_action of Deny.
	ReasonDefaultDeny DenyReason = "DefaultDeny"
	// ReasonPolicyDefault marks a listed tool whose configured default
	// decision asks for human review.
	ReasonPolicyDefault DenyReason = "PolicyDefault"
)

// CallRequest is one tool-call evaluation request from the host.
type CallRequest struct {
	ExecutionID string
	CallID      string
	Tool        string
	// Args maps argument names to value IDs in the dependency graph.
	Args map[string]graph.ValueID
	// PCIntegrity is the integrity of the control-flow decisions that
	// led to this call.
	PCIntegrity []label.Integrity
	// HeldTokenIDs are the authority tokens the caller presents.
	HeldTokenIDs []string
	// RedactionApplied reports whether the host redacted outbound
	// content; recorded for write-class tools only.
	RedactionApplied bool
}

// Result is the outcome of one evaluation.
type Result struct {
	Decision policy.Action
	// Reason is set for every non-Allow decision.
	Reason DenyReason
	// Detail is a human-readable one-liner for logs and prompts.
	Detail string
	// Witness is the redacted provenance trace; present on every
	// non-Allow decision that has argument values to trace.
	Witness *witness.Witness
	// ConfidentialityTags are the tag names observed across the
	// argument closures computed during this evaluation.
	ConfidentialityTags []string
}

// Engine evaluates call requests against one immutable policy. It holds
// references to the execution's value graph and authority store; it
// performs no I/O and never blocks.
type Engine struct {
	def   *policy.PolicyDefinition
	graph *graph.Graph
	store *authority.Store
}

// New builds an engine over a validated policy, a value graph, and an
// authority store.
func New(def *policy.PolicyDefinition, g *graph.Graph, store *authority.Store) *Engine {
	return &Engine{def: def, graph: g, store: store}
}

// Evaluate runs the decision cascade for one call.
//
// Check order (must not be changed):
//  1. Rule lookup — unlisted tools get the policy default_action
//  2. Rule coherence — arg rules must name arguments the call supplies
//  3. Context check — strict_mode PC-integrity screening
//  4. Authority check — required scopes covered by currently valid tokens
//  5. Per-argument integrity — closure label must match exactly
//  6. Per-argument confidentiality — closure tags must miss the forbidden set
//  7. Default decision — the rule's configured outcome
func (e *Engine) Evaluate(req CallRequest) Result {
	cl := closure.NewForEvaluation(e.graph, e.def.Budgets.MaxClosureSteps)
	seen := label.NewConfidentiality()

	// Step 1: rule lookup.
	rule, ok := e.def.Rule(req.Tool)
	if !ok {
		if e.def.DefaultAction == policy.Allow {
			return Result{Decision: policy.Allow}
		}
		return e.deny(req, seen, ReasonDefaultDeny,
			fmt.Sprintf("tool %q is not listed and default_action is Deny", req.Tool))
	}

	// Step 2: rule coherence. An arg rule naming an argument the call
	// does not supply means the rule cannot be checked; fail closed.
	for _, ar := range rule.ArgRules {
		if _, present := req.Args[ar.Arg]; !present {
			return e.deny(req, seen, ReasonMalformedRule,
				fmt.Sprintf("rule for %q constrains argument %q, which the call does not supply", req.Tool, ar.Arg))
		}
	}

	// Step 3: context check. Catches calls whose selection, not just
	// whose arguments, was steered from an untrusted context.
	if e.def.StrictMode && rule.ContextRules != nil {
		for _, s := range rule.ContextRules.DenyIfPCIntegrityContains {
			banned, err := label.ParseIntegrity(s)
			if err != nil {
				return e.deny(req, seen, ReasonMalformedRule,
					fmt.Sprintf("rule for %q: bad context label %q", req.Tool, s))
			}
			for _, pc := range req.PCIntegrity {
				if pc == banned {
					return e.deny(req, seen, ReasonUntrustedControlContext,
						fmt.Sprintf("control context carries %s", banned))
				}
			}
		}
	}

	// Step 4: authority check against a point-in-time snapshot of
	// currently valid tokens.
	if len(rule.RequiredAuthority) > 0 {
		valid := e.store.ValidTokens(req.HeldTokenIDs, e.store.Clock().Now())
		for _, scope := range rule.RequiredAuthority {
			if !scopeCovered(valid, scope) {
				return e.deny(req, seen, ReasonMissingAuthority,
					fmt.Sprintf("no valid held token grants scope %q", scope))
			}
		}
	}

	// Steps 5 and 6: per-argument label checks, in rule order.
	for _, ar := range rule.ArgRules {
		id := req.Args[ar.Arg]
		lc, err := cl.ClosureOf(id)
		if err != nil {
			return e.closureDeny(req, seen, err, ar.Arg, id)
		}
		seen = seen.Join(lc.Confidentiality)

		if ar.RequiresIntegrity != "" {
			required, perr := label.ParseIntegrity(ar.RequiresIntegrity)
			if perr != nil {
				return e.deny(req, seen, ReasonMalformedRule,
					fmt.Sprintf("rule for %q: bad integrity label %q", req.Tool, ar.RequiresIntegrity))
			}
			// Exact match only: Verified(x) never satisfies a
			// requirement for Verified(y), and Trusted never
			// satisfies a Verified requirement by subsumption.
			if lc.Integrity != required {
				return e.denyAt(req, seen, id, ReasonIntegrityRequirementNotMet,
					fmt.Sprintf("argument %q has integrity %s, rule requires %s", ar.Arg, lc.Integrity, required))
			}
		}

		if len(ar.ForbidsConfidentiality) > 0 && lc.Confidentiality.Intersects(ar.ForbidsConfidentiality) {
			return e.denyAt(req, seen, id, ReasonConfidentialityForbidden,
				fmt.Sprintf("argument %q carries forbidden confidentiality tags", ar.Arg))
		}
	}

	// Step 7: default decision for the listed tool.
	switch rule.DefaultDecision {
	case policy.Allow:
		return Result{Decision: policy.Allow, ConfidentialityTags: seen.Tags()}
	case policy.RequireConfirmation, policy.RequireDraft:
		return Result{
			Decision:            rule.DefaultDecision,
			Reason:              ReasonPolicyDefault,
			Detail:              fmt.Sprintf("tool %q defaults to %s", req.Tool, rule.DefaultDecision),
			Witness:             e.buildWitness(argValueIDs(req)),
			ConfidentialityTags: seen.Tags(),
		}
	default:
		// Deny as a configured default decision, and anything the
		// loader should have rejected.
		return e.deny(req, seen, ReasonDefaultDeny,
			fmt.Sprintf("tool %q defaults to Deny", req.Tool))
	}
}

// deny builds a denial whose witness is rooted at every argument value.
func (e *Engine) deny(req CallRequest, seen label.Confidentiality, reason DenyReason, detail string) Result {
	return Result{
		Decision:            policy.Deny,
		Reason:              reason,
		Detail:              detail,
		Witness:             e.buildWitness(argValueIDs(req)),
		ConfidentialityTags: seen.Tags(),
	}
}

// denyAt builds a denial whose witness is rooted at the failing argument.
func (e *Engine) denyAt(req CallRequest, seen label.Confidentiality, id graph.ValueID, reason DenyReason, detail string) Result {
	return Result{
		Decision:            policy.Deny,
		Reason:              reason,
		Detail:              detail,
		Witness:             e.buildWitness([]graph.ValueID{id}),
		ConfidentialityTags: seen.Tags(),
	}
}

// closureDeny converts a closure failure into a fail-closed denial. A
// budget overrun is equivalent to the worst-case label; it must never
// read as "no taint found."
func (e *Engine) closureDeny(req CallRequest, seen label.Confidentiality, err error, arg string, id graph.ValueID) Result {
	reason := ReasonBudgetExceeded
	detail := fmt.Sprintf("closure budget exceeded while tracing argument %q", arg)
	if errors.Is(err, closure.ErrUnknownValue) {
		reason = ReasonMalformedRule
		detail = fmt.Sprintf("argument %q references value %d, which the graph does not hold", arg, id)
	}
	return e.denyAt(req, seen, id, reason, detail)
}

func (e *Engine) buildWitness(roots []graph.ValueID) *witness.Witness {
	if len(roots) == 0 {
		return nil
	}
	return witness.Build(e.graph, roots, e.def.Budgets.MaxWitnessDepth)
}

// argValueIDs returns the call's argument values in argument-name order
// so witness roots are deterministic.
func argValueIDs(req CallRequest) []graph.ValueID {
	names := make([]string, 0, len(req.Args))
	for name := range req.Args {
		names = append(names, name)
	}
	sort.Strings(names)
	ids := make([]graph.ValueID, 0, len(names))
	for _, name := range names {
		ids = append(ids, req.Args[name])
	}
	return ids
}

// scopeCovered reports whether any token in the snapshot grants the
// scope resource.
func scopeCovered(tokens []authority.Token, scope string) bool {
	for i := range tokens {
		if tokens[i].HasScope(scope) {
			return true
		}
	}
	return false
}
