// Package sink gates outbound tool dispatch. Checks run at three points:
// a pre-dispatch policy check before the host acts, a transport guard at
// the adapter boundary, and post-dispatch audit emission linked by
// execution and call IDs.
package sink

import (
	"fmt"

	"github.com/zamburak/zamburak/internal/audit"
	"github.com/zamburak/zamburak/internal/engine"
	"github.com/zamburak/zamburak/internal/policy"
)

// ReasonRedactionNotApplied denies a write-class call dispatched without
// the required redaction transforms.
const ReasonRedactionNotApplied engine.DenyReason = "RedactionNotApplied"

// CallPath classifies how a sink call was initiated.
type CallPath string

const (
	// PathPlanner marks trusted planner-originated calls.
	PathPlanner CallPath = "planner"
	// PathQuarantined marks calls transforming untrusted tool outputs.
	PathQuarantined CallPath = "quarantined"
)

// BlockedError is returned when a decision stops dispatch.
type BlockedError struct {
	Decision policy.Action
	Reason   engine.DenyReason
	Detail   string
}

func (e *BlockedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("sink: dispatch blocked (%s/%s): %s", e.Decision, e.Reason, e.Detail)
	}
	return fmt.Sprintf("sink: dispatch blocked (%s/%s)", e.Decision, e.Reason)
}

// Guard is the pre-dispatch gate: it evaluates a call, enforces the
// redaction contract for write-class tools, and emits the audit record.
type Guard struct {
	engine     *engine.Engine
	def        *policy.PolicyDefinition
	log        *audit.Log
	policyHash string
}

// NewGuard builds a guard. log may be nil when no audit sink is
// configured (tests, dry runs); decisions are unaffected.
func NewGuard(eng *engine.Engine, def *policy.PolicyDefinition, log *audit.Log, policyHash string) *Guard {
	return &Guard{engine: eng, def: def, log: log, policyHash: policyHash}
}

// PreDispatch evaluates one call and records the outcome. Returns the
// full result plus a BlockedError for every non-Allow decision, so a
// caller cannot act on a blocked call by ignoring the result.
func (g *Guard) PreDispatch(req engine.CallRequest, path CallPath) (engine.Result, error) {
	res := g.engine.Evaluate(req)

	// Write-class calls must not leave the process without redaction,
	// even when policy checks pass.
	writeClass := g.isWriteClass(req.Tool)
	if res.Decision == policy.Allow && writeClass && !req.RedactionApplied {
		res = engine.Result{
			Decision:            policy.Deny,
			Reason:              ReasonRedactionNotApplied,
			Detail:              fmt.Sprintf("write-class tool %q dispatched without redaction", req.Tool),
			ConfidentialityTags: res.ConfidentialityTags,
		}
	}

	if err := g.record(req, res, path, writeClass); err != nil {
		// An unauditable call must not dispatch.
		return engine.Result{
			Decision: policy.Deny,
			Reason:   engine.ReasonDefaultDeny,
			Detail:   fmt.Sprintf("audit record failed: %v", err),
		}, &BlockedError{Decision: policy.Deny, Reason: engine.ReasonDefaultDeny, Detail: err.Error()}
	}

	if res.Decision != policy.Allow {
		return res, &BlockedError{Decision: res.Decision, Reason: res.Reason, Detail: res.Detail}
	}
	return res, nil
}

func (g *Guard) isWriteClass(tool string) bool {
	rule, ok := g.def.Rule(tool)
	return ok && rule.SideEffectClass == policy.ExternalWrite
}

func (g *Guard) record(req engine.CallRequest, res engine.Result, path CallPath, writeClass bool) error {
	if g.log == nil {
		return nil
	}
	entry := audit.AuditEntry{
		ExecutionID:         req.ExecutionID,
		CallID:              req.CallID,
		Tool:                req.Tool,
		Decision:            string(res.Decision),
		Reason:              string(res.Reason),
		CallPath:            string(path),
		ConfidentialityTags: res.ConfidentialityTags,
		PolicyHash:          g.policyHash,
	}
	if writeClass {
		applied := req.RedactionApplied
		entry.RedactionApplied = &applied
	}
	return g.log.Record(entry)
}

// TransportCheck is the adapter-level guard input: it runs where the
// payload leaves the process, separately from the pre-dispatch check.
type TransportCheck struct {
	ExecutionID      string
	CallID           string
	RedactionApplied bool
}

// TransportOutcome is the adapter guard verdict.
type TransportOutcome string

const (
	TransportPassed  TransportOutcome = "Passed"
	TransportBlocked TransportOutcome = "Blocked"
)

// EvaluateTransportGuard blocks payload transmission when required
// redaction transforms were not applied.
func EvaluateTransportGuard(check TransportCheck) TransportOutcome {
	if check.RedactionApplied {
		return TransportPassed
	}
	return TransportBlocked
}
