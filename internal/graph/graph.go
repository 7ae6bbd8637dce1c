// Package graph tracks runtime values and the dependency edges between
// them. The graph is append-only: values are immutable once created, and
// parent references always point at already-existing values, so the
// dependency relation is acyclic by construction.
package graph

import (
	"fmt"
	"sync"

	"github.com/zamburak/zamburak/internal/label"
)

// ValueID identifies a value within one execution. IDs increase
// monotonically from 1 and are never reused before a graph reset.
type ValueID uint64

// Value is one tracked runtime value: its own labels plus the ordered
// list of values it was derived from. Content is never stored here.
type Value struct {
	ID              ValueID
	Integrity       label.Integrity
	Confidentiality label.Confidentiality
	// Parents lists dependency edges in creation order.
	Parents []ValueID
	// Op is the operation kind that materialized the value (for witness
	// traces only). Optional.
	Op string
}

// Budgets caps graph growth. Zero-valued limits reject everything, so a
// caller must always pass explicit policy budgets.
type Budgets struct {
	MaxValues          int
	MaxParentsPerValue int
}

// VerifierFunc attests a value and returns the verifier tag to mint into
// its integrity label. Only host-registered verifiers may produce
// Verified labels; no policy-evaluated path can reach MintVerified
// without one.
type VerifierFunc func(id ValueID) (tag string, ok bool)

// Graph is the append-only value store for one execution. A single
// writer (the host) appends values; concurrent readers are safe because
// written values never mutate.
type Graph struct {
	mu       sync.RWMutex
	values   map[ValueID]*Value
	nextID   ValueID
	budgets  Budgets
	verifier VerifierFunc
}

// New creates an empty graph with the given budgets.
func New(budgets Budgets) *Graph {
	return &Graph{
		values:  make(map[ValueID]*Value),
		nextID:  1,
		budgets: budgets,
	}
}

// RegisterVerifier installs the host's verifier function. At most one
// verifier exists per execution; re-registration replaces it.
func (g *Graph) RegisterVerifier(fn VerifierFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifier = fn
}

// Add appends a value with the given own labels and parent edges.
// It fails when the value budget is exhausted, the parent list exceeds
// its cap, or a parent does not exist yet. Parents must precede children,
// which is what keeps the graph a DAG without any traversal.
func (g *Graph) Add(integrity label.Integrity, conf label.Confidentiality, parents []ValueID, op string) (ValueID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.values) >= g.budgets.MaxValues {
		return 0, fmt.Errorf("graph: max_values budget (%d) exhausted", g.budgets.MaxValues)
	}
	if len(parents) > g.budgets.MaxParentsPerValue {
		return 0, fmt.Errorf("graph: %d parents exceeds max_parents_per_value budget (%d)",
			len(parents), g.budgets.MaxParentsPerValue)
	}
	for _, p := range parents {
		if _, ok := g.values[p]; !ok {
			return 0, fmt.Errorf("graph: parent value %d does not exist", p)
		}
	}

	id := g.nextID
	g.nextID++
	g.values[id] = &Value{
		ID:              id,
		Integrity:       integrity,
		Confidentiality: conf,
		Parents:         append([]ValueID(nil), parents...),
		Op:              op,
	}
	return id, nil
}

// MintVerified creates a value with a Verified integrity label by running
// the registered verifier. Without a registered verifier, or when the
// verifier declines, minting fails and no value is created.
func (g *Graph) MintVerified(conf label.Confidentiality, parents []ValueID, op string) (ValueID, error) {
	g.mu.RLock()
	verifier := g.verifier
	g.mu.RUnlock()

	if verifier == nil {
		return 0, fmt.Errorf("graph: no verifier registered")
	}

	// The verifier attests the value that is about to exist; pass the
	// prospective ID so the attestation is stable under concurrent reads.
	g.mu.RLock()
	prospective := g.nextID
	g.mu.RUnlock()

	tag, ok := verifier(prospective)
	if !ok {
		return 0, fmt.Errorf("graph: verifier declined attestation")
	}
	return g.Add(label.Verified(tag), conf, parents, op)
}

// Get returns the value for an ID, or false when it does not exist.
func (g *Graph) Get(id ValueID) (*Value, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.values[id]
	return v, ok
}

// Len returns the number of values created so far.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.values)
}

// Reset discards all values and restarts IDs from 1. Only valid at
// execution end; IDs must never be reused mid-execution.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values = make(map[ValueID]*Value)
	g.nextID = 1
}
