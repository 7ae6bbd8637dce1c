// Package closure computes the taint reaching a value: the join of its
// own labels with every ancestor reachable through dependency edges.
package closure

import (
	"errors"
	"fmt"

	"github.com/zamburak/zamburak/internal/graph"
	"github.com/zamburak/zamburak/internal/label"
)

// ErrBudgetExceeded is returned when a closure traversal would visit more
// nodes than max_closure_steps permits. Callers must treat this as the
// worst-case label, never as "no taint found" — a resource-exhaustion
// attack must not be interpretable as clean.
var ErrBudgetExceeded = errors.New("closure: max_closure_steps budget exceeded")

// ErrUnknownValue is returned when the requested value does not exist.
var ErrUnknownValue = errors.New("closure: unknown value")

// LabelClosure is the joined label over a value and all its ancestors.
type LabelClosure struct {
	Integrity       label.Integrity
	Confidentiality label.Confidentiality
}

// Engine computes label closures against one value graph. Memoisation is
// scoped to a single evaluation call: the graph may grow between calls,
// so cached closures are discarded by creating a fresh Engine per
// evaluation (see NewForEvaluation).
type Engine struct {
	graph    *graph.Graph
	maxSteps int
	memo     map[graph.ValueID]LabelClosure
}

// NewForEvaluation creates a closure engine for one evaluation call.
func NewForEvaluation(g *graph.Graph, maxSteps int) *Engine {
	return &Engine{
		graph:    g,
		maxSteps: maxSteps,
		memo:     make(map[graph.ValueID]LabelClosure),
	}
}

// ClosureOf traverses parent edges breadth-first from id, joining labels
// at each visited node. The step budget is checked before every visit,
// not just at the end, so an oversized ancestry fails fast.
func (e *Engine) ClosureOf(id graph.ValueID) (LabelClosure, error) {
	if cached, ok := e.memo[id]; ok {
		return cached, nil
	}
	if e.maxSteps < 1 {
		return LabelClosure{}, ErrBudgetExceeded
	}

	start, ok := e.graph.Get(id)
	if !ok {
		return LabelClosure{}, fmt.Errorf("%w: %d", ErrUnknownValue, id)
	}

	result := LabelClosure{
		Integrity:       start.Integrity,
		Confidentiality: start.Confidentiality,
	}

	visited := map[graph.ValueID]bool{id: true}
	queue := append([]graph.ValueID(nil), start.Parents...)
	steps := 1 // the root counts as a visited node

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}

		if steps >= e.maxSteps {
			return LabelClosure{}, ErrBudgetExceeded
		}
		steps++
		visited[next] = true

		v, ok := e.graph.Get(next)
		if !ok {
			// Parents are validated at insertion; a missing ancestor means
			// the graph was reset mid-evaluation. Fail closed.
			return LabelClosure{}, fmt.Errorf("%w: ancestor %d", ErrUnknownValue, next)
		}

		result.Integrity = result.Integrity.Join(v.Integrity)
		result.Confidentiality = result.Confidentiality.Join(v.Confidentiality)
		queue = append(queue, v.Parents...)
	}

	e.memo[id] = result
	return result, nil
}
