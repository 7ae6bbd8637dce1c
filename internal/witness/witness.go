// Package witness renders redacted provenance traces justifying non-Allow
// decisions. A witness references values by ID and label names only —
// never raw content — so it is safe to show a human reviewer or persist
// in audit output.
package witness

import (
	"github.com/zamburak/zamburak/internal/graph"
)

// Node is one value reference in a witness tree.
type Node struct {
	ValueID   graph.ValueID `json:"value_id"`
	Integrity string        `json:"integrity"`
	// ConfidentialityTags lists tag names only; underlying values never
	// appear in a witness.
	ConfidentialityTags []string `json:"confidentiality_tags,omitempty"`
	Op                  string   `json:"op,omitempty"`
	Parents             []Node   `json:"parents,omitempty"`
	// Truncated marks nodes whose ancestry was cut by the witness-depth
	// budget, so a reviewer can distinguish "fully traced" from
	// "truncated for budget reasons".
	Truncated bool `json:"truncated,omitempty"`
}

// Witness is the provenance trace attached to a denial or confirmation.
type Witness struct {
	Roots []Node `json:"roots"`
	// MaxDepth is the depth budget the trace was built under.
	MaxDepth int `json:"max_depth"`
}

// Build traces the given values through the graph up to maxDepth levels.
// Value IDs that do not resolve are skipped rather than failing: the
// witness is diagnostic output and must never block a decision that has
// already been made.
func Build(g *graph.Graph, valueIDs []graph.ValueID, maxDepth int) *Witness {
	w := &Witness{MaxDepth: maxDepth}
	for _, id := range valueIDs {
		if node, ok := buildNode(g, id, maxDepth); ok {
			w.Roots = append(w.Roots, node)
		}
	}
	return w
}

func buildNode(g *graph.Graph, id graph.ValueID, depth int) (Node, bool) {
	v, ok := g.Get(id)
	if !ok {
		return Node{}, false
	}

	node := Node{
		ValueID:             v.ID,
		Integrity:           v.Integrity.String(),
		ConfidentialityTags: v.Confidentiality.Tags(),
		Op:                  v.Op,
	}

	if len(v.Parents) == 0 {
		return node, true
	}
	if depth <= 1 {
		node.Truncated = true
		return node, true
	}
	for _, p := range v.Parents {
		if child, ok := buildNode(g, p, depth-1); ok {
			node.Parents = append(node.Parents, child)
		}
	}
	return node, true
}
