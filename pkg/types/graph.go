// Package types provides shared types for the flowpulse service.
package types

// DefaultEdgeDurationSeconds is used when an edge carries no duration.
const DefaultEdgeDurationSeconds = 2.0

// Node is a vertex in a dataflow graph. The simulation engine only cares
// about identity and adjacency; the label exists for the editing UI.
type Node struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// Edge is a directed connection between two nodes. DurationSeconds is the
// simulated time a flow takes to traverse the edge; values <= 0 fall back to
// DefaultEdgeDurationSeconds. Condition is an optional expression gating
// whether the edge participates in a wave (empty means always).
type Edge struct {
	ID              string  `json:"id"`
	Source          string  `json:"source"`
	Target          string  `json:"target"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	Condition       string  `json:"condition,omitempty"`
}

// Duration returns the effective traversal duration in seconds.
func (e *Edge) Duration() float64 {
	if e.DurationSeconds > 0 {
		return e.DurationSeconds
	}
	return DefaultEdgeDurationSeconds
}

// Graph is a wholesale snapshot of a diagram's nodes and edges. Snapshots
// are always replaced, never merged; the engine operates on the most
// recently supplied one.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Roots returns the ids of nodes with no incoming edge, in node order.
// If the graph has no roots (e.g. a pure cycle), the first node in snapshot
// order is returned so a looping simulation can always restart. An empty
// graph yields an empty set.
func (g *Graph) Roots() []string {
	hasIncoming := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		hasIncoming[e.Target] = true
	}

	var roots []string
	for _, n := range g.Nodes {
		if !hasIncoming[n.ID] {
			roots = append(roots, n.ID)
		}
	}
	if len(roots) == 0 && len(g.Nodes) > 0 {
		roots = []string{g.Nodes[0].ID}
	}
	return roots
}
