package depgraph

import "sync"

// Graph is the dependency graph of one formula set. Edges point from a
// dependency to the formula that references it. All methods are safe for
// concurrent use; after Build the graph is only read.
type Graph struct {
	// mutex protects the node map while the graph is being built.
	mutex sync.RWMutex
	// nodes stores every variable, keyed by name.
	nodes map[string]*node
	// formulas keeps formula-defined names in declaration order.
	formulas []string
}

// node is a single variable in the graph. It is un-exported so that callers
// go through the name-based API.
type node struct {
	id string
	// formula is true when a formula defines this variable; false for leaves
	// that are only referenced (base data, overlay data or undefined names).
	formula bool
	// deps holds the variables this node references.
	deps map[string]*node
	// depOrder keeps deps in reference order for deterministic traversal.
	depOrder []string
	// dependents holds the variables referencing this node.
	dependents map[string]*node
}

// Edge is a directed dependency edge: To references From.
type Edge struct {
	From string
	To   string
}
