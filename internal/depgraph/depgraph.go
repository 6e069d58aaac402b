// Package depgraph builds the dependency graph of a formula set: one node per
// variable, and an edge from every referenced variable to the formula that
// references it.
//
// The graph is built once, before resolution, and never mutated afterwards.
// Self references are dropped at build time so that `x1 = x1 + 1` does not
// turn into a trivial cycle; cycles spanning several formulas are kept and
// can be enumerated with Cycles.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/vk/formulagrid/internal/formula"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// Build constructs the graph for the given formulas, in declaration order.
func Build(formulas []*formula.Formula) *Graph {
	g := New()
	for _, f := range formulas {
		g.AddFormula(f.Name)
	}
	for _, f := range formulas {
		for _, ref := range f.Refs {
			if ref == f.Name {
				continue
			}
			g.AddNode(ref)
			// both nodes exist and are distinct, AddEdge cannot fail here
			_ = g.AddEdge(ref, f.Name)
		}
	}
	return g
}

// AddNode adds a leaf node with the given ID. If a node with the same ID
// already exists, the function does nothing.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.addNode(id)
}

// AddFormula adds a node for a formula-defined variable, or marks an existing
// leaf as formula-defined.
func (g *Graph) AddFormula(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	n := g.addNode(id)
	if !n.formula {
		n.formula = true
		g.formulas = append(g.formulas, id)
	}
}

func (g *Graph) addNode(id string) *node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &node{
		id:         id,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
	g.nodes[id] = n
	return n
}

// AddEdge creates a directed edge from the `fromID` node to the `toID` node.
// This signifies that `toID` references `fromID`. An error is returned if
// either node does not exist or if the edge would create a self-reference.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}
	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	if _, exists := toNode.deps[fromID]; !exists {
		toNode.deps[fromID] = fromNode
		toNode.depOrder = append(toNode.depOrder, fromID)
	}
	fromNode.dependents[toID] = toNode
	return nil
}

// Has reports whether the graph knows the variable.
func (g *Graph) Has(id string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// IsFormula reports whether id is defined by a formula.
func (g *Graph) IsFormula(id string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	n, ok := g.nodes[id]
	return ok && n.formula
}

// Dependencies returns the variables id directly references, in reference
// order.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return append([]string(nil), n.depOrder...), nil
}

// Dependents returns the variables that directly reference id, sorted.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedKeys(n.dependents), nil
}

// Formulas returns the formula-defined variables in declaration order.
func (g *Graph) Formulas() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return append([]string(nil), g.formulas...)
}

// Leaves returns the referenced variables that no formula defines, sorted.
func (g *Graph) Leaves() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var leaves []string
	for id, n := range g.nodes {
		if !n.formula {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// Nodes returns every variable in the graph, sorted.
func (g *Graph) Nodes() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return sortedKeys(g.nodes)
}

// Edges returns every dependency edge, sorted by destination then source.
func (g *Graph) Edges() []Edge {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var edges []Edge
	for _, id := range sortedKeys(g.nodes) {
		for _, dep := range sortedKeys(g.nodes[id].deps) {
			edges = append(edges, Edge{From: dep, To: id})
		}
	}
	return edges
}

func sortedKeys(m map[string]*node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
