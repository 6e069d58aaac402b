package depgraph

import (
	"fmt"
	"sort"
	"strings"
)

// Components returns the strongly connected components that contain more
// than one variable. Every variable in such a component lies on at least one
// cycle. Components are sorted by their smallest member, and members are
// sorted within each component.
func (g *Graph) Components() [][]string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	t := &tarjan{
		g:       g,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
	}
	for _, id := range sortedKeys(g.nodes) {
		if _, seen := t.index[id]; !seen {
			t.strongConnect(id)
		}
	}

	for _, c := range t.components {
		sort.Strings(c)
	}
	sort.Slice(t.components, func(i, j int) bool {
		return t.components[i][0] < t.components[j][0]
	})
	return t.components
}

// tarjan holds the bookkeeping of Tarjan's strongly connected components
// algorithm.
type tarjan struct {
	g          *Graph
	next       int
	index      map[string]int
	lowlink    map[string]int
	onStack    map[string]bool
	stack      []string
	components [][]string
}

func (t *tarjan) strongConnect(id string) {
	t.index[id] = t.next
	t.lowlink[id] = t.next
	t.next++
	t.stack = append(t.stack, id)
	t.onStack[id] = true

	for _, dep := range t.g.nodes[id].depOrder {
		if _, seen := t.index[dep]; !seen {
			t.strongConnect(dep)
			t.lowlink[id] = min(t.lowlink[id], t.lowlink[dep])
		} else if t.onStack[dep] {
			t.lowlink[id] = min(t.lowlink[id], t.index[dep])
		}
	}

	if t.lowlink[id] != t.index[id] {
		return
	}

	var component []string
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[top] = false
		component = append(component, top)
		if top == id {
			break
		}
	}
	// self references are never added, so singletons are acyclic
	if len(component) > 1 {
		t.components = append(t.components, component)
	}
}

// CycleThrough returns a shortest closed reference path starting and ending
// at id, such as [a b a] for "a references b, b references a". It returns
// nil when id is not on a cycle.
func (g *Graph) CycleThrough(id string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	start, ok := g.nodes[id]
	if !ok {
		return nil
	}

	// breadth-first search along dependency edges back to id
	parent := make(map[string]string)
	queue := []string{}
	for _, dep := range start.depOrder {
		if _, seen := parent[dep]; !seen {
			parent[dep] = id
			queue = append(queue, dep)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == id {
			return unwind(parent, id)
		}
		for _, dep := range g.nodes[cur].depOrder {
			if _, seen := parent[dep]; !seen {
				parent[dep] = cur
				queue = append(queue, dep)
			}
		}
	}
	return nil
}

// unwind rebuilds the path id -> ... -> id from BFS parent links.
func unwind(parent map[string]string, id string) []string {
	path := []string{id}
	for cur := parent[id]; cur != id; cur = parent[cur] {
		path = append(path, cur)
	}
	path = append(path, id)
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Cycles returns one closed path per strongly connected component, starting
// at the component's smallest member.
func (g *Graph) Cycles() [][]string {
	var cycles [][]string
	for _, component := range g.Components() {
		if path := g.CycleThrough(component[0]); path != nil {
			cycles = append(cycles, path)
		}
	}
	return cycles
}

// DetectCycles returns an error describing the first cycle found, or nil if
// the graph is acyclic.
func (g *Graph) DetectCycles() error {
	cycles := g.Cycles()
	if len(cycles) == 0 {
		return nil
	}
	return fmt.Errorf("cycle detected: %s", strings.Join(cycles[0], " -> "))
}

// TopologicalOrder returns the variables such that every variable comes after
// everything it references. Variables on or behind a cycle cannot be ordered
// and are returned separately, sorted.
func (g *Graph) TopologicalOrder() (order []string, unordered []string) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	remaining := make(map[string]int, len(g.nodes))
	var ready []string
	for id, n := range g.nodes {
		remaining[id] = len(n.deps)
		if len(n.deps) == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var unlocked []string
		for dependent := range g.nodes[id].dependents {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}

	for id, n := range remaining {
		if n > 0 {
			unordered = append(unordered, id)
		}
	}
	sort.Strings(unordered)
	return order, unordered
}
