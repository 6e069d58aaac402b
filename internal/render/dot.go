// Package render draws a dependency graph in Graphviz DOT format.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vk/formulagrid/internal/depgraph"
	"github.com/vk/formulagrid/internal/resolver"
)

// Options controls the rendering.
type Options struct {
	// Name is the graph name and label; "formulas" when empty.
	Name string
	// Result, if set, marks failed variables and data-supplied ones.
	Result *resolver.Result
}

// Dot renders g with one node per variable and an edge from each dependency
// to the formula referencing it. Formulas are boxes, leaves are ellipses.
// Output order is stable.
func Dot(g *depgraph.Graph, opts Options) string {
	name := opts.Name
	if name == "" {
		name = "formulas"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %s {\n", strconv.Quote(name))
	fmt.Fprintf(&sb, "\tlabel=%s;\n", strconv.Quote(name))
	sb.WriteString("\trankdir=LR;\n")

	for _, id := range g.Nodes() {
		attrs := []string{"label=" + strconv.Quote(id)}
		if g.IsFormula(id) {
			attrs = append(attrs, "shape=box")
		} else {
			attrs = append(attrs, "shape=ellipse")
		}
		attrs = append(attrs, resultAttrs(id, opts.Result)...)
		fmt.Fprintf(&sb, "\t%s [%s];\n", strconv.Quote(id), strings.Join(attrs, ","))
	}

	for _, e := range g.Edges() {
		fmt.Fprintf(&sb, "\t%s -> %s;\n", strconv.Quote(e.From), strconv.Quote(e.To))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func resultAttrs(id string, res *resolver.Result) []string {
	if res == nil {
		return nil
	}
	if err, failed := res.ErrorFor(id); failed {
		return []string{
			"color=red",
			"fontcolor=red",
			"tooltip=" + strconv.Quote(err.Kind.String()),
		}
	}
	switch res.Sources[id] {
	case resolver.SourceOverlay:
		return []string{"style=dashed", "tooltip=" + strconv.Quote("overlay")}
	case resolver.SourceBase:
		return []string{"tooltip=" + strconv.Quote("base")}
	default:
		return nil
	}
}
