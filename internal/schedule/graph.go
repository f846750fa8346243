// Package schedule compiles task trees into execution graphs and selects the
// best path through them.
package schedule

import (
	"fmt"
	"io"
	"strings"

	"mas_sched/internal/taems"
)

type MethodTransition struct {
	Source      *taems.Method
	Destination *taems.Method
}

func (t MethodTransition) Label() string {
	return t.Source.String() + "->" + t.Destination.String()
}

// Graph is the DAG of every feasible execution order produced by one compilation.
type Graph struct {
	Methods     []*taems.Method
	Transitions []MethodTransition

	seen map[int]struct{}
}

func NewGraph() *Graph {
	return &Graph{seen: make(map[int]struct{})}
}

func (g *Graph) AddNode(m *taems.Method) {
	if g.seen == nil {
		g.seen = make(map[int]struct{})
	}
	if _, ok := g.seen[m.Index]; ok {
		return
	}
	g.seen[m.Index] = struct{}{}
	g.Methods = append(g.Methods, m)
}

func (g *Graph) AddEdge(from, to *taems.Method) {
	g.AddNode(from)
	g.AddNode(to)
	g.Transitions = append(g.Transitions, MethodTransition{Source: from, Destination: to})
}

// Successors indexes transitions by source method index.
func (g *Graph) Successors() map[int][]*taems.Method {
	out := make(map[int][]*taems.Method, len(g.Methods))
	for _, tr := range g.Transitions {
		out[tr.Source.Index] = append(out[tr.Source.Index], tr.Destination)
	}
	return out
}

// WriteDOT renders the graph in Graphviz dot syntax.
func (g *Graph) WriteDOT(w io.Writer, name string) error {
	if name == "" {
		name = "schedule"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %q {\n", name)
	sb.WriteString("  rankdir=LR;\n  size=\"8,5\";\n  node [shape=circle];\n")
	for _, m := range g.Methods {
		shape := "circle"
		if m.IsSentinel() {
			shape = "doublecircle"
		}
		fmt.Fprintf(&sb, "  n%d [label=%q shape=%s];\n", m.Index, m.Label, shape)
	}
	for _, tr := range g.Transitions {
		fmt.Fprintf(&sb, "  n%d -> n%d;\n", tr.Source.Index, tr.Destination.Index)
	}
	sb.WriteString("}\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
