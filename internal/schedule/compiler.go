package schedule

import (
	"mas_sched/internal/taems"
)

// Compilation is one compiled graph together with its sentinels.
type Compilation struct {
	Graph *Graph
	Start *taems.Method
	End   *taems.Method
}

// Compiler expands task trees into execution graphs. Clones are allocated
// from the shared arena so their indices never collide with tree methods.
type Compiler struct {
	arena *taems.Arena
}

func NewCompiler(arena *taems.Arena) *Compiler {
	if arena == nil {
		arena = taems.NewArena()
	}
	return &Compiler{arena: arena}
}

// Compile builds the graph of every feasible execution order of root, starting
// and ending at origin.
func (c *Compiler) Compile(root *taems.Task, origin taems.Position) *Compilation {
	g := NewGraph()
	start := taems.NewStart(origin)
	end := taems.NewEnd(origin)
	g.AddNode(start)

	frontier := []*taems.Method{start}
	if root != nil {
		frontier = c.appendRoutes(g, taems.TaskNode(root), frontier, true)
	}
	for _, m := range frontier {
		g.AddEdge(m, end)
	}
	return &Compilation{Graph: g, Start: start, End: end}
}

// appendRoutes links node after every method in frontier and returns the new
// frontier. With unique set, every method leaf is cloned per predecessor so
// that branches never share a vertex.
func (c *Compiler) appendRoutes(g *Graph, node taems.Node, frontier []*taems.Method, unique bool) []*taems.Method {
	var out []*taems.Method
	for _, last := range frontier {
		switch node.Kind {
		case taems.KindMethod:
			m := node.Method
			if unique {
				m = c.arena.Clone(m)
			}
			g.AddEdge(last, m)
			out = appendUnique(out, m)

		case taems.KindTask:
			children := node.Task.Children()
			if len(children) == 0 {
				out = appendUnique(out, last)
				continue
			}
			local := []*taems.Method{last}
			switch node.Task.QAF {
			case taems.SeqSumQAF:
				for _, child := range children {
					local = c.appendRoutes(g, child, local, true)
				}
				out = appendUnique(out, local...)

			case taems.SumAllQAF:
				for _, order := range permutations(children) {
					chain := local
					for _, child := range order {
						chain = c.appendRoutes(g, child, chain, true)
					}
					out = appendUnique(out, chain...)
				}

			case taems.ExactlyOneQAF:
				for _, child := range children {
					out = appendUnique(out, c.appendRoutes(g, child, local, unique)...)
				}

			default:
				out = appendUnique(out, last)
			}
		}
	}
	return out
}

// permutations enumerates every ordering of nodes. The count is n!, so wide
// unordered tasks get expensive quickly.
func permutations(nodes []taems.Node) [][]taems.Node {
	work := append([]taems.Node(nil), nodes...)
	var out [][]taems.Node
	var permute func(k int)
	permute = func(k int) {
		if k == len(work) {
			out = append(out, append([]taems.Node(nil), work...))
			return
		}
		for i := k; i < len(work); i++ {
			work[k], work[i] = work[i], work[k]
			permute(k + 1)
			work[k], work[i] = work[i], work[k]
		}
	}
	permute(0)
	return out
}

func appendUnique(dst []*taems.Method, ms ...*taems.Method) []*taems.Method {
	for _, m := range ms {
		dup := false
		for _, d := range dst {
			if d == m {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, m)
		}
	}
	return dst
}
