package schedule

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mas_sched/internal/taems"
)

func method(a *taems.Arena, label string, quality, duration, x, y float64) *taems.Method {
	return a.NewMethod(label, taems.Outcome{Quality: quality, Duration: duration}, taems.Position{X: x, Y: y}, 0)
}

func leaves(ms ...*taems.Method) []taems.Node {
	out := make([]taems.Node, 0, len(ms))
	for _, m := range ms {
		out = append(out, taems.MethodNode(m))
	}
	return out
}

// routes lists every start-to-end label sequence in the graph.
func routes(c *Compilation) []string {
	succ := c.Graph.Successors()
	var out []string
	var walk func(m *taems.Method, trail []string)
	walk = func(m *taems.Method, trail []string) {
		if m.Index == c.End.Index {
			out = append(out, strings.Join(trail, ","))
			return
		}
		for _, next := range succ[m.Index] {
			if next.IsSentinel() {
				walk(next, trail)
				continue
			}
			walk(next, append(append([]string(nil), trail...), next.Label))
		}
	}
	walk(c.Start, nil)
	sort.Strings(out)
	return out
}

func TestCompileSequentialKeepsOrder(t *testing.T) {
	a := taems.NewArena()
	root := taems.NewTask("seq", taems.SeqSumQAF, leaves(
		method(a, "A", 1, 1, 1, 0),
		method(a, "B", 1, 1, 2, 0),
		method(a, "C", 1, 1, 3, 0),
	)...)

	c := NewCompiler(a).Compile(root, taems.Position{})

	assert.Equal(t, []string{"A,B,C"}, routes(c))
	assert.Len(t, c.Graph.Methods, 5)
	assert.Len(t, c.Graph.Transitions, 4)
}

func TestCompileUnorderedEnumeratesPermutations(t *testing.T) {
	a := taems.NewArena()
	root := taems.NewTask("all", taems.SumAllQAF, leaves(
		method(a, "A", 1, 1, 1, 0),
		method(a, "B", 1, 1, 2, 0),
		method(a, "C", 1, 1, 3, 0),
	)...)

	c := NewCompiler(a).Compile(root, taems.Position{})

	assert.Equal(t, []string{"A,B,C", "A,C,B", "B,A,C", "B,C,A", "C,A,B", "C,B,A"}, routes(c))
	assert.Len(t, c.Graph.Methods, 2+6*3)
	assert.Len(t, c.Graph.Transitions, 6*3+6)
}

func TestCompileExactlyOneBranches(t *testing.T) {
	a := taems.NewArena()
	root := taems.NewTask("one", taems.ExactlyOneQAF, leaves(
		method(a, "X", 1, 1, 1, 0),
		method(a, "Y", 1, 1, 2, 0),
	)...)

	c := NewCompiler(a).Compile(root, taems.Position{})

	assert.Equal(t, []string{"X", "Y"}, routes(c))
}

func TestCompileAlternativesInsidePermutationsStaySeparate(t *testing.T) {
	a := taems.NewArena()
	one := taems.NewTask("pick", taems.ExactlyOneQAF, leaves(
		method(a, "X", 1, 1, 1, 0),
		method(a, "Y", 1, 1, 2, 0),
	)...)
	root := taems.NewTask("all", taems.SumAllQAF, taems.MethodNode(method(a, "M", 1, 1, 3, 0)), taems.TaskNode(one))

	c := NewCompiler(a).Compile(root, taems.Position{})

	assert.Equal(t, []string{"M,X", "M,Y", "X,M", "Y,M"}, routes(c))
	xs := 0
	for _, m := range c.Graph.Methods {
		if m.Label == "X" {
			xs++
		}
	}
	assert.Equal(t, 2, xs, "each permutation gets its own copy of the alternative")
	// M then X or Y: three clones. X or Y then M: two alternatives, M cloned after each.
	assert.Len(t, c.Graph.Methods, 2+3+4)
}

func TestCompileNestedTree(t *testing.T) {
	a := taems.NewArena()
	sumAll := taems.NewTask("Task2", taems.SumAllQAF, leaves(
		method(a, "M1", 8, 5, 100, 100),
		method(a, "M2", 10, 10, 200, 100),
	)...)
	one := taems.NewTask("Task1", taems.ExactlyOneQAF, leaves(
		method(a, "M4", 10, 0, 400, 50),
		method(a, "M5", 70, 0, 400, 150),
	)...)
	root := taems.NewTask("TaskTree", taems.SeqSumQAF, taems.TaskNode(sumAll), taems.TaskNode(one))

	c := NewCompiler(a).Compile(root, taems.Position{X: 40, Y: 100})

	assert.Equal(t, []string{"M1,M2,M4", "M1,M2,M5", "M2,M1,M4", "M2,M1,M5"}, routes(c))
}

func TestCompileEmptyChildrenLeavesFrontier(t *testing.T) {
	a := taems.NewArena()
	root := taems.NewTask("seq", taems.SeqSumQAF,
		taems.TaskNode(taems.NewTask("empty", taems.SumAllQAF)),
		taems.MethodNode(method(a, "A", 1, 1, 1, 0)),
	)

	c := NewCompiler(a).Compile(root, taems.Position{})
	assert.Equal(t, []string{"A"}, routes(c))

	empty := NewCompiler(a).Compile(taems.NewTask("nothing", taems.SeqSumQAF), taems.Position{})
	require.Len(t, empty.Graph.Transitions, 1)
	assert.Equal(t, empty.Start, empty.Graph.Transitions[0].Source)
}

func TestCompileTwiceUsesFreshClones(t *testing.T) {
	a := taems.NewArena()
	root := taems.NewTask("all", taems.SumAllQAF, leaves(
		method(a, "A", 1, 1, 1, 0),
		method(a, "B", 1, 1, 2, 0),
	)...)
	comp := NewCompiler(a)

	first := comp.Compile(root, taems.Position{})
	second := comp.Compile(root, taems.Position{})

	assert.Equal(t, routes(first), routes(second))
	assert.Equal(t, len(first.Graph.Transitions), len(second.Graph.Transitions))

	seen := map[int]bool{}
	for _, m := range first.Graph.Methods {
		if !m.IsSentinel() {
			seen[m.Index] = true
		}
	}
	for _, m := range second.Graph.Methods {
		if m.IsSentinel() {
			continue
		}
		assert.False(t, seen[m.Index], "index %d reused across compilations", m.Index)
		assert.NotZero(t, m.Origin)
	}
	for _, m := range root.Methods() {
		assert.False(t, seen[m.Index], "tree method %s placed in graph", m.Label)
	}
}

func TestWriteDOT(t *testing.T) {
	a := taems.NewArena()
	root := taems.NewTask("seq", taems.SeqSumQAF, leaves(method(a, "A", 1, 1, 1, 0))...)
	c := NewCompiler(a).Compile(root, taems.Position{})

	var buf bytes.Buffer
	require.NoError(t, c.Graph.WriteDOT(&buf, "agent"))
	out := buf.String()
	assert.Contains(t, out, `digraph "agent" {`)
	assert.Contains(t, out, `label="Start"`)
	assert.Contains(t, out, "n1 -> n")
	assert.Equal(t, 2, strings.Count(out, "->"))
}
