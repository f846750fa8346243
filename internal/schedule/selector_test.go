package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mas_sched/internal/taems"
)

func labels(s *Schedule) []string {
	out := make([]string, 0, s.Len())
	for _, el := range s.Items {
		out = append(out, el.Method.Label)
	}
	return out
}

func TestSelectVisitsUnorderedMethodsByDistance(t *testing.T) {
	a := taems.NewArena()
	root := taems.NewTask("all", taems.SumAllQAF, leaves(
		method(a, "M1", 8, 1, 1, 0),
		method(a, "M2", 10, 1, 2, 0),
		method(a, "M3", 12, 1, 3, 0),
	)...)
	c := NewCompiler(a).Compile(root, taems.Position{})

	s, ok := NewSelector().Select(c)
	require.True(t, ok)
	assert.Equal(t, []string{"M1", "M2", "M3"}, labels(s))
	assert.Equal(t, 27.0, s.TotalQuality)

	var sum float64
	for _, el := range s.Items {
		sum += el.Quality
		assert.Equal(t, ElementPending, el.Status)
	}
	assert.Equal(t, s.TotalQuality, sum)
}

func TestSelectExactlyOnePicksBestChild(t *testing.T) {
	a := taems.NewArena()
	root := taems.NewTask("one", taems.ExactlyOneQAF, leaves(
		method(a, "X", 10, 0, 10, 0),
		method(a, "Y", 70, 0, 10, 0),
		method(a, "Z", 30, 0, 10, 0),
	)...)
	c := NewCompiler(a).Compile(root, taems.Position{})

	s, ok := NewSelector().Select(c)
	require.True(t, ok)
	assert.Equal(t, []string{"Y"}, labels(s))
	assert.Equal(t, 60.0, s.TotalQuality)
}

func TestSelectSkipsDeadlineBreach(t *testing.T) {
	a := taems.NewArena()
	urgent := a.NewMethod("urgent", taems.Outcome{Quality: 5, Duration: 3}, taems.Position{}, 5)
	slow := method(a, "slow", 100, 4, 0, 0)
	root := taems.NewTask("all", taems.SumAllQAF, taems.MethodNode(slow), taems.MethodNode(urgent))
	c := NewCompiler(a).Compile(root, taems.Position{})

	s, ok := NewSelector().Select(c)
	require.True(t, ok)
	assert.Equal(t, []string{"urgent", "slow"}, labels(s))
	assert.Equal(t, 105.0, s.TotalQuality)
}

func TestSelectReportsInfeasible(t *testing.T) {
	a := taems.NewArena()
	late := a.NewMethod("late", taems.Outcome{Quality: 5, Duration: 10}, taems.Position{}, 3)
	root := taems.NewTask("seq", taems.SeqSumQAF, taems.MethodNode(late))
	c := NewCompiler(a).Compile(root, taems.Position{})

	s, ok := NewSelector().Select(c)
	assert.False(t, ok)
	assert.Nil(t, s)
}

func TestSelectRejectsQualityAboveCap(t *testing.T) {
	a := taems.NewArena()
	root := taems.NewTask("one", taems.ExactlyOneQAF, leaves(
		method(a, "bogus", 50000, 0, 0, 0),
		method(a, "real", 20, 0, 0, 0),
	)...)
	c := NewCompiler(a).Compile(root, taems.Position{})

	s, ok := NewSelector().Select(c)
	require.True(t, ok)
	assert.Equal(t, []string{"real"}, labels(s))
}

func TestSelectDoesNotStopAtFirstEndArrival(t *testing.T) {
	a := taems.NewArena()
	// quick pays off early but the far chain accumulates more.
	quick := method(a, "quick", 30, 0, 0, 0)
	far1 := method(a, "far1", 10, 0, 0, 0)
	far2 := method(a, "far2", 40, 0, 0, 0)
	chain := taems.NewTask("chain", taems.SeqSumQAF, taems.MethodNode(far1), taems.MethodNode(far2))
	root := taems.NewTask("one", taems.ExactlyOneQAF, taems.MethodNode(quick), taems.TaskNode(chain))
	c := NewCompiler(a).Compile(root, taems.Position{})

	s, ok := NewSelector().Select(c)
	require.True(t, ok)
	assert.Equal(t, []string{"far1", "far2"}, labels(s))
	assert.Equal(t, 50.0, s.TotalQuality)
}

func TestSelectLeavesMethodsUntouched(t *testing.T) {
	a := taems.NewArena()
	m := method(a, "A", 10, 1, 3, 4)
	root := taems.NewTask("seq", taems.SeqSumQAF, taems.MethodNode(m))
	c := NewCompiler(a).Compile(root, taems.Position{})

	s, ok := NewSelector().Select(c)
	require.True(t, ok)
	assert.Equal(t, 5.0, s.TotalQuality)
	assert.Equal(t, 10.0, m.Outcome.Quality)
	assert.Equal(t, 10.0, s.Items[0].Method.Outcome.Quality)
}

func TestMergeKeepsActiveElement(t *testing.T) {
	a := taems.NewArena()
	m1 := method(a, "M1", 5, 0, 0, 0)
	m2 := method(a, "M2", 5, 0, 0, 0)
	live := &Schedule{Items: []*Element{
		{Method: a.Clone(m1), Quality: 5, Status: ElementActive},
		{Method: a.Clone(m2), Quality: 5, Status: ElementPending},
	}, TotalQuality: 10}

	m3 := method(a, "M3", 7, 0, 0, 0)
	next := &Schedule{Items: []*Element{
		{Method: a.Clone(m3), Quality: 7, Status: ElementPending},
		{Method: a.Clone(m1), Quality: 5, Status: ElementPending},
		{Method: a.Clone(m2), Quality: 5, Status: ElementPending},
	}, TotalQuality: 17}

	active := live.Items[0]
	live.Merge(next)

	require.Equal(t, 3, live.Len())
	assert.Same(t, active, live.Items[0])
	assert.Equal(t, []string{"M1", "M3", "M2"}, labels(live))
	assert.Equal(t, 17.0, live.TotalQuality)
	assert.Same(t, live.Items[1], live.Next())
}
