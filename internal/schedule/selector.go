package schedule

import (
	"container/heap"
	"math"

	"mas_sched/internal/taems"
)

// DefaultHeuristicCap rejects edges whose quality is implausibly high.
const DefaultHeuristicCap = 40000

// Selector picks the highest-quality, deadline-feasible path through a
// compiled graph.
type Selector struct {
	HeuristicCap float64
}

func NewSelector() *Selector {
	return &Selector{HeuristicCap: DefaultHeuristicCap}
}

// vertex is the per-compilation search record. The quality memoized for the
// edge into a vertex lives here, never on the shared method.
type vertex struct {
	method   *taems.Method
	reached  bool
	quality  float64
	duration float64
	step     float64
	prev     *vertex
}

// Select returns the best schedule for c. ok is false when no path reaches
// the end sentinel.
func (s *Selector) Select(c *Compilation) (*Schedule, bool) {
	if c == nil || c.Graph == nil {
		return nil, false
	}
	succ := c.Graph.Successors()
	vertices := make(map[int]*vertex, len(c.Graph.Methods))
	lookup := func(m *taems.Method) *vertex {
		v, ok := vertices[m.Index]
		if !ok {
			v = &vertex{method: m}
			vertices[m.Index] = v
		}
		return v
	}

	src := lookup(c.Start)
	src.reached = true

	pq := &queue{}
	heap.Push(pq, &entry{v: src, dist: 0})

	for pq.Len() > 0 {
		e := heap.Pop(pq).(*entry)
		u := e.v
		if e.dist != -u.quality {
			continue
		}
		if u.method.Index == c.End.Index {
			continue
		}
		for _, m := range succ[u.method.Index] {
			step, duration := s.edgeCost(u, m, c.End)
			if math.IsInf(step, -1) {
				continue
			}
			v := lookup(m)
			cand := u.quality + step
			if v.reached && cand <= v.quality {
				continue
			}
			v.reached = true
			v.quality = cand
			v.duration = duration
			v.step = step
			v.prev = u
			heap.Push(pq, &entry{v: v, dist: -cand})
		}
	}

	end, ok := vertices[c.End.Index]
	if !ok || !end.reached {
		return nil, false
	}

	var path []*vertex
	for v := end; v != nil; v = v.prev {
		path = append(path, v)
	}
	out := &Schedule{}
	for i := len(path) - 1; i >= 0; i-- {
		v := path[i]
		if v.method.IsSentinel() {
			continue
		}
		out.Items = append(out.Items, &Element{Method: v.method, Quality: v.step, Status: ElementPending})
		out.TotalQuality += v.step
	}
	return out, true
}

// edgeCost returns the quality of moving from prev onto m and the accumulated
// duration after m. Infeasible edges cost -Inf.
func (s *Selector) edgeCost(prev *vertex, m, end *taems.Method) (float64, float64) {
	if m.Index == end.Index {
		return 0, prev.duration
	}
	travel := math.Round(prev.method.Position.Distance(m.Position))
	projected := prev.duration + m.Outcome.Duration
	if m.Deadline != 0 && projected > m.Deadline {
		return math.Inf(-1), projected
	}
	q := m.Outcome.Quality - travel
	if s.HeuristicCap > 0 && q > s.HeuristicCap {
		return math.Inf(-1), projected
	}
	return q, projected
}

type entry struct {
	v    *vertex
	dist float64
	seq  int
}

type queue struct {
	items []*entry
	seq   int
}

func (q *queue) Len() int { return len(q.items) }

func (q *queue) Less(i, j int) bool {
	if q.items[i].dist != q.items[j].dist {
		return q.items[i].dist < q.items[j].dist
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *queue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *queue) Push(x any) {
	e := x.(*entry)
	e.seq = q.seq
	q.seq++
	q.items = append(q.items, e)
}

func (q *queue) Pop() any {
	old := q.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return e
}
